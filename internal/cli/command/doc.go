// Package command defines the sessionkeep CLI using urfave/cli/v2.
//
//   - root.go: App, global flags, config bootstrap
//   - runtime.go: lazily wired identity client, token store and controller
//   - auth.go: login, logout, register, whoami
//   - repl.go: interactive shell
//   - config.go: config show, path, init
//   - version.go: build information
//
// Each invocation is a fresh process, so commands that read the session
// recover it from the token store first.
package command
