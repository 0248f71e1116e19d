// Package repl is the interactive sessionkeep shell.
//
// The shell owns one SessionController for its whole life, so a session
// recovered at start survives across commands and transitions are printed
// as they happen.
//
//   - repl.go: prompt loop and command dispatch
//   - completer.go: prefix completion and "did you mean" hints
//   - history.go: persisted command history
package repl
