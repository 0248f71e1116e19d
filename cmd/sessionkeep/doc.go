// Package main provides the entry point for sessionkeep.
//
// sessionkeep signs in to an identity service and keeps the session:
// tokens are stored locally, silently refreshed when the access token
// expires, and revoked on logout.
//
// Usage:
//
//	sessionkeep login alice
//	sessionkeep whoami -o json
//	sessionkeep repl
//	sessionkeep logout
package main
