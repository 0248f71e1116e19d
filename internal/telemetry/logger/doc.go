// Package logger provides structured logging for sessionkeep.
//
// It wraps log/slog with a process-wide dynamic level and a ReplaceAttr hook
// that keeps credentials out of log output:
//
//   - values that look like JWTs (eyJ...) are partially masked
//   - string attributes whose key names a secret (password, token,
//     refresh, access, bearer, ...) are fully redacted
//
// Use token.Fingerprint under the "fingerprint" key when two log lines
// need to be correlated by credential.
package logger
