// Package token provides helpers for handling opaque bearer credentials.
//
// Access and refresh tokens are never written to logs. Fingerprint gives a
// short, stable identifier that lets two log lines be correlated without
// revealing the credential:
//
//   - Fingerprint: first 12 hex characters of the SHA-256 digest
//   - Equal: constant-time comparison of two credentials
//   - Generate: random Base64 RawURL strings, used for secrets and fixtures
package token
