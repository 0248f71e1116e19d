// Package domain defines the core domain models for sessionkeep.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Session: the process-wide session snapshot (status + user)
//   - Credentials / StoredTokens: the opaque access/refresh pair
//   - UserProfile: the profile object served by the identity endpoint
//   - Registration: a sign-up request
//   - Errors: the structured error taxonomy shared by every layer
package domain
