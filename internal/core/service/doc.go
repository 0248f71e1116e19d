// Package service provides the session services for sessionkeep.
//
// Services orchestrate the domain models against two ports defined here,
// IdentityClient and TokenStore, so they can be driven by real adapters or
// by in-memory fakes.
//
// This package contains:
//
//   - SessionController: the single authority over the client session,
//     covering startup recovery, refresh, login, registration and logout
//   - AuthContext: the consumer view of the controller (status, user,
//     loading flag and login/register/logout returning display messages)
//
// SessionController is safe for concurrent use. Login and validation are
// serialized by an operation slot; Logout never waits for that slot and
// always wins over an operation still in flight.
package service
