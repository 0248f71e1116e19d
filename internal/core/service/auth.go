package service

import (
	"context"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
)

// AuthContext is the consumer view of a SessionController: plain values
// for rendering, and login/register results as a success flag plus the
// message to show.
type AuthContext struct {
	controller *SessionController
}

// NewAuthContext wraps c.
func NewAuthContext(c *SessionController) *AuthContext {
	return &AuthContext{controller: c}
}

// Controller returns the wrapped controller.
func (a *AuthContext) Controller() *SessionController {
	return a.controller
}

// IsAuthenticated reports whether a user is signed in.
func (a *AuthContext) IsAuthenticated() bool {
	return a.controller.IsAuthenticated()
}

// User returns the signed-in profile, or nil.
func (a *AuthContext) User() *domain.UserProfile {
	return a.controller.User()
}

// Status returns the current session status.
func (a *AuthContext) Status() domain.Status {
	return a.controller.Session().Status
}

// Loading is true until the first recovery completes and while an
// operation is in flight.
func (a *AuthContext) Loading() bool {
	return !a.controller.Recovered() || a.controller.Busy()
}

// Login signs in. On failure the message is suitable for display.
func (a *AuthContext) Login(ctx context.Context, username, password string) (bool, string) {
	if err := a.controller.Login(ctx, username, password); err != nil {
		return false, domain.UserMessage(err)
	}
	return true, ""
}

// Register creates an account without signing in. On failure the message
// names the rejected fields.
func (a *AuthContext) Register(ctx context.Context, username, email, password string) (bool, string) {
	reg := &domain.Registration{Username: username, Email: email, Password: password}
	if err := a.controller.Register(ctx, reg); err != nil {
		return false, domain.UserMessage(err)
	}
	return true, ""
}

// Logout signs out. It cannot fail.
func (a *AuthContext) Logout(ctx context.Context) {
	a.controller.Logout(ctx)
}
