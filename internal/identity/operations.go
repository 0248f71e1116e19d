package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Authenticate exchanges a username and password for a credential pair.
func (c *Client) Authenticate(ctx context.Context, username, password string) (creds *domain.Credentials, err error) {
	defer c.observe(OpAuthenticate, time.Now(), &err)

	resp, err := c.do(ctx, OpAuthenticate, http.MethodPost, PathToken,
		tokenRequest{Username: username, Password: password}, "")
	if err != nil {
		return nil, err
	}

	switch {
	case resp.ok():
		var pair tokenPair
		if err := json.Unmarshal(resp.body, &pair); err != nil {
			return nil, malformed(OpAuthenticate, err)
		}
		if pair.Access == "" || pair.Refresh == "" {
			return nil, domain.ErrRequestFailed.WithDetails("authenticate: response missing access or refresh token")
		}
		return &domain.Credentials{Access: pair.Access, Refresh: pair.Refresh}, nil

	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized:
		return nil, domain.ErrInvalidCredentials.WithDetails(describe(resp.body))

	default:
		return nil, requestFailed(OpAuthenticate, resp)
	}
}

// Refresh mints a new access token. The refresh token is not rotated.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (access string, err error) {
	defer c.observe(OpRefresh, time.Now(), &err)

	resp, err := c.do(ctx, OpRefresh, http.MethodPost, PathRefresh,
		refreshRequest{Refresh: refreshToken}, "")
	if err != nil {
		return "", err
	}

	switch {
	case resp.ok():
		var pair tokenPair
		if err := json.Unmarshal(resp.body, &pair); err != nil {
			return "", malformed(OpRefresh, err)
		}
		if pair.Access == "" {
			return "", domain.ErrRequestFailed.WithDetails("refresh: response missing access token")
		}
		return pair.Access, nil

	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized:
		return "", domain.ErrRefreshRejected.WithDetails(describe(resp.body))

	default:
		return "", requestFailed(OpRefresh, resp)
	}
}

// FetchProfile returns the profile of the user the access token belongs to.
// Only 401 means the token itself was rejected.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (profile *domain.UserProfile, err error) {
	defer c.observe(OpProfile, time.Now(), &err)

	resp, err := c.do(ctx, OpProfile, http.MethodGet, PathProfile, nil, accessToken)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.ok():
		var p domain.UserProfile
		if err := json.Unmarshal(resp.body, &p); err != nil {
			return nil, malformed(OpProfile, err)
		}
		return &p, nil

	case resp.status == http.StatusUnauthorized:
		return nil, domain.ErrUnauthorized.WithDetails(describe(resp.body))

	default:
		return nil, requestFailed(OpProfile, resp)
	}
}

// Register creates an account. A 400 response is returned as a
// *domain.ValidationError carrying the per-field messages.
func (c *Client) Register(ctx context.Context, reg *domain.Registration) (err error) {
	defer c.observe(OpRegister, time.Now(), &err)

	if reg == nil {
		return domain.ErrInvalidArgument.WithDetails("registration is required")
	}
	r := *reg
	r.Normalize()

	resp, err := c.do(ctx, OpRegister, http.MethodPost, PathRegister, r, "")
	if err != nil {
		return err
	}

	switch {
	case resp.ok():
		return nil
	case resp.status == http.StatusBadRequest:
		return parseErrorBody(resp.body)
	default:
		return requestFailed(OpRegister, resp)
	}
}

// Revoke asks the endpoint to blacklist the refresh token.
// Callers treat the result as informational only.
func (c *Client) Revoke(ctx context.Context, refreshToken, accessToken string) (err error) {
	defer c.observe(OpRevoke, time.Now(), &err)

	resp, err := c.do(ctx, OpRevoke, http.MethodPost, PathLogout,
		logoutRequest{RefreshToken: refreshToken}, accessToken)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return requestFailed(OpRevoke, resp)
	}
	return nil
}
