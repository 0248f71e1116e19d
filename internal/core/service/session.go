package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/metric"
	"github.com/yndnr/sessionkeep-go/pkg/token"
)

// IdentityClient is the remote identity endpoint.
//
// Implementations map transport failures to domain.ErrNetwork, a rejected
// access token to domain.ErrUnauthorized and a rejected refresh token to
// domain.ErrRefreshRejected.
type IdentityClient interface {
	// Authenticate exchanges a username and password for a credential pair.
	Authenticate(ctx context.Context, username, password string) (*domain.Credentials, error)

	// Refresh mints a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (string, error)

	// FetchProfile returns the profile the access token belongs to.
	FetchProfile(ctx context.Context, accessToken string) (*domain.UserProfile, error)

	// Register creates an account without signing in.
	Register(ctx context.Context, reg *domain.Registration) error

	// Revoke blacklists the refresh token server side.
	Revoke(ctx context.Context, refreshToken, accessToken string) error
}

// TokenStore persists the credential pair.
type TokenStore interface {
	// Save writes both values in one step. An empty value deletes its key.
	Save(ctx context.Context, access, refresh string) error

	// Load returns what is stored; absent values are empty strings.
	Load(ctx context.Context) (domain.StoredTokens, error)

	// Clear removes both values.
	Clear(ctx context.Context) error
}

// BusyPolicy decides what happens to an operation started while another
// one holds the operation slot.
type BusyPolicy int

const (
	// BusyReject fails the new operation with domain.ErrSessionBusy.
	BusyReject BusyPolicy = iota
	// BusyQueue waits for the slot until the context is done.
	BusyQueue
)

// String returns the config spelling of the policy.
func (p BusyPolicy) String() string {
	switch p {
	case BusyReject:
		return "reject"
	case BusyQueue:
		return "queue"
	default:
		return fmt.Sprintf("BusyPolicy(%d)", int(p))
	}
}

// ParseBusyPolicy parses "reject" or "queue". Empty means reject.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return BusyReject, nil
	case "queue":
		return BusyQueue, nil
	default:
		return BusyReject, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown busy policy %q (want reject or queue)", s))
	}
}

// Operation names used in logs.
const (
	opRecover    = "recover"
	opRevalidate = "revalidate"
	opLogin      = "login"
	opRegister   = "register"
	opLogout     = "logout"
)

type listener struct {
	id uint64
	fn func(domain.Session)
}

// SessionController owns the client session.
//
// State changes and token store writes are committed together under mu,
// and only while the epoch captured at the start of the operation is still
// current. Logout advances the epoch, so nothing an older operation learns
// afterwards can reach the session or the store.
type SessionController struct {
	identity IdentityClient
	store    TokenStore
	logger   logger.Logger
	metrics  *metric.Registry
	policy   BusyPolicy

	// slot admits one Login/Recover/Revalidate at a time.
	slot chan struct{}

	mu         sync.Mutex
	session    domain.Session
	epoch      uint64
	listeners  []listener
	listenerID uint64
	notifySeq  uint64

	// Listener calls are delivered in notifySeq order. notifyMu is never
	// acquired while mu is held.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64

	recovered atomic.Bool
}

// ControllerOption configures a SessionController.
type ControllerOption func(*SessionController)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ControllerOption {
	return func(c *SessionController) {
		c.logger = l
	}
}

// WithMetrics records transitions and busy rejections.
func WithMetrics(m *metric.Registry) ControllerOption {
	return func(c *SessionController) {
		c.metrics = m
	}
}

// WithBusyPolicy sets the policy for overlapping operations.
func WithBusyPolicy(p BusyPolicy) ControllerOption {
	return func(c *SessionController) {
		c.policy = p
	}
}

// NewSessionController creates a controller in the Unauthenticated state.
// Call Recover to restore a stored session.
func NewSessionController(identity IdentityClient, store TokenStore, opts ...ControllerOption) *SessionController {
	c := &SessionController{
		identity: identity,
		store:    store,
		logger:   logger.Default(),
		policy:   BusyReject,
		slot:     make(chan struct{}, 1),
		session:  domain.Unauthenticated(),
	}
	c.notifyCond = sync.NewCond(&c.notifyMu)
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetSessionStatus(c.session.Status.String())
	return c
}

// ============================================================================
// Readers
// ============================================================================

// Session returns a snapshot of the current session.
func (c *SessionController) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.session)
}

// IsAuthenticated reports whether the session is Authenticated.
func (c *SessionController) IsAuthenticated() bool {
	return c.Session().IsAuthenticated()
}

// User returns the signed-in profile, or nil.
func (c *SessionController) User() *domain.UserProfile {
	return c.Session().User
}

// Busy reports whether an operation holds the operation slot.
func (c *SessionController) Busy() bool {
	return len(c.slot) > 0
}

// Recovered reports whether Recover has completed at least once.
func (c *SessionController) Recovered() bool {
	return c.recovered.Load()
}

// Subscribe registers fn to receive every new session value. Calls are
// made in commit order, outside the state lock. fn must not call Login,
// Logout, Recover or Revalidate synchronously.
func (c *SessionController) Subscribe(fn func(domain.Session)) (cancel func()) {
	c.mu.Lock()
	c.listenerID++
	id := c.listenerID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ============================================================================
// Recovery and validation
// ============================================================================

// Recover restores the session from stored tokens at startup. It fetches
// the profile with the stored access token and, when that token is
// rejected, runs one refresh attempt. It never fails; the outcome is the
// returned session.
func (c *SessionController) Recover(ctx context.Context) domain.Session {
	defer c.recovered.Store(true)

	if err := c.run(ctx, opRecover, nil, c.validate); err != nil && !errors.Is(err, domain.ErrNotAuthenticated) {
		c.logger.Info("session not restored", "reason", err)
	}
	return c.Session()
}

// Revalidate checks the stored tokens against the identity endpoint, the
// same way Recover does, and returns why the session ended unauthenticated.
func (c *SessionController) Revalidate(ctx context.Context) error {
	return c.run(ctx, opRevalidate, nil, c.validate)
}

func (c *SessionController) validate(ctx context.Context, epoch uint64) error {
	// 1. Read what is stored
	tokens, err := c.store.Load(ctx)
	if err != nil {
		// Unreadable storage says nothing about the tokens; leave them.
		return c.settle(ctx, epoch, false, err)
	}

	// 2. Nothing stored: no network calls
	if tokens.IsEmpty() {
		return c.settle(ctx, epoch, false, domain.ErrNotAuthenticated)
	}

	// 3. Try the access token
	if tokens.HasAccess() {
		profile, err := c.identity.FetchProfile(ctx, tokens.Access)
		switch {
		case err == nil:
			return c.authenticated(ctx, epoch, profile)
		case errors.Is(err, domain.ErrUnauthorized):
			c.logger.Debug("access token rejected", "fingerprint", token.Fingerprint(tokens.Access))
		case errors.Is(err, domain.ErrNetwork):
			return c.settle(ctx, epoch, false, err)
		default:
			return c.settle(ctx, epoch, true, err)
		}
	}

	// 4. One refresh attempt
	return c.refresh(ctx, epoch, tokens.Refresh)
}

// refresh mints a new access token, stores it next to the unchanged
// refresh token and fetches the profile once with it. Nothing is retried.
func (c *SessionController) refresh(ctx context.Context, epoch uint64, refreshToken string) error {
	if refreshToken == "" {
		return c.settle(ctx, epoch, true, domain.ErrNotAuthenticated.WithDetails("no refresh token stored"))
	}

	if err := c.commit(ctx, epoch, func(wctx context.Context) error {
		c.setLocked(domain.Session{Status: domain.StatusRefreshing})
		return nil
	}); err != nil {
		return err
	}

	access, err := c.identity.Refresh(ctx, refreshToken)
	if err != nil {
		return c.settle(ctx, epoch, !errors.Is(err, domain.ErrNetwork), err)
	}

	if err := c.commit(ctx, epoch, func(wctx context.Context) error {
		return c.store.Save(wctx, access, refreshToken)
	}); err != nil {
		if errors.Is(err, domain.ErrSessionSuperseded) {
			return err
		}
		return c.settle(ctx, epoch, true, err)
	}
	c.logger.Debug("access token refreshed",
		"fingerprint", token.Fingerprint(access),
		"refresh_fingerprint", token.Fingerprint(refreshToken))

	profile, err := c.identity.FetchProfile(ctx, access)
	if err != nil {
		return c.settle(ctx, epoch, !errors.Is(err, domain.ErrNetwork), err)
	}
	return c.authenticated(ctx, epoch, profile)
}

// ============================================================================
// Login, Register, Logout
// ============================================================================

// Login signs in with a username and password. On success both tokens are
// stored and the session is Authenticated with the fetched profile. Any
// failure leaves the session Unauthenticated and clears the store, except
// a network failure before credentials are issued, which keeps the
// previous pair.
func (c *SessionController) Login(ctx context.Context, username, password string) error {
	begin := func() {
		c.setLocked(domain.Session{Status: domain.StatusAuthenticating})
	}

	return c.run(ctx, opLogin, begin, func(ctx context.Context, epoch uint64) error {
		// 1. Exchange the password
		creds, err := c.identity.Authenticate(ctx, username, password)
		if err != nil {
			return c.settle(ctx, epoch, !errors.Is(err, domain.ErrNetwork), err)
		}

		// 2. Persist the pair in one write
		if err := c.commit(ctx, epoch, func(wctx context.Context) error {
			return c.store.Save(wctx, creds.Access, creds.Refresh)
		}); err != nil {
			if errors.Is(err, domain.ErrSessionSuperseded) {
				return err
			}
			return c.settle(ctx, epoch, true, err)
		}

		// 3. Fetch the profile with the new access token
		profile, err := c.identity.FetchProfile(ctx, creds.Access)
		if err != nil {
			return c.settle(ctx, epoch, true, err)
		}

		if err := c.authenticated(ctx, epoch, profile); err != nil {
			return err
		}
		c.logger.Info("signed in",
			"user", profile.DisplayName(),
			"fingerprint", token.Fingerprint(creds.Refresh))
		return nil
	})
}

// Register creates an account. It does not sign in and leaves the session
// untouched, so it is not serialized with other operations.
func (c *SessionController) Register(ctx context.Context, reg *domain.Registration) error {
	if reg == nil {
		return domain.ErrInvalidArgument.WithDetails("registration is required")
	}
	if err := c.identity.Register(ctx, reg); err != nil {
		c.logger.Info("registration failed", "operation", opRegister, "error", err)
		return err
	}
	c.logger.Info("account registered", "operation", opRegister, "user", reg.Username)
	return nil
}

// Logout ends the session. The store is cleared and the session reset
// before Logout returns, whatever else is in flight; an operation that
// finishes later is discarded. The refresh token is then revoked on a
// best-effort basis.
func (c *SessionController) Logout(ctx context.Context) {
	wctx := context.WithoutCancel(ctx)

	c.mu.Lock()
	before := c.session
	c.epoch++

	tokens, err := c.store.Load(wctx)
	if err != nil {
		c.logger.Warn("read tokens for logout", "error", err)
	}
	if err := c.store.Clear(wctx); err != nil {
		c.logger.Warn("clear tokens on logout", "error", err)
	}
	c.setLocked(domain.Unauthenticated())
	c.unlockAndNotify(before)

	if !tokens.HasRefresh() {
		c.logger.Debug("signed out", "revoked", false)
		return
	}

	if err := c.identity.Revoke(ctx, tokens.Refresh, tokens.Access); err != nil {
		c.logger.Info("refresh token not revoked",
			"fingerprint", token.Fingerprint(tokens.Refresh),
			"error", err)
		return
	}
	c.logger.Debug("signed out", "revoked", true, "fingerprint", token.Fingerprint(tokens.Refresh))
}

// ============================================================================
// Operation plumbing
// ============================================================================

// run executes fn in the operation slot. begin, when set, is applied to
// the session under the state lock as the operation starts.
func (c *SessionController) run(ctx context.Context, op string, begin func(), fn func(context.Context, uint64) error) error {
	if err := c.acquire(ctx); err != nil {
		c.logger.Debug("operation not started", "operation", op, "error", err)
		return err
	}
	defer func() { <-c.slot }()

	c.mu.Lock()
	before := c.session
	epoch := c.epoch
	if begin != nil {
		begin()
	}
	c.unlockAndNotify(before)

	err := fn(ctx, epoch)
	if errors.Is(err, domain.ErrSessionSuperseded) {
		c.logger.Debug("operation superseded by logout", "operation", op)
	}
	return err
}

func (c *SessionController) acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	default:
	}

	if c.policy == BusyReject {
		c.metrics.IncBusyRejection()
		return domain.ErrSessionBusy
	}

	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.ErrSessionBusy.WithCause(ctx.Err())
	}
}

// commit runs fn under the state lock if no logout happened since epoch.
// fn gets a context that outlives cancellation of the operation so that a
// store write is never abandoned halfway.
func (c *SessionController) commit(ctx context.Context, epoch uint64, fn func(context.Context) error) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return domain.ErrSessionSuperseded
	}
	before := c.session
	err := fn(context.WithoutCancel(ctx))
	c.unlockAndNotify(before)
	return err
}

// settle ends an operation Unauthenticated, clearing the store when the
// failure proves the tokens worthless, and returns cause.
func (c *SessionController) settle(ctx context.Context, epoch uint64, clear bool, cause error) error {
	err := c.commit(ctx, epoch, func(wctx context.Context) error {
		if clear {
			if err := c.store.Clear(wctx); err != nil {
				c.logger.Warn("clear tokens", "error", err)
			}
		}
		c.setLocked(domain.Unauthenticated())
		return nil
	})
	if err != nil {
		return err
	}
	return cause
}

func (c *SessionController) authenticated(ctx context.Context, epoch uint64, profile *domain.UserProfile) error {
	if profile == nil {
		return c.settle(ctx, epoch, true, domain.ErrRequestFailed.WithDetails("identity endpoint returned no profile"))
	}
	return c.commit(ctx, epoch, func(context.Context) error {
		c.setLocked(domain.Authenticated(profile.Clone()))
		return nil
	})
}

// setLocked replaces the session. Callers hold mu.
func (c *SessionController) setLocked(next domain.Session) {
	prev := c.session
	c.session = next
	if prev.Status != next.Status {
		c.metrics.RecordTransition(prev.Status.String(), next.Status.String())
		c.logger.Debug("session transition", "from", prev.Status, "to", next.Status)
	}
}

// unlockAndNotify releases mu and delivers the session to listeners when
// it differs from before.
func (c *SessionController) unlockAndNotify(before domain.Session) {
	after := c.session
	if after.Status == before.Status && after.User == before.User {
		c.mu.Unlock()
		return
	}

	fns := make([]func(domain.Session), len(c.listeners))
	for i, l := range c.listeners {
		fns[i] = l.fn
	}
	c.notifySeq++
	seq := c.notifySeq
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for c.delivered+1 != seq {
		c.notifyCond.Wait()
	}
	defer func() {
		c.delivered = seq
		c.notifyCond.Broadcast()
	}()

	for _, fn := range fns {
		fn(snapshot(after))
	}
}

func snapshot(s domain.Session) domain.Session {
	return domain.Session{Status: s.Status, User: s.User.Clone()}
}
