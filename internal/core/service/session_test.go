package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/storage"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/metric"
)

// fakeIdentity is a scripted IdentityClient. Unset hooks reject.
type fakeIdentity struct {
	authenticate func(username, password string) (*domain.Credentials, error)
	refresh      func(refresh string) (string, error)
	profile      func(access string) (*domain.UserProfile, error)
	register     func(reg *domain.Registration) error
	revoke       func(refresh, access string) error

	mu    sync.Mutex
	calls []string
}

func (f *fakeIdentity) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns the calls made so far, e.g. "profile:acc1".
func (f *fakeIdentity) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIdentity) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeIdentity) Authenticate(ctx context.Context, username, password string) (*domain.Credentials, error) {
	f.record("authenticate:" + username)
	if f.authenticate == nil {
		return nil, domain.ErrInvalidCredentials
	}
	return f.authenticate(username, password)
}

func (f *fakeIdentity) Refresh(ctx context.Context, refresh string) (string, error) {
	f.record("refresh:" + refresh)
	if f.refresh == nil {
		return "", domain.ErrRefreshRejected
	}
	return f.refresh(refresh)
}

func (f *fakeIdentity) FetchProfile(ctx context.Context, access string) (*domain.UserProfile, error) {
	f.record("profile:" + access)
	if f.profile == nil {
		return nil, domain.ErrUnauthorized
	}
	return f.profile(access)
}

func (f *fakeIdentity) Register(ctx context.Context, reg *domain.Registration) error {
	f.record("register:" + reg.Username)
	if f.register == nil {
		return nil
	}
	return f.register(reg)
}

func (f *fakeIdentity) Revoke(ctx context.Context, refresh, access string) error {
	f.record("revoke:" + refresh)
	if f.revoke == nil {
		return nil
	}
	return f.revoke(refresh, access)
}

// profileFor accepts exactly the listed access tokens.
func profileFor(valid ...string) func(string) (*domain.UserProfile, error) {
	return func(access string) (*domain.UserProfile, error) {
		for _, v := range valid {
			if access == v {
				return &domain.UserProfile{ID: "7", Username: "alice", Email: "alice@x.com"}, nil
			}
		}
		return nil, domain.ErrUnauthorized
	}
}

func newMemoryStore() *storage.TokenStore {
	return storage.NewTokenStore(storage.NewMemoryEngine())
}

func newController(t *testing.T, id IdentityClient, store TokenStore, opts ...ControllerOption) *SessionController {
	t.Helper()
	return NewSessionController(id, store, append([]ControllerOption{WithLogger(logger.NewNop())}, opts...)...)
}

func seed(t *testing.T, store TokenStore, access, refresh string) {
	t.Helper()
	if err := store.Save(context.Background(), access, refresh); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}
}

func stored(t *testing.T, store TokenStore) domain.StoredTokens {
	t.Helper()
	tokens, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return tokens
}

// recordStatuses subscribes and returns a func reporting every status seen.
func recordStatuses(c *SessionController) func() []domain.Status {
	var mu sync.Mutex
	var seen []domain.Status
	c.Subscribe(func(s domain.Session) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})
	return func() []domain.Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.Status(nil), seen...)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ============================================================================
// Recovery
// ============================================================================

func TestRecover_EmptyStorage(t *testing.T) {
	f := &fakeIdentity{}
	c := newController(t, f, newMemoryStore())

	if c.Recovered() {
		t.Error("Recovered() = true before Recover")
	}

	s := c.Recover(context.Background())
	if s.Status != domain.StatusUnauthenticated || s.User != nil {
		t.Errorf("session = %+v, want unauthenticated", s)
	}
	if calls := f.Calls(); len(calls) != 0 {
		t.Errorf("identity calls = %v, want none", calls)
	}
	if !c.Recovered() {
		t.Error("Recovered() = false after Recover")
	}
}

func TestRecover_ValidAccessToken(t *testing.T) {
	f := &fakeIdentity{profile: profileFor("acc1")}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")

	c := newController(t, f, store)
	s := c.Recover(context.Background())

	if !s.IsAuthenticated() || s.User.Email != "alice@x.com" {
		t.Fatalf("session = %+v, want authenticated alice", s)
	}
	if f.count("refresh:") != 0 {
		t.Error("refresh must not run when the access token is accepted")
	}
	if got := stored(t, store); got.Access != "acc1" || got.Refresh != "ref1" {
		t.Errorf("stored = %+v, want unchanged", got)
	}
}

func TestRecover_UnauthorizedThenRefresh(t *testing.T) {
	f := &fakeIdentity{
		profile: profileFor("acc2"),
		refresh: func(r string) (string, error) { return "acc2", nil },
	}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")

	c := newController(t, f, store)
	statuses := recordStatuses(c)
	s := c.Recover(context.Background())

	if !s.IsAuthenticated() {
		t.Fatalf("status = %v, want authenticated", s.Status)
	}

	want := []string{"profile:acc1", "refresh:ref1", "profile:acc2"}
	if got := f.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}

	got := stored(t, store)
	if got.Access != "acc2" {
		t.Errorf("stored access = %q, want the refreshed token", got.Access)
	}
	if got.Refresh != "ref1" {
		t.Errorf("stored refresh = %q, want it unchanged", got.Refresh)
	}

	seen := statuses()
	if len(seen) != 2 || seen[0] != domain.StatusRefreshing || seen[1] != domain.StatusAuthenticated {
		t.Errorf("statuses = %v, want [refreshing authenticated]", seen)
	}
}

func TestRecover_RefreshOnly(t *testing.T) {
	f := &fakeIdentity{
		profile: profileFor("acc9"),
		refresh: func(r string) (string, error) { return "acc9", nil },
	}
	store := newMemoryStore()
	seed(t, store, "", "ref1")

	c := newController(t, f, store)
	if s := c.Recover(context.Background()); !s.IsAuthenticated() {
		t.Fatalf("status = %v, want authenticated", s.Status)
	}

	want := []string{"refresh:ref1", "profile:acc9"}
	if got := f.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if got := stored(t, store); got.Access != "acc9" || got.Refresh != "ref1" {
		t.Errorf("stored = %+v", got)
	}
}

func TestRecover_AccessOnlyRejected(t *testing.T) {
	f := &fakeIdentity{}
	store := newMemoryStore()
	seed(t, store, "acc1", "")

	c := newController(t, f, store)
	if s := c.Recover(context.Background()); s.IsAuthenticated() {
		t.Fatal("session authenticated without a usable token")
	}
	if f.count("refresh:") != 0 {
		t.Error("refresh attempted without a refresh token")
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestRecover_Failures(t *testing.T) {
	tests := []struct {
		name       string
		profile    func(string) (*domain.UserProfile, error)
		refresh    func(string) (string, error)
		wantErr    error
		wantStored domain.StoredTokens
		wantCalls  int
	}{
		{
			name:       "refresh rejected",
			refresh:    func(string) (string, error) { return "", domain.ErrRefreshRejected },
			wantErr:    domain.ErrRefreshRejected,
			wantStored: domain.StoredTokens{},
			wantCalls:  2,
		},
		{
			name:       "refresh answers unexpectedly",
			refresh:    func(string) (string, error) { return "", domain.ErrRequestFailed },
			wantErr:    domain.ErrRequestFailed,
			wantStored: domain.StoredTokens{},
			wantCalls:  2,
		},
		{
			name:       "refresh unreachable keeps tokens",
			refresh:    func(string) (string, error) { return "", domain.ErrNetwork },
			wantErr:    domain.ErrNetwork,
			wantStored: domain.StoredTokens{Access: "acc1", Refresh: "ref1"},
			wantCalls:  2,
		},
		{
			name:       "new access token rejected",
			refresh:    func(string) (string, error) { return "acc2", nil },
			wantErr:    domain.ErrUnauthorized,
			wantStored: domain.StoredTokens{},
			wantCalls:  3,
		},
		{
			name: "profile unreachable after refresh keeps new token",
			profile: func(a string) (*domain.UserProfile, error) {
				if a == "acc2" {
					return nil, domain.ErrNetwork
				}
				return nil, domain.ErrUnauthorized
			},
			refresh:    func(string) (string, error) { return "acc2", nil },
			wantErr:    domain.ErrNetwork,
			wantStored: domain.StoredTokens{Access: "acc2", Refresh: "ref1"},
			wantCalls:  3,
		},
		{
			name:       "profile unreachable keeps tokens without refreshing",
			profile:    func(string) (*domain.UserProfile, error) { return nil, domain.ErrNetwork },
			wantErr:    domain.ErrNetwork,
			wantStored: domain.StoredTokens{Access: "acc1", Refresh: "ref1"},
			wantCalls:  1,
		},
		{
			name:       "profile server error clears",
			profile:    func(string) (*domain.UserProfile, error) { return nil, domain.ErrRequestFailed },
			wantErr:    domain.ErrRequestFailed,
			wantStored: domain.StoredTokens{},
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeIdentity{profile: tt.profile, refresh: tt.refresh}
			store := newMemoryStore()
			seed(t, store, "acc1", "ref1")

			c := newController(t, f, store)
			err := c.Revalidate(context.Background())

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Revalidate() error = %v, want %v", err, tt.wantErr)
			}
			if s := c.Session(); s.Status != domain.StatusUnauthenticated || s.User != nil {
				t.Errorf("session = %+v, want unauthenticated", s)
			}
			if got := stored(t, store); got != tt.wantStored {
				t.Errorf("stored = %+v, want %+v", got, tt.wantStored)
			}
			if got := len(f.Calls()); got != tt.wantCalls {
				t.Errorf("identity calls = %v, want %d", f.Calls(), tt.wantCalls)
			}
		})
	}
}

func TestRevalidate_EmptyStorage(t *testing.T) {
	c := newController(t, &fakeIdentity{}, newMemoryStore())
	if err := c.Revalidate(context.Background()); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Revalidate() error = %v, want ErrNotAuthenticated", err)
	}
}

// unreadableStore fails every call with StorageUnavailable.
type unreadableStore struct{}

func (unreadableStore) Save(context.Context, string, string) error {
	return domain.ErrStorageUnavailable
}

func (unreadableStore) Load(context.Context) (domain.StoredTokens, error) {
	return domain.StoredTokens{}, domain.ErrStorageUnavailable
}

func (unreadableStore) Clear(context.Context) error {
	return domain.ErrStorageUnavailable
}

func TestRecover_StorageUnreadable(t *testing.T) {
	f := &fakeIdentity{}
	c := newController(t, f, unreadableStore{})

	if s := c.Recover(context.Background()); s.IsAuthenticated() {
		t.Error("session authenticated with unreadable storage")
	}
	if len(f.Calls()) != 0 {
		t.Errorf("identity calls = %v, want none", f.Calls())
	}
	if err := c.Revalidate(context.Background()); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("Revalidate() error = %v, want ErrStorageUnavailable", err)
	}
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_Success(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	store := newMemoryStore()
	c := newController(t, f, store)
	statuses := recordStatuses(c)

	if err := c.Login(context.Background(), "alice", "pw1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !c.IsAuthenticated() || c.User().Username != "alice" {
		t.Errorf("session = %+v", c.Session())
	}
	if got := stored(t, store); got.Access != "acc1" || got.Refresh != "ref1" {
		t.Errorf("stored = %+v", got)
	}
	if f.count("refresh:") != 0 {
		t.Error("login must not refresh")
	}

	seen := statuses()
	if len(seen) != 2 || seen[0] != domain.StatusAuthenticating || seen[1] != domain.StatusAuthenticated {
		t.Errorf("statuses = %v, want [authenticating authenticated]", seen)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return nil, domain.ErrInvalidCredentials.WithDetails("No active account found with the given credentials")
		},
	}
	store := newMemoryStore()
	seed(t, store, "old-acc", "old-ref")

	c := newController(t, f, store)
	err := c.Login(context.Background(), "alice", "wrong")

	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	if c.Session().Status != domain.StatusUnauthenticated {
		t.Errorf("status = %v, want unauthenticated", c.Session().Status)
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestLogin_NetworkFailureKeepsStoredPair(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return nil, domain.ErrNetwork.WithDetails("dial tcp: i/o timeout")
		},
	}
	store := newMemoryStore()
	seed(t, store, "old-acc", "old-ref")

	c := newController(t, f, store)
	err := c.Login(context.Background(), "alice", "pw1")

	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("Login() error = %v, want ErrNetwork", err)
	}
	if s := c.Session(); s.Status != domain.StatusUnauthenticated || s.User != nil {
		t.Errorf("session = %+v, want unauthenticated", s)
	}
	if got := stored(t, store); got.Access != "old-acc" || got.Refresh != "old-ref" {
		t.Errorf("stored = %+v, want the previous pair kept", got)
	}
}

func TestLogin_EmptyProfile(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: func(string) (*domain.UserProfile, error) { return nil, nil },
	}
	store := newMemoryStore()
	c := newController(t, f, store)

	err := c.Login(context.Background(), "alice", "pw1")
	if !errors.Is(err, domain.ErrRequestFailed) {
		t.Fatalf("Login() error = %v, want ErrRequestFailed", err)
	}
	if s := c.Session(); s.Status != domain.StatusUnauthenticated || s.User != nil || !s.Valid() {
		t.Errorf("session = %+v, want unauthenticated", s)
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestRecover_EmptyProfileAfterRefresh(t *testing.T) {
	f := &fakeIdentity{
		refresh: func(string) (string, error) { return "acc2", nil },
		profile: func(access string) (*domain.UserProfile, error) {
			if access == "acc2" {
				return nil, nil
			}
			return nil, domain.ErrUnauthorized
		},
	}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")
	c := newController(t, f, store)

	s := c.Recover(context.Background())
	if s.Status != domain.StatusUnauthenticated || s.User != nil {
		t.Errorf("session = %+v, want unauthenticated", s)
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestLogin_ProfileFailure(t *testing.T) {
	for _, profileErr := range []error{domain.ErrUnauthorized, domain.ErrRequestFailed, domain.ErrNetwork} {
		t.Run(domain.GetErrorCode(profileErr), func(t *testing.T) {
			f := &fakeIdentity{
				authenticate: func(u, p string) (*domain.Credentials, error) {
					return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
				},
				profile: func(string) (*domain.UserProfile, error) { return nil, profileErr },
			}
			store := newMemoryStore()
			c := newController(t, f, store)

			err := c.Login(context.Background(), "alice", "pw1")
			if !errors.Is(err, profileErr) {
				t.Errorf("Login() error = %v, want %v", err, profileErr)
			}
			if s := c.Session(); s.Status != domain.StatusUnauthenticated || s.User != nil {
				t.Errorf("session = %+v, want unauthenticated", s)
			}
			if got := stored(t, store); !got.IsEmpty() {
				t.Errorf("stored = %+v, want cleared", got)
			}
			if f.count("refresh:") != 0 {
				t.Error("a fresh login must not fall back to refresh")
			}
		})
	}
}

func TestLogin_StoreFailure(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	c := newController(t, f, unreadableStore{})

	err := c.Login(context.Background(), "alice", "pw1")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("Login() error = %v, want ErrStorageUnavailable", err)
	}
	if c.IsAuthenticated() {
		t.Error("authenticated although the tokens could not be stored")
	}
	if f.count("profile:") != 0 {
		t.Error("profile fetched after a failed save")
	}
}

// brokenKV fails every call, as a disk that went away would.
type brokenKV struct{}

func (brokenKV) Get(context.Context, []byte) ([]byte, error) { return nil, errors.New("i/o error") }
func (brokenKV) Apply(context.Context, []storage.Op) error   { return errors.New("i/o error") }
func (brokenKV) Close() error                                { return nil }

func TestLogin_DegradedStorageKeepsWorking(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	reg := metric.NewRegistry()
	store := storage.NewFallback(storage.NewTokenStore(brokenKV{}), logger.NewNop(), reg)
	c := newController(t, f, store)

	if err := c.Login(context.Background(), "alice", "pw1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !c.IsAuthenticated() {
		t.Error("session should survive a storage failure")
	}
	if !store.Degraded() {
		t.Error("store should report degraded")
	}
	if err := c.Revalidate(context.Background()); err != nil {
		t.Errorf("Revalidate() on degraded store error = %v", err)
	}

	c.Logout(context.Background())
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

// ============================================================================
// Logout
// ============================================================================

func TestLoginThenLogout(t *testing.T) {
	var revokedWith []string
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
		revoke: func(r, a string) error {
			revokedWith = []string{r, a}
			return nil
		},
	}
	store := newMemoryStore()
	c := newController(t, f, store)

	if err := c.Login(context.Background(), "alice", "pw1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	c.Logout(context.Background())

	if s := c.Session(); s.Status != domain.StatusUnauthenticated || s.User != nil {
		t.Errorf("session = %+v, want unauthenticated", s)
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
	if len(revokedWith) != 2 || revokedWith[0] != "ref1" || revokedWith[1] != "acc1" {
		t.Errorf("Revoke called with %v, want [ref1 acc1]", revokedWith)
	}
}

func TestLogout_NoRefreshTokenSkipsRevoke(t *testing.T) {
	f := &fakeIdentity{}
	store := newMemoryStore()
	seed(t, store, "acc1", "")

	c := newController(t, f, store)
	c.Logout(context.Background())

	if f.count("revoke:") != 0 {
		t.Error("Revoke called without a refresh token")
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestLogout_RevokeFailureIsIgnored(t *testing.T) {
	f := &fakeIdentity{
		profile: profileFor("acc1"),
		revoke:  func(string, string) error { return domain.ErrNetwork },
	}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")

	c := newController(t, f, store)
	c.Recover(context.Background())
	c.Logout(context.Background())

	if c.IsAuthenticated() {
		t.Error("still authenticated after logout")
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("stored = %+v, want cleared", got)
	}
}

func TestLogout_CancelledContextStillClears(t *testing.T) {
	f := &fakeIdentity{profile: profileFor("acc1")}
	kv := storage.NewMemoryEngine()
	store := storage.NewTokenStore(kv)
	seed(t, store, "acc1", "ref1")

	c := newController(t, f, store)
	c.Recover(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Logout(ctx)

	if kv.Len() != 0 {
		t.Errorf("store holds %d keys after logout, want 0", kv.Len())
	}
}

func TestLogout_WinsOverInFlightLogin(t *testing.T) {
	tests := []struct {
		name    string
		blockAt string
	}{
		{"during authenticate", "authenticate"},
		{"during profile fetch", "profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entered := make(chan struct{})
			release := make(chan struct{})
			block := func(step string) {
				if step == tt.blockAt {
					close(entered)
					<-release
				}
			}

			f := &fakeIdentity{
				authenticate: func(u, p string) (*domain.Credentials, error) {
					block("authenticate")
					return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
				},
				profile: func(a string) (*domain.UserProfile, error) {
					block("profile")
					return profileFor("acc1")(a)
				},
			}
			store := newMemoryStore()
			c := newController(t, f, store)

			done := make(chan error, 1)
			go func() {
				done <- c.Login(context.Background(), "alice", "pw1")
			}()

			<-entered
			c.Logout(context.Background())
			if c.Session().Status != domain.StatusUnauthenticated {
				t.Fatalf("status after logout = %v", c.Session().Status)
			}
			close(release)

			if err := <-done; !errors.Is(err, domain.ErrSessionSuperseded) {
				t.Errorf("Login() error = %v, want ErrSessionSuperseded", err)
			}
			if c.IsAuthenticated() {
				t.Error("in-flight login resurrected the session")
			}
			if got := stored(t, store); !got.IsEmpty() {
				t.Errorf("stored = %+v, want cleared", got)
			}
			if c.Busy() {
				t.Error("operation slot still held")
			}
		})
	}
}

func TestLogout_WinsOverInFlightRefresh(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeIdentity{
		profile: profileFor("acc2"),
		refresh: func(string) (string, error) {
			close(entered)
			<-release
			return "acc2", nil
		},
	}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")
	c := newController(t, f, store)

	done := make(chan error, 1)
	go func() { done <- c.Revalidate(context.Background()) }()

	<-entered
	c.Logout(context.Background())
	close(release)

	if err := <-done; !errors.Is(err, domain.ErrSessionSuperseded) {
		t.Errorf("Revalidate() error = %v, want ErrSessionSuperseded", err)
	}
	if got := stored(t, store); !got.IsEmpty() {
		t.Errorf("refreshed token written after logout: %+v", got)
	}
	if f.count("profile:acc2") != 0 {
		t.Error("profile fetched after the operation was superseded")
	}
}

// ============================================================================
// Concurrency
// ============================================================================

func TestLogin_BusyReject(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			close(entered)
			<-release
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	reg := metric.NewRegistry()
	c := newController(t, f, newMemoryStore(), WithMetrics(reg))

	done := make(chan error, 1)
	go func() { done <- c.Login(context.Background(), "alice", "pw1") }()
	<-entered

	if !c.Busy() {
		t.Error("Busy() = false during login")
	}
	if err := c.Login(context.Background(), "bob", "pw2"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("second Login() error = %v, want ErrSessionBusy", err)
	}
	if err := c.Revalidate(context.Background()); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Revalidate() error = %v, want ErrSessionBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	if f.count("authenticate:bob") != 0 {
		t.Error("rejected login reached the identity endpoint")
	}
	if got := testutil.ToFloat64(reg.BusyRejections); got != 2 {
		t.Errorf("busy rejections = %v, want 2", got)
	}
}

func TestLogin_BusyQueue(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			entered <- struct{}{}
			<-release
			return &domain.Credentials{Access: "acc-" + u, Refresh: "ref-" + u}, nil
		},
		profile: func(a string) (*domain.UserProfile, error) {
			return &domain.UserProfile{Username: strings.TrimPrefix(a, "acc-")}, nil
		},
	}
	store := newMemoryStore()
	c := newController(t, f, store, WithBusyPolicy(BusyQueue))

	first := make(chan error, 1)
	go func() { first <- c.Login(context.Background(), "alice", "pw") }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- c.Login(context.Background(), "bob", "pw") }()

	// A queued caller whose context ends gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Login(ctx, "carol", "pw"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("timed out Login() error = %v, want ErrSessionBusy", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("queued Login() error = %v", err)
	}

	if c.User().Username != "bob" {
		t.Errorf("user = %q, want the later login", c.User().Username)
	}
	if got := stored(t, store); got.Access != "acc-bob" || got.Refresh != "ref-bob" {
		t.Errorf("stored = %+v, want bob's pair", got)
	}
}

func TestConcurrentLogins_NeverInterleavePairs(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			time.Sleep(time.Millisecond)
			return &domain.Credentials{Access: "acc-" + u, Refresh: "ref-" + u}, nil
		},
		profile: func(a string) (*domain.UserProfile, error) {
			return &domain.UserProfile{Username: strings.TrimPrefix(a, "acc-")}, nil
		},
	}

	for _, policy := range []BusyPolicy{BusyReject, BusyQueue} {
		t.Run(policy.String(), func(t *testing.T) {
			store := newMemoryStore()
			c := newController(t, f, store, WithBusyPolicy(policy))

			users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
			var wg sync.WaitGroup
			for _, u := range users {
				wg.Add(1)
				go func(u string) {
					defer wg.Done()
					err := c.Login(context.Background(), u, "pw")
					if err != nil && !errors.Is(err, domain.ErrSessionBusy) {
						t.Errorf("Login(%s) error = %v", u, err)
					}
				}(u)
			}
			wg.Wait()

			got := stored(t, store)
			user := strings.TrimPrefix(got.Access, "acc-")
			if got.Refresh != "ref-"+user {
				t.Errorf("stored pair mixes users: %+v", got)
			}
			if c.User() == nil || c.User().Username != user {
				t.Errorf("session user = %+v, stored pair belongs to %q", c.User(), user)
			}
		})
	}
}

// ============================================================================
// Register, notifications, policy
// ============================================================================

func TestRegister_LeavesSessionAlone(t *testing.T) {
	f := &fakeIdentity{
		profile: profileFor("acc1"),
		register: func(reg *domain.Registration) error {
			ve := domain.NewValidationError()
			ve.Add("email", "A user with that email already exists.")
			return ve
		},
	}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")
	c := newController(t, f, store)
	c.Recover(context.Background())
	statuses := recordStatuses(c)

	err := c.Register(context.Background(), &domain.Registration{Username: "bob", Email: "alice@x.com", Password: "pw"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Register() error = %v, want ErrValidation", err)
	}
	if !strings.Contains(strings.ToLower(domain.UserMessage(err)), "email") {
		t.Errorf("message %q should mention email", domain.UserMessage(err))
	}
	if !c.IsAuthenticated() {
		t.Error("failed registration changed the session")
	}
	if len(statuses()) != 0 {
		t.Errorf("registration emitted %v", statuses())
	}

	if err := c.Register(context.Background(), nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestRegister_DoesNotSignIn(t *testing.T) {
	f := &fakeIdentity{}
	store := newMemoryStore()
	c := newController(t, f, store)

	if err := c.Register(context.Background(), &domain.Registration{Username: "bob", Email: "b@x.com", Password: "pw"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if c.IsAuthenticated() {
		t.Error("registration signed in")
	}
	if f.count("authenticate:") != 0 || !stored(t, store).IsEmpty() {
		t.Error("registration must not obtain tokens")
	}
}

func TestSubscribe(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	c := newController(t, f, newMemoryStore())

	var invalid []domain.Session
	var mu sync.Mutex
	cancel := c.Subscribe(func(s domain.Session) {
		if !s.Valid() {
			mu.Lock()
			invalid = append(invalid, s)
			mu.Unlock()
		}
	})
	statuses := recordStatuses(c)

	c.Login(context.Background(), "alice", "pw1")
	c.Logout(context.Background())
	cancel()
	cancel()

	want := []domain.Status{domain.StatusAuthenticating, domain.StatusAuthenticated, domain.StatusUnauthenticated}
	got := statuses()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statuses[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if len(invalid) != 0 {
		t.Errorf("listener saw sessions breaking the user/status rule: %+v", invalid)
	}

	// A listener may read the session while being notified.
	var inside domain.Status
	c.Subscribe(func(domain.Session) { inside = c.Session().Status })
	c.Login(context.Background(), "alice", "pw1")
	if inside != domain.StatusAuthenticated {
		t.Errorf("status read from listener = %v", inside)
	}
}

func TestSubscribe_ListenerReadsDuringConcurrentLogout(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	c := newController(t, f, newMemoryStore(), WithBusyPolicy(BusyQueue))
	c.Subscribe(func(domain.Session) { _ = c.Session() })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Login(context.Background(), "alice", "pw1")
		}()
		go func() {
			defer wg.Done()
			c.Logout(context.Background())
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Login/Logout did not finish with a listener reading the session")
	}

	c.Logout(context.Background())
	if s := c.Session(); s.Status != domain.StatusUnauthenticated {
		t.Errorf("status = %v after final logout", s.Status)
	}
}

func TestSubscribe_DeliveryFollowsCommitOrder(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	c := newController(t, f, newMemoryStore(), WithBusyPolicy(BusyQueue))

	var mu sync.Mutex
	var last domain.Session
	c.Subscribe(func(s domain.Session) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Login(context.Background(), "alice", "pw1")
		}()
		go func() {
			defer wg.Done()
			c.Logout(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last.Status != c.Session().Status {
		t.Errorf("last delivered status = %v, session = %v", last.Status, c.Session().Status)
	}
}

func TestSessionSnapshotIsCopy(t *testing.T) {
	f := &fakeIdentity{profile: profileFor("acc1")}
	store := newMemoryStore()
	seed(t, store, "acc1", "ref1")
	c := newController(t, f, store)
	c.Recover(context.Background())

	c.User().Email = "mallory@x.com"
	if c.User().Email != "alice@x.com" {
		t.Error("mutating a returned profile changed the session")
	}
}

func TestMetrics_Transitions(t *testing.T) {
	f := &fakeIdentity{
		authenticate: func(u, p string) (*domain.Credentials, error) {
			return &domain.Credentials{Access: "acc1", Refresh: "ref1"}, nil
		},
		profile: profileFor("acc1"),
	}
	reg := metric.NewRegistry()
	c := newController(t, f, newMemoryStore(), WithMetrics(reg))

	if got := testutil.ToFloat64(reg.SessionStatus.WithLabelValues("unauthenticated")); got != 1 {
		t.Errorf("initial unauthenticated gauge = %v, want 1", got)
	}

	c.Login(context.Background(), "alice", "pw1")

	if got := testutil.ToFloat64(reg.SessionTransitions.WithLabelValues("authenticating", "authenticated")); got != 1 {
		t.Errorf("authenticating->authenticated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.SessionStatus.WithLabelValues("authenticated")); got != 1 {
		t.Errorf("authenticated gauge = %v, want 1", got)
	}
}

func TestParseBusyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    BusyPolicy
		wantErr bool
	}{
		{"", BusyReject, false},
		{"reject", BusyReject, false},
		{"Queue", BusyQueue, false},
		{" queue ", BusyQueue, false},
		{"drop", BusyReject, true},
	}

	for _, tt := range tests {
		got, err := ParseBusyPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBusyPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBusyPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if BusyPolicy(9).String() != "BusyPolicy(9)" {
		t.Errorf("String() = %q", BusyPolicy(9).String())
	}
}
