// Package identitytest provides an in-process identity endpoint for tests.
//
// Server speaks the same JSON contract as the real endpoint and keeps
// enough state (users, live access and refresh tokens, a blacklist) to
// drive every session transition: tokens can be expired or revoked, and
// individual endpoints can be failed or delayed.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/sessionkeep-go/pkg/token"
)

// User is an account known to the server.
type User struct {
	ID       int
	Username string
	Email    string
	Password string
	Name     string
}

// Server is a fake identity endpoint rooted at URL + "/api".
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	users    map[string]*User  // by username
	access   map[string]string // access token -> username
	refresh  map[string]string // refresh token -> username
	revoked  map[string]bool
	failures map[string]int           // path -> forced status
	delays   map[string]time.Duration // path -> delay before answering
	gates    map[string]chan struct{} // path -> blocks until closed
	calls    map[string]int
}

// NewServer starts a server with no users.
func NewServer() *Server {
	s := &Server{
		nextID:   1,
		users:    make(map[string]*User),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		revoked:  make(map[string]bool),
		failures: make(map[string]int),
		delays:   make(map[string]time.Duration),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token/", s.handleToken)
	mux.HandleFunc("/api/token/refresh/", s.handleRefresh)
	mux.HandleFunc("/api/user/profile/", s.handleProfile)
	mux.HandleFunc("/api/register/", s.handleRegister)
	mux.HandleFunc("/api/logout/", s.handleLogout)

	s.Server = httptest.NewServer(s.intercept(mux))
	return s
}

// BaseURL returns the API root to configure clients with.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, email, password string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password)
}

func (s *Server) addUserLocked(username, email, password string) *User {
	u := &User{ID: s.nextID, Username: username, Email: email, Password: password}
	s.nextID++
	s.users[username] = u
	return u
}

// IssueTokens mints a fresh pair for username without a login request.
func (s *Server) IssueTokens(username string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(username, "acc_"), s.mintLocked(username, "ref_")
}

// ExpireAccess invalidates every live access token.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// ExpireRefresh invalidates every live refresh token.
func (s *Server) ExpireRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// IsRevoked reports whether a refresh token was blacklisted via /logout/.
func (s *Server) IsRevoked(refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[refresh]
}

// ValidAccess reports whether the access token is currently accepted.
func (s *Server) ValidAccess(access string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.access[access]
	return ok
}

// Fail forces every request to path (e.g. "/token/refresh/") to answer
// with status. Zero clears the override.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// Delay holds requests to path for d before answering.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[path] = d
}

// Gate blocks requests to path until the returned release func is called.
func (s *Server) Gate(path string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[path] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, path)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of requests across all paths.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api")

		s.mu.Lock()
		s.calls[path]++
		status := s.failures[path]
		delay := s.delays[path]
		gate := s.gates[path]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/token/" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{"This field may not be blank."}
	}
	if req.Password == "" {
		fields["password"] = []string{"This field may not be blank."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Username]
	if !ok || !token.Equal(u.Password, req.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "No active account found with the given credentials",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access":  s.mintLocked(u.Username, "acc_"),
		"refresh": s.mintLocked(u.Username, "ref_"),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.refresh[req.Refresh]
	if !ok || s.revoked[req.Refresh] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access": s.mintLocked(username, "acc_")})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	access := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.access[access]
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Given token not valid for any token type",
			"code":   "token_not_valid",
		})
		return
	}

	u := s.users[username]
	name := u.Name
	if name == "" {
		name = u.Username
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       u.ID,
		"email":    u.Email,
		"name":     name,
		"avatar":   "https://api.dicebear.com/6.x/initials/svg?seed=" + u.Username,
		"isOnline": false,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields := map[string][]string{}
	required := map[string]string{"username": req.Username, "email": req.Email, "password": req.Password, "password2": req.Password2}
	for f, v := range required {
		if v == "" {
			fields[f] = []string{"This field is required."}
		}
	}
	if _, taken := s.users[req.Username]; taken && req.Username != "" {
		fields["username"] = append(fields["username"], "A user with that username already exists.")
	}
	for _, u := range s.users {
		if req.Email != "" && strings.EqualFold(u.Email, req.Email) {
			fields["email"] = append(fields["email"], "A user with that email already exists.")
			break
		}
	}
	if len(fields) == 0 && req.Password != req.Password2 {
		fields["password"] = []string{"Password fields didn't match."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.addUserLocked(req.Username, req.Email, req.Password)
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username, "email": req.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	access := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.access[access]; !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
		return
	}
	if _, ok := s.refresh[req.RefreshToken]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Token is invalid or expired"})
		return
	}

	s.revoked[req.RefreshToken] = true
	w.WriteHeader(http.StatusResetContent)
}

func (s *Server) mintLocked(username, prefix string) string {
	t, err := token.Generate()
	if err != nil {
		panic(err)
	}
	t = prefix + t
	if prefix == "acc_" {
		s.access[t] = username
	} else {
		s.refresh[t] = username
	}
	return t
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
