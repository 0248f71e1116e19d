package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the client's current belief about its authentication.
type Status int

const (
	// StatusUnauthenticated is the initial and the reset state.
	StatusUnauthenticated Status = iota
	// StatusAuthenticating means a login is in flight.
	StatusAuthenticating
	// StatusAuthenticated means a profile was fetched with the stored access token.
	StatusAuthenticated
	// StatusRefreshing means the refresh sub-protocol is in flight.
	StatusRefreshing
)

var statusNames = [...]string{
	StatusUnauthenticated: "unauthenticated",
	StatusAuthenticating:  "authenticating",
	StatusAuthenticated:   "authenticated",
	StatusRefreshing:      "refreshing",
}

// String returns the lowercase status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown session status %q", text))
}

// Statuses returns every status in declaration order.
func Statuses() []Status {
	return []Status{StatusUnauthenticated, StatusAuthenticating, StatusAuthenticated, StatusRefreshing}
}

// Credentials is the token pair issued by a successful login.
//
// Both values are opaque; nothing in the client inspects their structure.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// StoredTokens is what the token store currently holds.
// An empty string means the value is absent.
type StoredTokens struct {
	Access  string
	Refresh string
}

// IsEmpty returns true when neither token is stored.
func (t StoredTokens) IsEmpty() bool {
	return t.Access == "" && t.Refresh == ""
}

// HasAccess returns true when an access token is stored.
func (t StoredTokens) HasAccess() bool { return t.Access != "" }

// HasRefresh returns true when a refresh token is stored.
func (t StoredTokens) HasRefresh() bool { return t.Refresh != "" }

// UserProfile is the profile returned by the identity endpoint.
//
// Known fields are decoded into struct fields; every field the server sent,
// known or not, is also kept in Fields.
type UserProfile struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Username string         `json:"username,omitempty" yaml:"username,omitempty"`
	Email    string         `json:"email,omitempty" yaml:"email,omitempty"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Avatar   string         `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	IsOnline bool           `json:"isOnline" yaml:"is_online"`
	Fields   map[string]any `json:"-" yaml:"-"`
}

// UnmarshalJSON decodes a profile object, accepting numeric or string ids.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("profile: expected object, got null")
	}

	*p = UserProfile{Fields: raw}
	p.ID = stringField(raw, "id")
	p.Username = stringField(raw, "username")
	p.Email = stringField(raw, "email")
	p.Name = stringField(raw, "name")
	p.Avatar = stringField(raw, "avatar")
	if v, ok := raw["isOnline"].(bool); ok {
		p.IsOnline = v
	}
	return nil
}

// MarshalJSON encodes the profile with every server-defined field.
func (p UserProfile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+6)
	for k, v := range p.Fields {
		out[k] = v
	}
	setIfNotEmpty(out, "id", p.ID)
	setIfNotEmpty(out, "username", p.Username)
	setIfNotEmpty(out, "email", p.Email)
	setIfNotEmpty(out, "name", p.Name)
	setIfNotEmpty(out, "avatar", p.Avatar)
	out["isOnline"] = p.IsOnline
	return json.Marshal(out)
}

// DisplayName returns the name to greet the user with.
func (p *UserProfile) DisplayName() string {
	switch {
	case p == nil:
		return ""
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return p.Username
	default:
		return p.Email
	}
}

// Clone returns a deep-enough copy for handing out to consumers.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Fields != nil {
		c.Fields = make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// Session is a snapshot of the process-wide session.
//
// User is present if and only if Status is StatusAuthenticated.
type Session struct {
	Status Status       `json:"status" yaml:"status"`
	User   *UserProfile `json:"user,omitempty" yaml:"user,omitempty"`
}

// Unauthenticated returns the reset session value.
func Unauthenticated() Session {
	return Session{Status: StatusUnauthenticated}
}

// Authenticated returns a session for the given profile.
func Authenticated(user *UserProfile) Session {
	return Session{Status: StatusAuthenticated, User: user}
}

// IsAuthenticated returns true for an authenticated session.
func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// Valid checks the user/status invariant.
func (s Session) Valid() bool {
	return (s.User != nil) == (s.Status == StatusAuthenticated)
}

// Registration is a sign-up request.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password2"`
}

// Normalize trims identifiers and fills the confirmation from the password
// when the caller did not ask for one.
func (r *Registration) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if r.PasswordConfirm == "" {
		r.PasswordConfirm = r.Password
	}
}
