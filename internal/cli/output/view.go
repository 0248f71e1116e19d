package output

import (
	"github.com/yndnr/sessionkeep-go/internal/core/domain"
)

// SessionView is the printable form of a session.
type SessionView struct {
	Status      string `json:"status" yaml:"status"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	UserID      string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Fingerprint string `json:"token_fingerprint,omitempty" yaml:"token_fingerprint,omitempty"`
	Storage     string `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// NewSessionView builds a view of s. fingerprint identifies the stored
// access token without revealing it.
func NewSessionView(s domain.Session, fingerprint string) SessionView {
	v := SessionView{Status: s.Status.String(), Fingerprint: fingerprint}
	if s.User != nil {
		v.Username = s.User.Username
		v.Email = s.User.Email
		v.Name = s.User.Name
		v.UserID = s.User.ID
	}
	return v
}

// Table implements Tabler.
func (v SessionView) Table() *Table {
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("status", v.Status)
	if v.Username != "" {
		t.AddRow("user", v.Username)
	}
	for _, row := range [][2]string{
		{"email", v.Email},
		{"name", v.Name},
		{"id", v.UserID},
		{"token", v.Fingerprint},
		{"storage", v.Storage},
	} {
		if row[1] != "" {
			t.AddRow(row[0], row[1])
		}
	}
	return t
}
