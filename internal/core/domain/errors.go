package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DomainError represents a session-manager error with a structured error code.
// Codes follow the SK-<AREA>-<NNNN> layout; the numeric part mirrors the
// closest HTTP status.
type DomainError struct {
	Code    string // Error code (e.g., "SK-AUTH-4010")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrInvalidCredentials indicates the identity endpoint rejected a username/password pair.
	ErrInvalidCredentials = NewDomainError("SK-AUTH-4010", "invalid credentials")

	// ErrUnauthorized indicates the access token is expired or invalid.
	// Distinct from ErrInvalidCredentials: it never involves a password.
	ErrUnauthorized = NewDomainError("SK-AUTH-4011", "access token rejected")

	// ErrRefreshRejected indicates the refresh token is expired, invalid or revoked.
	ErrRefreshRejected = NewDomainError("SK-AUTH-4012", "refresh token rejected")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrNotAuthenticated indicates an operation needs a session and none exists.
	ErrNotAuthenticated = NewDomainError("SK-SESS-4010", "not authenticated")

	// ErrSessionBusy indicates another session operation is in flight.
	ErrSessionBusy = NewDomainError("SK-SESS-4090", "session operation already in progress")

	// ErrSessionSuperseded indicates a logout happened while the operation was in flight.
	ErrSessionSuperseded = NewDomainError("SK-SESS-4091", "session was reset while the operation was in flight")
)

// ============================================================================
// Transport Errors (NET, REQ)
// ============================================================================

var (
	// ErrNetwork indicates a transport failure (DNS, connect, TLS, timeout).
	// It never implies anything about token validity.
	ErrNetwork = NewDomainError("SK-NET-5030", "identity endpoint unreachable")

	// ErrRequestFailed indicates an unexpected response from the identity endpoint.
	ErrRequestFailed = NewDomainError("SK-REQ-5000", "identity request failed")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStorageUnavailable indicates the durable token store cannot be used.
	ErrStorageUnavailable = NewDomainError("SK-STOR-5001", "token storage unavailable")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SK-ARG-1001", "invalid argument")

	// ErrValidation indicates the identity endpoint rejected submitted fields.
	ErrValidation = NewDomainError("SK-ARG-4001", "validation failed")
)

// Well-known field keys in validation responses.
const (
	FieldNonField = "non_field_errors"
	FieldDetail   = "detail"
)

// fieldOrder is the order in which well-known fields are rendered.
var fieldOrder = []string{"username", "email", "password", "password2", FieldNonField}

// ValidationError carries per-field messages returned by the identity endpoint.
//
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	// Fields maps a field name to its messages.
	Fields map[string][]string

	// Detail is a general message; when set it replaces the field summary.
	Detail string
}

// NewValidationError creates a ValidationError with no fields.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends messages for a field.
func (e *ValidationError) Add(field string, messages ...string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], messages...)
}

// Has reports whether the field has at least one message.
func (e *ValidationError) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// FieldNames returns the fields with messages, well-known fields first.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	seen := make(map[string]bool, len(fieldOrder))
	for _, f := range fieldOrder {
		seen[f] = true
		if e.Has(f) {
			names = append(names, f)
		}
	}

	var rest []string
	for f := range e.Fields {
		if !seen[f] && e.Has(f) {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Message renders the human-readable summary shown to users.
func (e *ValidationError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}

	var b strings.Builder
	b.WriteString("Registration failed.")
	for _, f := range e.FieldNames() {
		b.WriteByte(' ')
		if f != FieldNonField {
			b.WriteString(fieldLabel(f))
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimRight(strings.Join(e.Fields[f], " "), "."))
		b.WriteByte('.')
	}
	return b.String()
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return ErrValidation.WithDetails(e.Message()).Error()
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || IsDomainError(target, ErrValidation.Code)
}

func fieldLabel(field string) string {
	switch field {
	case "password2":
		return "Confirm password"
	case "":
		return field
	}
	label := strings.ReplaceAll(field, "_", " ")
	return strings.ToUpper(label[:1]) + label[1:]
}

// UserMessage returns the one-line text a consumer shows next to a failed
// login or registration.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message()
	}

	var de *DomainError
	if errors.As(err, &de) {
		switch de.Code {
		case ErrInvalidCredentials.Code, ErrRefreshRejected.Code:
			if de.Details != "" {
				return de.Details
			}
			return "Login failed."
		case ErrNetwork.Code:
			return "Cannot reach the identity service. Check your connection and try again."
		case ErrSessionBusy.Code:
			return "Another sign-in is already in progress."
		case ErrSessionSuperseded.Code:
			return "Signed out while the request was in progress."
		}
		if de.Details != "" {
			return de.Message + ": " + de.Details
		}
		return de.Message
	}
	return err.Error()
}
