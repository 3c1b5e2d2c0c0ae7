package errors

import "fmt"

// Category represents different categories of operation errors
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryRateLimit  Category = "rate_limit"
	CategoryServer     Category = "server_error"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryUnknown    Category = "unknown"
)

// Error represents an operation error with category and code information
type Error struct {
	Category Category
	Code     int
	Message  string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// New creates a categorized operation error
func New(category Category, code int, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// CorruptStateError indicates the persisted state document cannot be parsed
// or lacks required top-level structure. Not auto-recoverable without a valid
// backup or an explicit fresh start.
type CorruptStateError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %s", e.Path, e.Reason)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// ValidationError indicates a loaded state document failed schema or version
// validation. It carries machine-readable detail plus a remediation
// suggestion for the operator.
type ValidationError struct {
	Field           string // missing or invalid field, if any
	ExpectedVersion int    // zero when the failure is not version-related
	FoundVersion    int
	Suggestion      string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("state validation failed: missing field %q (%s)", e.Field, e.Suggestion)
	}
	return fmt.Sprintf("state validation failed: schema version %d, expected %d (%s)",
		e.FoundVersion, e.ExpectedVersion, e.Suggestion)
}

// TransitionError indicates a phase status transition outside the defined
// state machine. Always a caller bug, never retried.
type TransitionError struct {
	Key   string
	Phase string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for item %q phase %q: %s -> %s",
		e.Key, e.Phase, e.From, e.To)
}

// KeyNotFoundError indicates an operation referenced an unknown work-item key
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("work item not found: %q", e.Key)
}
