/*
errors.go - Centralized error taxonomy for the estimator store

PURPOSE:
  All error kinds in one place so repositories, the storage engine and the
  HTTP layer agree on what went wrong. Repositories wrap a kind with the
  operation name and target id; callers branch with errors.Is.

ERROR CATEGORIES:
  1. Client errors   - validation, not found, duplicate number, ownership,
                       pending approval, admin invariants
  2. Infrastructure  - storage unavailable, migration failed, write failed

USAGE:
  if errors.Is(err, core.ErrNotFound) {
      // render 404
  }

  var e *core.Error
  if errors.As(err, &e) {
      log.Error().Str("op", e.Op).Int64("id", e.ID).Err(e).Msg("...")
  }

SEE ALSO:
  - store/sqlite/sqlite.go: produces infrastructure errors
  - api/handlers.go: maps kinds to HTTP status via HTTPStatus
*/
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an id does not resolve to a row.
	ErrNotFound = errors.New("not found")

	// ErrUniqueViolation is returned when a write collides with a unique
	// column (estimate number, user email).
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForbidden is returned when a user mutates a row owned by someone else.
	ErrForbidden = errors.New("forbidden")

	// ErrPendingApproval is returned by authentication when the credentials
	// are valid but an admin has not approved the account yet.
	ErrPendingApproval = errors.New("account is pending approval")

	// ErrLastAdmin is returned when an operation would leave zero admins.
	ErrLastAdmin = errors.New("cannot remove the last admin user")

	// ErrAdminProtected is returned when an operation targets an admin's
	// role or approval flag. Admin status is one-way.
	ErrAdminProtected = errors.New("admin role and approval cannot be changed")

	// ErrInvalidState is returned when the target row is not in a state the
	// operation accepts (e.g. denying an already approved user).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrStorageUnavailable is returned when the data directory or database
	// file cannot be created, opened or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMigrationFailed is returned when the schema could not be brought to
	// the current version. The store must be treated as unusable.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrWriteFailed is returned when a unit of work fails and was rolled back.
	ErrWriteFailed = errors.New("write failed")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrUniqueViolation,
	ErrForbidden,
	ErrPendingApproval,
	ErrLastAdmin,
	ErrAdminProtected,
	ErrInvalidState,
	ErrStorageUnavailable,
	ErrMigrationFailed,
	ErrWriteFailed,
}

// =============================================================================
// STRUCTURED ERROR - Carries operation context
// =============================================================================

// Error attaches the failing operation, the target id and the underlying
// cause to one of the sentinel kinds.
type Error struct {
	Kind   error
	Op     string
	ID     int64
	Fields []string
	Err    error
}

// E builds an error of the given kind. cause may be nil.
func E(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Validation reports the named fields as missing or malformed.
func Validation(op string, fields ...string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Fields: fields}
}

// NotFound reports that id does not exist.
func NotFound(op string, id int64) *Error {
	return &Error{Kind: ErrNotFound, Op: op, ID: id}
}

// WithID sets the target id and returns the receiver.
func (e *Error) WithID(id int64) *Error {
	e.ID = id
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ID != 0 {
		fmt.Fprintf(&b, " id=%d", e.ID)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the sentinel kind of err, or nil when err is unclassified.
// The outermost structured error wins.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsClassified reports whether err already carries one of the kinds.
func IsClassified(err error) bool {
	return KindOf(err) != nil
}

// IsClientError returns true if the error is due to the caller's input or
// permissions rather than the store.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case ErrValidation, ErrNotFound, ErrUniqueViolation, ErrForbidden,
		ErrPendingApproval, ErrLastAdmin, ErrAdminProtected, ErrInvalidState:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var statusByKind = map[error]int{
	ErrValidation:         http.StatusBadRequest,
	ErrNotFound:           http.StatusNotFound,
	ErrUniqueViolation:    http.StatusConflict,
	ErrForbidden:          http.StatusForbidden,
	ErrPendingApproval:    http.StatusForbidden,
	ErrAdminProtected:     http.StatusForbidden,
	ErrLastAdmin:          http.StatusConflict,
	ErrInvalidState:       http.StatusUnprocessableEntity,
	ErrStorageUnavailable: http.StatusServiceUnavailable,
	ErrMigrationFailed:    http.StatusServiceUnavailable,
	ErrWriteFailed:        http.StatusInternalServerError,
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	if status, ok := statusByKind[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
