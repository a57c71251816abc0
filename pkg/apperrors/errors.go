package apperrors

import "errors"

var (
	// ErrNotFound is returned when an operation references a guest session
	// that does not exist or has already been deleted.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input the caller must fix
	// before retrying (negative retention days, empty policy version, ...).
	ErrValidation = errors.New("validation failed")

	// ErrAuditWrite is returned when an audit log entry could not be durably
	// written. The enclosing mutation must abort: a session change without
	// its processing record is a compliance violation, not a partial success.
	ErrAuditWrite = errors.New("audit write failed")
)
