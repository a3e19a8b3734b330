package ledger

import "errors"

// Error taxonomy for ledger operations. Callers classify failures with
// errors.Is; none of these are transient, so a client must never retry
// an operation that failed with one of them.
var (
	// ErrValidation indicates a malformed device id or digest.
	ErrValidation = errors.New("validation failed")

	// ErrAccessControl indicates the operator is not authorized.
	ErrAccessControl = errors.New("operator not authorized")

	// ErrDuplicateRecord indicates the device already has a record.
	// Records are created exactly once and never overwritten.
	ErrDuplicateRecord = errors.New("device already recorded")

	// ErrPaused indicates the ledger is administratively paused.
	ErrPaused = errors.New("ledger paused")

	// ErrNotFound indicates no record exists for the device.
	ErrNotFound = errors.New("record not found")
)

// ErrorCode returns the wire code for a ledger error, used by the HTTP
// surface and mapped back to sentinels by the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAccessControl):
		return "access_control"
	case errors.Is(err, ErrDuplicateRecord):
		return "duplicate_record"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}

// FromCode maps a wire code back to its sentinel error.
// Unknown codes return nil.
func FromCode(code string) error {
	switch code {
	case "access_control":
		return ErrAccessControl
	case "duplicate_record":
		return ErrDuplicateRecord
	case "paused":
		return ErrPaused
	case "not_found":
		return ErrNotFound
	case "validation":
		return ErrValidation
	default:
		return nil
	}
}
