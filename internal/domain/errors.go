package domain

import "errors"

var (
	// ErrValidation indicates malformed input or an unknown offline record type.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a visit or referenced entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller is not the staff member assigned to the visit.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState is returned when a transition is attempted from an illegal state.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict signals a genuine business conflict such as a double start or a lost
	// revision race.
	ErrConflict = errors.New("conflict")
	// ErrStaleRevision is returned by repositories when a compare-and-set on Visit.Revision
	// fails. Services translate it to ErrConflict.
	ErrStaleRevision = errors.New("stale revision")
)

// ErrorKind classifies err into one of the taxonomy codes reported to callers.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStaleRevision):
		return "conflict"
	default:
		return "internal"
	}
}
