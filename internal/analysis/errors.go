package analysis

import "errors"

var (
	// ErrNotFound indicates a missing input file or session handle.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates an unreadable persisted record or index.
	ErrCorrupt = errors.New("corrupt data")

	// ErrInvalidArgument indicates a bad caller-supplied parameter, such as
	// a negative offset or an unknown collection name.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceBusy indicates a transient file lock that survived the
	// bounded retry window.
	ErrResourceBusy = errors.New("resource busy")

	// ErrUpstream indicates the analysis pipeline failed or produced no
	// output.
	ErrUpstream = errors.New("upstream failure")
)

// Error codes exposed to the tool layer. Every core failure classifies
// into exactly one of these.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeCorrupt         = "CORRUPT"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeResourceBusy    = "RESOURCE_BUSY"
	CodeUpstream        = "UPSTREAM"
	CodeInternal        = "INTERNAL"
)

// Classify maps a core error to its stable error code.
// Unrecognized errors fall back to CodeInternal rather than leaking raw
// error chains as the only signal.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrCorrupt):
		return CodeCorrupt
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrResourceBusy):
		return CodeResourceBusy
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	default:
		return CodeInternal
	}
}
