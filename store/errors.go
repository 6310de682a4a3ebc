package store

import "errors"

// Sentinel errors returned by the Application Store, checked with
// errors.Is by callers (the engine, HTTP handlers) rather than by matching
// on Error() strings.
var (
	// ErrNotFound is returned when the referenced application, document or
	// decision does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by Transition when expected_from_state does
	// not match the row's current state; the caller must reload and decide.
	ErrConflict = errors.New("store: conflict")

	// ErrInvalidTransition is returned by Transition when from -> to is not
	// listed in state.ValidTransitions.
	ErrInvalidTransition = errors.New("store: invalid transition")

	// ErrDuplicateDocumentKind wraps an insert failure in AttachDocument.
	// Attaching a document of a kind already attached is not an error: the
	// existing row is replaced in place.
	ErrDuplicateDocumentKind = errors.New("store: duplicate document kind")

	// ErrInvalidStateForAction is returned when an operation is attempted
	// from a state that does not permit it (e.g. attach_document outside
	// FORM_SUBMITTED/DOCUMENTS_UPLOADED/PROCESSING_FAILED).
	ErrInvalidStateForAction = errors.New("store: invalid state for action")

	// ErrLeaseHeld names the condition of another worker holding a
	// non-expired lease; AcquireLease reports that condition as a false
	// result with a nil error rather than returning this value.
	ErrLeaseHeld = errors.New("store: lease held")
)
