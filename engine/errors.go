package engine

import "errors"

// Sentinel errors surfaced by the engine's entry points. HTTP handlers map
// these onto the error codes of §6 (INVALID_FORM, INVALID_STATE, etc.).
var (
	ErrInvalidForm    = errors.New("INVALID_FORM")
	ErrInvalidState   = errors.New("INVALID_STATE")
	ErrAlreadyRunning = errors.New("ALREADY_RUNNING")
	ErrTerminal       = errors.New("TERMINAL")
)
