package session

import "errors"

var (
	ErrSessionOpen       = errors.New("failed to open browser session")
	ErrJoin              = errors.New("failed to join call")
	ErrProbe             = errors.New("failed to probe playback state")
	ErrNotImplemented    = errors.New("not implemented")
	ErrInvalidTransition = errors.New("invalid session state transition")
)
