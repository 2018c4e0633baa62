package browser

import "errors"

var (
	ErrElementNotFound = errors.New("element not found")
	ErrUnknownWindow   = errors.New("unknown window handle")
	ErrDriverClosed    = errors.New("browser driver closed")
)
