package playback

import "errors"

var ErrAlreadyRunning = errors.New("playback queue is already running")
