package transcode

import "errors"

// ErrTranscodeSpawn is returned when the transcoder process could not be started.
var ErrTranscodeSpawn = errors.New("failed to spawn transcoder")

// ErrStillRunning is returned when a killed process did not exit in time.
var ErrStillRunning = errors.New("process still running after kill")
