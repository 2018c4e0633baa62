package models

import "time"

// Destination identifies the call a video should be shared into.
type Destination struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
}

// PlaybackRequest is a queued request to play a video into a call
type PlaybackRequest struct {
	ID          string      `json:"id"`
	Destination Destination `json:"destination"`
	URL         string      `json:"url"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
}

// EnqueueRequest is the payload for queueing a video
type EnqueueRequest struct {
	Destination Destination `json:"destination"`
	URL         string      `json:"url"`
}

// PlaybackResult describes how a dequeued request finished
type PlaybackResult string

const (
	ResultPlayed PlaybackResult = "PLAYED"
	ResultFailed PlaybackResult = "FAILED"
)

// HistoryEntry records the outcome of one dequeued request
type HistoryEntry struct {
	Request    PlaybackRequest `json:"request"`
	Source     string          `json:"source,omitempty"`
	Result     PlaybackResult  `json:"result"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}
