package models

import "time"

// SessionState represents where the shared browser is in its bootstrap
type SessionState string

const (
	SessionClosed  SessionState = "CLOSED"
	SessionOpen    SessionState = "OPEN"
	SessionJoined  SessionState = "JOINED"
	SessionSharing SessionState = "SHARING"
)

// SessionStatus is a point-in-time view of the shared browser session
type SessionStatus struct {
	State      SessionState `json:"state"`
	MainWindow string       `json:"mainWindow,omitempty"`
	VideoTab   string       `json:"videoTab,omitempty"`
	DebugURL   string       `json:"-"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}
