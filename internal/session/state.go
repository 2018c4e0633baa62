package session

import (
	"fmt"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// State is the bootstrap stage of the shared browser.
type State int

const (
	// StateClosed: no browser.
	StateClosed State = iota
	// StateOpen: browser launched, not yet in the call.
	StateOpen
	// StateJoined: logged in and joined, main window known.
	StateJoined
	// StateSharing: a video tab exists and is being screen shared.
	StateSharing
)

func (s State) String() string {
	return string(s.Model())
}

// Model converts the state to its API representation.
func (s State) Model() models.SessionState {
	switch s {
	case StateClosed:
		return models.SessionClosed
	case StateOpen:
		return models.SessionOpen
	case StateJoined:
		return models.SessionJoined
	case StateSharing:
		return models.SessionSharing
	default:
		return models.SessionState(fmt.Sprintf("UNKNOWN(%d)", int(s)))
	}
}

// canTransition reports whether from -> to is legal. Every state may close.
func canTransition(from, to State) bool {
	switch to {
	case StateClosed:
		return true
	case StateOpen:
		return from == StateClosed
	case StateJoined:
		return from == StateOpen
	case StateSharing:
		return from == StateJoined
	default:
		return false
	}
}
