package session

import (
	"context"
	"fmt"

	"github.com/shehryarbajwa/watchparty/internal/browser"
)

// PlayerState is the numeric state reported by the embedded YouTube player.
type PlayerState int

const (
	PlayerUnstarted PlayerState = -1
	PlayerEnded     PlayerState = 0
	PlayerPlaying   PlayerState = 1
	PlayerPaused    PlayerState = 2
	PlayerBuffering PlayerState = 3
	PlayerCued      PlayerState = 5
)

func (p PlayerState) String() string {
	switch p {
	case PlayerUnstarted:
		return "unstarted"
	case PlayerEnded:
		return "ended"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerBuffering:
		return "buffering"
	case PlayerCued:
		return "cued"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Active reports whether the player holds a video that has not finished.
func (p PlayerState) Active() bool {
	switch p {
	case PlayerPlaying, PlayerPaused, PlayerBuffering:
		return true
	default:
		return false
	}
}

// StreamVideoElementID is the id of the native video element on the player page.
const StreamVideoElementID = "stremio-stream-video"

// probeScript inspects the player page. window.player is set by the page.
const probeScript = `(() => {
  if (window.player && typeof window.player.getPlayerState === "function") {
    return { widget: true, state: window.player.getPlayerState() };
  }
  const video = document.getElementById("` + StreamVideoElementID + `");
  if (video) {
    return { video: true, ended: video.ended };
  }
  return {};
})()`

type probeResult struct {
	Widget bool        `json:"widget"`
	State  PlayerState `json:"state"`
	Video  bool        `json:"video"`
	Ended  bool        `json:"ended"`
}

func (r probeResult) active() bool {
	switch {
	case r.Widget:
		return r.State.Active()
	case r.Video:
		return !r.Ended
	default:
		return false
	}
}

// probe reports whether tab holds an active video, focusing it first.
func probe(ctx context.Context, d browser.Driver, tab browser.WindowHandle) (bool, error) {
	current, err := d.CurrentWindow(ctx)
	if err != nil {
		return false, err
	}
	if current != tab {
		if err := d.SwitchTo(ctx, tab); err != nil {
			return false, err
		}
	}

	var result probeResult
	if err := d.Evaluate(ctx, probeScript, &result); err != nil {
		return false, err
	}
	return result.active(), nil
}
