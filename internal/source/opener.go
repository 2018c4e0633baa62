package source

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Tab is the browser tab a source is opened in.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	SendKeys(ctx context.Context, keys ...string) error
}

// Transcoder starts the stream conversion for sources the browser cannot play.
type Transcoder interface {
	Start(ctx context.Context, url string) error
}

// TheatreModeKey toggles twitch theatre mode.
const TheatreModeKey = "alt+t"

// Opener loads a classified source into a tab.
type Opener struct {
	playerURL  string
	transcoder Transcoder
	logger     *zap.Logger
}

// NewOpener creates an opener. playerURL is the base of the hosted player page.
func NewOpener(playerURL string, transcoder Transcoder, logger *zap.Logger) *Opener {
	return &Opener{
		playerURL:  playerURL,
		transcoder: transcoder,
		logger:     logger.Named("opener"),
	}
}

func (o *Opener) Open(ctx context.Context, tab Tab, src Source) error {
	switch src.Kind {
	case KindYouTube:
		return o.openYouTube(ctx, tab, src)
	case KindTwitch:
		return o.openTwitch(ctx, tab, src)
	case KindStremio:
		return o.openStremio(ctx, tab, src)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, src.URL)
	}
}

func (o *Opener) openYouTube(ctx context.Context, tab Tab, src Source) error {
	path, err := o.PlayerURL(url.Values{"youtube_video_id": {src.VideoID}})
	if err != nil {
		return err
	}

	o.logger.Info("navigating to youtube player", zap.String("path", path))
	return tab.Navigate(ctx, path)
}

func (o *Opener) openTwitch(ctx context.Context, tab Tab, src Source) error {
	o.logger.Info("navigating to twitch live", zap.String("url", src.URL))
	if err := tab.Navigate(ctx, src.URL); err != nil {
		return err
	}

	// The theatre mode button is not reliably clickable, the shortcut is.
	return tab.SendKeys(ctx, TheatreModeKey)
}

func (o *Opener) openStremio(ctx context.Context, tab Tab, src Source) error {
	if err := o.transcoder.Start(ctx, src.URL); err != nil {
		return err
	}

	path, err := o.PlayerURL(url.Values{"is_stremio_video": {"1"}})
	if err != nil {
		return err
	}

	o.logger.Info("navigating to stremio player", zap.String("path", path))
	return tab.Navigate(ctx, path)
}

// PlayerURL returns the player page URL with params added to its query.
func (o *Opener) PlayerURL(params url.Values) (string, error) {
	u, err := url.Parse(o.playerURL)
	if err != nil {
		return "", fmt.Errorf("invalid player url %q: %w", o.playerURL, err)
	}

	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
