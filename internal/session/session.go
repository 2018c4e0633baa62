package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/internal/browser"
	"github.com/shehryarbajwa/watchparty/internal/retry"
	"github.com/shehryarbajwa/watchparty/internal/source"
	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// ShareSequence walks the screen-share picker to the first tab and confirms it.
var ShareSequence = []string{"Tab", "Right", "Right", "Tab", "Down", "Down", "Return"}

// Launcher starts a remote browser.
type Launcher interface {
	Launch(ctx context.Context) (browser.Driver, error)
}

// Opener loads a source into the focused tab.
type Opener interface {
	Open(ctx context.Context, tab source.Tab, src source.Source) error
}

// Config controls how the session logs in, joins and shares.
type Config struct {
	AppURL    string
	AuthToken string
	// JoinSelector is a format string taking the channel id.
	JoinSelector        string
	ShareButtonSelector string
	TokenInjectInterval time.Duration
	JoinBackoff         time.Duration
	SharePickerDelay    time.Duration
	ReadyPoll           retry.Config
}

// Session owns the single shared browser. All methods are safe for
// concurrent use but the queue is expected to be the only caller of Play.
type Session struct {
	cfg      Config
	launcher Launcher
	opener   Opener
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	driver     browser.Driver
	mainWindow browser.WindowHandle
	videoTab   browser.WindowHandle
	joined     models.Destination

	status atomic.Pointer[models.SessionStatus]
}

func New(cfg Config, launcher Launcher, opener Opener, logger *zap.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		launcher: launcher,
		opener:   opener,
		logger:   logger.Named("session"),
	}
	s.publish()
	return s
}

// State returns the current bootstrap stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the last published snapshot without blocking on an in-flight Play.
func (s *Session) Status() models.SessionStatus {
	return *s.status.Load()
}

// EnsureOpen launches the browser if it is not already running.
func (s *Session) EnsureOpen(ctx context.Context) (browser.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return s.driver, nil
}

// Play brings the session up to Sharing and shows req's video in the shared tab.
// Unsupported urls are rejected before the browser is touched.
func (s *Session) Play(ctx context.Context, req models.PlaybackRequest) error {
	src, err := source.Classify(req.URL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(ctx); err != nil {
		return err
	}

	if s.state == StateOpen {
		if err := s.join(ctx, req.Destination); err != nil {
			return fmt.Errorf("%w: %w", ErrJoin, err)
		}
	} else if s.joined != req.Destination {
		s.logger.Warn("session already joined another channel, playing there",
			zap.String("joined_channel", s.joined.ChannelID),
			zap.String("requested_channel", req.Destination.ChannelID))
	}

	if s.state == StateSharing {
		return s.playInSharedTab(ctx, src)
	}
	return s.openAndShare(ctx, src)
}

// IsPlaying reports whether the shared tab holds a video that has not ended.
// Without a browser or a shared tab it reports false.
func (s *Session) IsPlaying(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil || s.videoTab == "" {
		return false, nil
	}

	playing, err := probe(ctx, s.driver, s.videoTab)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	return playing, nil
}

// Stop is reserved for stopping the current video. It changes nothing.
func (s *Session) Stop(ctx context.Context) error {
	return ErrNotImplemented
}

// Close shuts the browser down and returns the session to Closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return nil
	}

	err := s.driver.Close()
	s.driver = nil
	s.mainWindow = ""
	s.videoTab = ""
	s.joined = models.Destination{}
	_ = s.moveTo(StateClosed)

	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Info("browser session closed")
	return nil
}

func (s *Session) ensureOpen(ctx context.Context) error {
	if s.driver != nil {
		return nil
	}

	s.logger.Info("launching browser")
	d, err := s.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionOpen, err)
	}

	s.driver = d
	return s.moveTo(StateOpen)
}

// join logs in with the token and clicks into the voice channel.
func (s *Session) join(ctx context.Context, dest models.Destination) error {
	d := s.driver

	s.logger.Info("logging in", zap.String("url", s.cfg.AppURL))
	if err := d.Navigate(ctx, s.cfg.AppURL); err != nil {
		return err
	}
	if err := s.waitForPageLoad(ctx); err != nil {
		return err
	}

	var injected bool
	if err := d.Evaluate(ctx, injectTokenScript(s.cfg.AuthToken, s.cfg.TokenInjectInterval), &injected); err != nil {
		return fmt.Errorf("failed to inject auth token: %w", err)
	}
	err := retry.Until(ctx, s.cfg.ReadyPoll, func(ctx context.Context) (bool, error) {
		var stored bool
		if err := d.Evaluate(ctx, tokenStoredScript(s.cfg.AuthToken), &stored); err != nil {
			return false, err
		}
		return stored, nil
	})
	if err != nil {
		return fmt.Errorf("auth token not stored: %w", err)
	}

	if err := d.Reload(ctx); err != nil {
		return err
	}
	if err := s.waitForPageLoad(ctx); err != nil {
		return err
	}

	link := s.channelURL(dest)
	s.logger.Info("opening channel", zap.String("url", link))
	if err := d.Navigate(ctx, link); err != nil {
		return err
	}
	if err := s.waitForPageLoad(ctx); err != nil {
		return err
	}

	selector := fmt.Sprintf(s.cfg.JoinSelector, dest.ChannelID)
	joinOnce := retry.Config{MaxAttempts: 1, InitialDelay: s.cfg.JoinBackoff, Multiplier: 1}
	err = retry.Do(ctx, joinOnce, func(ctx context.Context) error {
		return d.Click(ctx, selector)
	})
	if err != nil {
		return fmt.Errorf("failed to click join control %q: %w", selector, err)
	}

	main, err := d.CurrentWindow(ctx)
	if err != nil {
		return err
	}

	s.mainWindow = main
	s.joined = dest
	if err := s.moveTo(StateJoined); err != nil {
		return err
	}
	s.logger.Info("joined channel",
		zap.String("server_id", dest.ServerID),
		zap.String("channel_id", dest.ChannelID))
	return nil
}

func (s *Session) channelURL(dest models.Destination) string {
	return fmt.Sprintf("%s/channels/%s/%s", strings.TrimRight(s.cfg.AppURL, "/"), dest.ServerID, dest.ChannelID)
}

func (s *Session) waitForPageLoad(ctx context.Context) error {
	err := retry.Until(ctx, s.cfg.ReadyPoll, func(ctx context.Context) (bool, error) {
		var complete bool
		if err := s.driver.Evaluate(ctx, pageLoadedScript, &complete); err != nil {
			return false, err
		}
		return complete, nil
	})
	if err != nil {
		return fmt.Errorf("page did not finish loading: %w", err)
	}
	return nil
}

func (s *Session) playInSharedTab(ctx context.Context, src source.Source) error {
	if err := s.driver.SwitchTo(ctx, s.videoTab); err != nil {
		return err
	}
	return s.opener.Open(ctx, s.driver, src)
}

// openAndShare opens the first video in a new tab and shares that tab into the call.
func (s *Session) openAndShare(ctx context.Context, src source.Source) error {
	d := s.driver

	tab, err := d.NewTab(ctx)
	if err != nil {
		return fmt.Errorf("failed to open video tab: %w", err)
	}

	err = s.startSharing(ctx, tab, src)
	if err != nil {
		s.discardTab(tab)
		return err
	}

	s.videoTab = tab
	if err := s.moveTo(StateSharing); err != nil {
		return err
	}
	s.logger.Info("screen share started", zap.String("tab", string(tab)))
	return nil
}

func (s *Session) startSharing(ctx context.Context, tab browser.WindowHandle, src source.Source) error {
	d := s.driver

	if err := d.SwitchTo(ctx, tab); err != nil {
		return err
	}
	if err := s.opener.Open(ctx, d, src); err != nil {
		return err
	}
	if err := d.SwitchTo(ctx, s.mainWindow); err != nil {
		return err
	}

	if err := d.Click(ctx, s.cfg.ShareButtonSelector); err != nil {
		return fmt.Errorf("failed to open screen share picker: %w", err)
	}
	if err := retry.Sleep(ctx, s.cfg.SharePickerDelay); err != nil {
		return err
	}
	if err := d.SendKeys(ctx, ShareSequence...); err != nil {
		return fmt.Errorf("failed to select shared tab: %w", err)
	}
	return nil
}

// discardTab closes a tab that never made it to Sharing and refocuses the main window.
func (s *Session) discardTab(tab browser.WindowHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.driver.CloseTab(ctx, tab); err != nil {
		s.logger.Warn("failed to close video tab", zap.String("tab", string(tab)), zap.Error(err))
	}
	if err := s.driver.SwitchTo(ctx, s.mainWindow); err != nil && !errors.Is(err, browser.ErrDriverClosed) {
		s.logger.Warn("failed to refocus main window", zap.Error(err))
	}
}

// moveTo changes state. Callers hold mu.
func (s *Session) moveTo(next State) error {
	if !canTransition(s.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}
	s.logger.Debug("session state changed", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
	s.publish()
	return nil
}

func (s *Session) publish() {
	status := &models.SessionStatus{
		State:      s.state.Model(),
		MainWindow: string(s.mainWindow),
		VideoTab:   string(s.videoTab),
		UpdatedAt:  time.Now(),
	}
	if s.driver != nil {
		handle := s.videoTab
		if handle == "" {
			handle = s.mainWindow
		}
		if handle != "" {
			status.DebugURL = s.driver.DebugURL(handle)
		}
	}
	s.status.Store(status)
}
