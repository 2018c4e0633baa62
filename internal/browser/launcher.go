package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LauncherConfig selects between a remote endpoint and a launched container.
type LauncherConfig struct {
	RemoteURL     string
	Keyboard      string // "container" or "local"
	Image         string
	ContainerPort string
	WindowWidth   int
	WindowHeight  int
	Display       string
	ReadyTimeout  time.Duration
}

// Launcher produces connected drivers for the playback session.
type Launcher struct {
	cfg    LauncherConfig
	pool   *Pool
	logger *zap.Logger
}

// NewLauncher creates a launcher. pool may be nil when RemoteURL is set.
func NewLauncher(cfg LauncherConfig, pool *Pool, logger *zap.Logger) *Launcher {
	return &Launcher{
		cfg:    cfg,
		pool:   pool,
		logger: logger.Named("launcher"),
	}
}

func (l *Launcher) Launch(ctx context.Context) (Driver, error) {
	if l.cfg.RemoteURL != "" {
		return l.dialRemote(ctx)
	}
	if l.pool == nil {
		return nil, fmt.Errorf("no remote browser configured and no docker pool available")
	}
	return l.launchContainer(ctx)
}

func (l *Launcher) dialRemote(ctx context.Context) (Driver, error) {
	endpoint, err := ConnectURL(l.cfg.RemoteURL, l.cfg.WindowWidth, l.cfg.WindowHeight)
	if err != nil {
		return nil, err
	}

	l.logger.Info("dialing remote browser", zap.String("endpoint", l.cfg.RemoteURL))
	return DialCDP(ctx, endpoint, LocalKeyboard{Display: l.cfg.Display}, l.logger, nil)
}

func (l *Launcher) launchContainer(ctx context.Context) (Driver, error) {
	instance, err := l.pool.Launch(ctx, LaunchOptions{
		Image:         l.cfg.Image,
		ContainerPort: l.cfg.ContainerPort,
		WindowWidth:   l.cfg.WindowWidth,
		WindowHeight:  l.cfg.WindowHeight,
		Display:       l.cfg.Display,
		ReadyTimeout:  l.cfg.ReadyTimeout,
	})
	if err != nil {
		return nil, err
	}

	stop := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return l.pool.Stop(ctx, instance.ContainerID)
	}

	endpoint, err := ConnectURL(instance.ConnectURL, l.cfg.WindowWidth, l.cfg.WindowHeight)
	if err != nil {
		if stopErr := stop(); stopErr != nil {
			l.logger.Warn("failed to stop browser container", zap.Error(stopErr))
		}
		return nil, err
	}

	var keyboard Keyboard = LocalKeyboard{Display: l.cfg.Display}
	if l.cfg.Keyboard == "container" {
		keyboard = ContainerKeyboard{Executor: l.pool, ContainerID: instance.ContainerID, Display: l.cfg.Display}
	}

	driver, err := DialCDP(ctx, endpoint, keyboard, l.logger, stop)
	if err != nil {
		if stopErr := stop(); stopErr != nil {
			l.logger.Warn("failed to stop browser container", zap.Error(stopErr))
		}
		return nil, err
	}

	return driver, nil
}
