package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/watchparty/internal/api"
	"github.com/shehryarbajwa/watchparty/internal/browser"
	"github.com/shehryarbajwa/watchparty/internal/config"
	"github.com/shehryarbajwa/watchparty/internal/history"
	"github.com/shehryarbajwa/watchparty/internal/logger"
	"github.com/shehryarbajwa/watchparty/internal/player"
	"github.com/shehryarbajwa/watchparty/internal/playback"
	"github.com/shehryarbajwa/watchparty/internal/proxy"
	"github.com/shehryarbajwa/watchparty/internal/ratelimit"
	"github.com/shehryarbajwa/watchparty/internal/session"
	"github.com/shehryarbajwa/watchparty/internal/source"
	"github.com/shehryarbajwa/watchparty/internal/transcode"
)

func main() {
	configPath := flag.String("config", "configs/watchparty.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logg.Sync()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("watchparty stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Browser
	var pool *browser.Pool
	if cfg.Browser.RemoteURL == "" {
		var err error
		pool, err = browser.NewPool(logg)
		if err != nil {
			return err
		}
		defer pool.Close()

		setupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		logg.Info("ensuring chrome image is available", zap.String("image", cfg.Browser.Image))
		if err := pool.EnsureImage(setupCtx, cfg.Browser.Image); err != nil {
			return err
		}
		if err := pool.Reap(setupCtx); err != nil {
			logg.Warn("failed to remove leftover browser containers", zap.Error(err))
		}
	}

	launcher := browser.NewLauncher(browser.LauncherConfig{
		RemoteURL:     cfg.Browser.RemoteURL,
		Keyboard:      cfg.Browser.Keyboard,
		Image:         cfg.Browser.Image,
		ContainerPort: cfg.Browser.ContainerPort,
		WindowWidth:   cfg.Browser.WindowWidth,
		WindowHeight:  cfg.Browser.WindowHeight,
		Display:       cfg.Browser.Display,
		ReadyTimeout:  cfg.Browser.ReadyTimeout,
	}, pool, logg)

	// Sources
	transcoder := transcode.New(transcode.Config{
		Binary:   cfg.Transcoder.Binary,
		Endpoint: cfg.Transcoder.Endpoint,
		Preset:   cfg.Transcoder.Preset,
		CRF:      cfg.Transcoder.CRF,
	}, transcode.NewExecRunner(logg), logg)
	opener := source.NewOpener(cfg.PlayerBaseURL(), transcoder, logg)

	sess := session.New(session.Config{
		AppURL:              cfg.App.BaseURL,
		AuthToken:           cfg.App.AuthToken,
		JoinSelector:        cfg.App.JoinSelector,
		ShareButtonSelector: cfg.App.ShareButtonSelector,
		TokenInjectInterval: cfg.Bootstrap.TokenInjectInterval,
		JoinBackoff:         cfg.Bootstrap.JoinBackoff,
		SharePickerDelay:    cfg.Bootstrap.SharePickerDelay,
		ReadyPoll:           cfg.ReadyPoll(),
	}, launcher, opener, logg)
	defer func() {
		if err := sess.Close(); err != nil {
			logg.Warn("failed to close browser session", zap.Error(err))
		}
	}()

	// History
	store, err := newHistoryStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Metrics
	var metrics *playback.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = playback.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	queue := playback.NewQueue(playback.Config{
		TickInterval: cfg.Queue.TickInterval,
		PlayTimeout:  cfg.Queue.PlayTimeout,
	}, sess, store, metrics, logg)

	// HTTP
	playerHandler, err := player.Handler(cfg.PlayerStreamURL())
	if err != nil {
		return err
	}

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	var debugProxy *proxy.Server
	if cfg.Debug.ProxyEnabled {
		logg.Warn("devtools debug proxy enabled", zap.String("path", "/v1/session/ws"))
		debugProxy = proxy.NewServer(sess, logg)
	}

	handler := api.NewHandler(queue, store, sess, logg)
	router := handler.SetupRoutes(api.RouteOptions{
		Proxy:             debugProxy,
		RateLimiter:       rateLimiter,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Metrics:           metricsHandler,
		Player:            playerHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logg.Info("server starting", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return queue.Run(gctx)
	})

	if rateLimiter != nil {
		g.Go(func() error {
			pruneRateLimits(gctx, rateLimiter)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logg.Info("server stopped cleanly")
	return nil
}

func newHistoryStore(ctx context.Context, cfg *config.Config, logg *zap.Logger) (history.Store, error) {
	if cfg.History.Backend == "redis" {
		return history.NewRedisStore(ctx, history.RedisOptions{
			Address:  cfg.History.Redis.Address,
			Password: cfg.History.Redis.Password,
			DB:       cfg.History.Redis.DB,
			Key:      cfg.History.Redis.Key,
			Limit:    cfg.History.Limit,
		}, logg)
	}
	return history.NewMemoryStore(cfg.History.Limit)
}

func pruneRateLimits(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}
