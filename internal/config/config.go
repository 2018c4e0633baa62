package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/shehryarbajwa/watchparty/internal/retry"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Browser struct {
		// RemoteURL skips the container launch and dials an existing CDP endpoint.
		RemoteURL     string `yaml:"remote_url"`
		Image         string `yaml:"image"`
		ContainerPort string `yaml:"container_port"`
		WindowWidth   int    `yaml:"window_width"`
		WindowHeight  int    `yaml:"window_height"`
		Display       string `yaml:"display"`
		// Keyboard is "container" (xdotool via docker exec) or "local".
		Keyboard     string        `yaml:"keyboard"`
		ReadyTimeout time.Duration `yaml:"ready_timeout"`
	} `yaml:"browser"`

	App struct {
		BaseURL             string `yaml:"base_url"`
		AuthToken           string `yaml:"-"`
		JoinSelector        string `yaml:"join_selector"`
		ShareButtonSelector string `yaml:"share_button_selector"`
	} `yaml:"app"`

	// Player URLs are resolved from the browser's point of view. Left empty,
	// they point at this host through host.docker.internal when the browser
	// runs in a launched container and through localhost otherwise.
	Player struct {
		BaseURL   string `yaml:"base_url"`
		StreamURL string `yaml:"stream_url"`
	} `yaml:"player"`

	Transcoder struct {
		Binary   string `yaml:"binary"`
		Endpoint string `yaml:"endpoint"`
		Preset   string `yaml:"preset"`
		CRF      int    `yaml:"crf"`
	} `yaml:"transcoder"`

	Queue struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		PlayTimeout  time.Duration `yaml:"play_timeout"`
	} `yaml:"queue"`

	Bootstrap struct {
		TokenInjectInterval time.Duration `yaml:"token_inject_interval"`
		JoinBackoff         time.Duration `yaml:"join_backoff"`
		SharePickerDelay    time.Duration `yaml:"share_picker_delay"`
		ReadyPoll           struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"ready_poll"`
	} `yaml:"bootstrap"`

	History struct {
		Backend string `yaml:"backend"`
		Limit   int    `yaml:"limit"`
		Redis   struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Key      string `yaml:"key"`
		} `yaml:"redis"`
	} `yaml:"history"`

	RateLimit struct {
		Enabled           bool `yaml:"enabled"`
		RequestsPerMinute int  `yaml:"requests_per_minute"`
		Burst             int  `yaml:"burst"`
	} `yaml:"rate_limit"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	Debug struct {
		// ProxyEnabled exposes the shared tab's devtools socket at /v1/session/ws.
		ProxyEnabled bool `yaml:"proxy_enabled"`
	} `yaml:"debug"`
}

// browserHost is the name the browser uses to reach this machine.
func (c *Config) browserHost() string {
	if c.Browser.RemoteURL == "" {
		return "host.docker.internal"
	}
	return "localhost"
}

// PlayerBaseURL is the player page address as seen from the browser.
func (c *Config) PlayerBaseURL() string {
	if c.Player.BaseURL != "" {
		return c.Player.BaseURL
	}
	_, port, err := net.SplitHostPort(c.Server.Address)
	if err != nil || port == "" {
		port = "8080"
	}
	return "http://" + net.JoinHostPort(c.browserHost(), port) + "/static/index.html"
}

// PlayerStreamURL is the transcoder endpoint as seen from the browser.
func (c *Config) PlayerStreamURL() string {
	if c.Player.StreamURL != "" {
		return c.Player.StreamURL
	}
	u, err := url.Parse(c.Transcoder.Endpoint)
	if err != nil || u.Host == "" {
		return c.Transcoder.Endpoint
	}
	host := u.Hostname()
	switch {
	case c.Browser.RemoteURL == "":
		host = c.browserHost()
	case host == "0.0.0.0" || host == "::":
		host = "localhost"
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String()
}

// ReadyPoll converts the bootstrap polling section into a retry configuration.
func (c *Config) ReadyPoll() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Bootstrap.ReadyPoll.MaxAttempts,
		InitialDelay: c.Bootstrap.ReadyPoll.InitialDelay,
		MaxDelay:     c.Bootstrap.ReadyPoll.MaxDelay,
		Multiplier:   c.Bootstrap.ReadyPoll.Multiplier,
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read/write timeouts must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Logging
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	// Browser
	if c.Browser.RemoteURL == "" && c.Browser.Image == "" {
		return fmt.Errorf("browser.image must be set when browser.remote_url is empty")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be > 0")
	}
	switch c.Browser.Keyboard {
	case "container":
		if c.Browser.RemoteURL != "" {
			return fmt.Errorf("browser.keyboard=container requires a launched container, use local with remote_url")
		}
	case "local":
	default:
		return fmt.Errorf("browser.keyboard must be container or local, got %q", c.Browser.Keyboard)
	}

	// App
	if c.App.BaseURL == "" {
		return fmt.Errorf("app.base_url must not be empty")
	}
	if c.App.AuthToken == "" {
		return fmt.Errorf("WATCHPARTY_AUTH_TOKEN must be set")
	}
	if c.App.JoinSelector == "" || c.App.ShareButtonSelector == "" {
		return fmt.Errorf("app selectors must not be empty")
	}

	// Transcoder
	if c.Transcoder.Binary == "" || c.Transcoder.Endpoint == "" {
		return fmt.Errorf("transcoder.binary and transcoder.endpoint must not be empty")
	}

	// Queue
	if c.Queue.TickInterval <= 0 {
		return fmt.Errorf("queue.tick_interval must be > 0")
	}
	if c.Queue.PlayTimeout <= 0 {
		return fmt.Errorf("queue.play_timeout must be > 0")
	}

	// Bootstrap
	if c.Bootstrap.TokenInjectInterval <= 0 {
		return fmt.Errorf("bootstrap.token_inject_interval must be > 0")
	}
	if c.Bootstrap.ReadyPoll.MaxAttempts < 0 {
		return fmt.Errorf("bootstrap.ready_poll.max_attempts must be >= 0")
	}

	// History
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be > 0")
	}
	switch c.History.Backend {
	case "memory":
	case "redis":
		if c.History.Redis.Address == "" {
			return fmt.Errorf("history.redis.address must not be empty when history.backend=redis")
		}
	default:
		return fmt.Errorf("history.backend must be memory or redis, got %q", c.History.Backend)
	}

	// Rate limiting
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.requests_per_minute and burst must be > 0 when enabled")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Browser.Image = "browserless/chrome:latest"
	cfg.Browser.ContainerPort = "3000"
	cfg.Browser.WindowWidth = 1920
	cfg.Browser.WindowHeight = 1080
	cfg.Browser.Display = ":99"
	cfg.Browser.Keyboard = "container"
	cfg.Browser.ReadyTimeout = 30 * time.Second

	cfg.App.BaseURL = "https://discord.com"
	cfg.App.JoinSelector = "a[data-list-item-id='channels___%s']"
	cfg.App.ShareButtonSelector = `button[aria-label="Share Your Screen"]`

	cfg.Transcoder.Binary = "ffmpeg"
	// All interfaces, so a containerized browser can reach the listener.
	cfg.Transcoder.Endpoint = "http://0.0.0.0:3001/video_stream"
	cfg.Transcoder.Preset = "fast"
	cfg.Transcoder.CRF = 20

	cfg.Queue.TickInterval = time.Second
	cfg.Queue.PlayTimeout = 3 * time.Minute

	cfg.Bootstrap.TokenInjectInterval = 50 * time.Millisecond
	cfg.Bootstrap.JoinBackoff = time.Second
	cfg.Bootstrap.SharePickerDelay = 200 * time.Millisecond
	cfg.Bootstrap.ReadyPoll.MaxAttempts = 20
	cfg.Bootstrap.ReadyPoll.InitialDelay = 100 * time.Millisecond
	cfg.Bootstrap.ReadyPoll.MaxDelay = time.Second
	cfg.Bootstrap.ReadyPoll.Multiplier = 1.5

	cfg.History.Backend = "memory"
	cfg.History.Limit = 50
	cfg.History.Redis.Address = "localhost:6379"
	cfg.History.Redis.Key = "watchparty:history"

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 20
	cfg.RateLimit.Burst = 5

	cfg.Metrics.Enabled = true

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("WATCHPARTY_AUTH_TOKEN"); token != "" {
		c.App.AuthToken = token
	}
	if addr := os.Getenv("WATCHPARTY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("WATCHPARTY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if remote := os.Getenv("WATCHPARTY_BROWSER_REMOTE_URL"); remote != "" {
		c.Browser.RemoteURL = remote
		c.Browser.Keyboard = "local"
	}
	if player := os.Getenv("WATCHPARTY_PLAYER_BASE_URL"); player != "" {
		c.Player.BaseURL = player
	}
	if stream := os.Getenv("WATCHPARTY_PLAYER_STREAM_URL"); stream != "" {
		c.Player.StreamURL = stream
	}
	if addr := os.Getenv("WATCHPARTY_REDIS_ADDRESS"); addr != "" {
		c.History.Backend = "redis"
		c.History.Redis.Address = addr
	}
	if password := os.Getenv("WATCHPARTY_REDIS_PASSWORD"); password != "" {
		c.History.Redis.Password = password
	}
	if enabled, err := strconv.ParseBool(os.Getenv("WATCHPARTY_DEBUG_PROXY_ENABLED")); err == nil {
		c.Debug.ProxyEnabled = enabled
	}
}
