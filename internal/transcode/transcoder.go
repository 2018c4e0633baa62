package transcode

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Config describes the transcoder command
type Config struct {
	Binary   string
	Endpoint string // local HTTP endpoint the container is served on
	Preset   string
	CRF      int
}

// Transcoder keeps at most one transcoding process alive. It repackages a
// stream the browser cannot play (e.g. mkv) as fragmented mp4 served over HTTP.
type Transcoder struct {
	cfg    Config
	runner Runner
	logger *zap.Logger

	mu sync.Mutex
}

func New(cfg Config, runner Runner, logger *zap.Logger) *Transcoder {
	return &Transcoder{
		cfg:    cfg,
		runner: runner,
		logger: logger.Named("transcoder"),
	}
}

// Args returns the transcoder arguments for url.
func (t *Transcoder) Args(url string) []string {
	return []string{
		"-i", url,
		"-listen", "1",
		"-preset", t.cfg.Preset,
		"-f", "mp4",
		"-crf", strconv.Itoa(t.cfg.CRF),
		"-movflags", "frag_keyframe+empty_moov",
		t.cfg.Endpoint,
	}
}

// Start terminates any running transcoder, then spawns one for url. It returns
// once the process is spawned; the stream is not ready yet at that point.
func (t *Transcoder) Start(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.runner.KillByName(ctx, t.cfg.Binary); err != nil {
		return fmt.Errorf("failed to terminate previous transcoder: %w", err)
	}

	t.logger.Info("starting transcoder", zap.String("url", url), zap.String("endpoint", t.cfg.Endpoint))

	if err := t.runner.Spawn(t.cfg.Binary, t.Args(url)...); err != nil {
		return fmt.Errorf("%w: %w", ErrTranscodeSpawn, err)
	}

	return nil
}
