package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/internal/history"
	"github.com/shehryarbajwa/watchparty/internal/source"
	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// Player shows videos in the shared call. Play and IsPlaying are only
// called from the queue loop.
type Player interface {
	Play(ctx context.Context, req models.PlaybackRequest) error
	IsPlaying(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
}

type Config struct {
	TickInterval time.Duration
	PlayTimeout  time.Duration
}

// Queue is a FIFO of playback requests drained one at a time into a Player.
type Queue struct {
	cfg     Config
	player  Player
	history history.Store
	metrics *Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending []models.PlaybackRequest

	running atomic.Bool
	now     func() time.Time
}

// NewQueue creates a queue. store and metrics may be nil.
func NewQueue(cfg Config, player Player, store history.Store, metrics *Metrics, logger *zap.Logger) *Queue {
	return &Queue{
		cfg:     cfg,
		player:  player,
		history: store,
		metrics: metrics,
		logger:  logger.Named("queue"),
		now:     time.Now,
	}
}

// Enqueue appends a request and returns immediately.
func (q *Queue) Enqueue(dest models.Destination, url string) models.PlaybackRequest {
	req := models.PlaybackRequest{
		ID:          uuid.New().String(),
		Destination: dest,
		URL:         url,
		EnqueuedAt:  q.now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, req)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.recordEnqueue()
	q.metrics.setDepth(depth)
	q.logger.Info("request enqueued",
		zap.String("request_id", req.ID),
		zap.String("url", url),
		zap.Int("depth", depth))
	return req
}

// Pending returns the queued requests in the order they will be played.
func (q *Queue) Pending() []models.PlaybackRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PlaybackRequest, len(q.pending))
	copy(out, q.pending)
	return out
}

// Skip advances past the current video by stopping it.
func (q *Queue) Skip(ctx context.Context, dest models.Destination) error {
	return q.player.Stop(ctx)
}

// Stop halts the current video.
func (q *Queue) Stop(ctx context.Context) error {
	return q.player.Stop(ctx)
}

// Run drains the queue every tick until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer q.running.Store(false)

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	q.logger.Info("playback loop started", zap.Duration("tick", q.cfg.TickInterval))
	for {
		q.tick(ctx)

		select {
		case <-ctx.Done():
			q.logger.Info("playback loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tick plays the next request if nothing is playing.
func (q *Queue) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	playing, err := q.player.IsPlaying(ctx)
	if err != nil {
		q.metrics.recordProbeError()
		q.logger.Warn("unable to check if a video is playing", zap.Error(err))
		return
	}
	if playing {
		return
	}

	req, ok := q.pop()
	if !ok {
		return
	}
	q.play(ctx, req)
}

func (q *Queue) pop() (models.PlaybackRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return models.PlaybackRequest{}, false
	}

	req := q.pending[0]
	q.pending[0] = models.PlaybackRequest{}
	q.pending = q.pending[1:]
	q.metrics.setDepth(len(q.pending))
	return req, true
}

// play runs one request to completion. Stopping the loop does not abort it.
func (q *Queue) play(ctx context.Context, req models.PlaybackRequest) {
	playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.PlayTimeout)
	defer cancel()

	logger := q.logger.With(zap.String("request_id", req.ID), zap.String("url", req.URL))
	entry := models.HistoryEntry{
		Request:   req,
		Source:    sourceLabel(req.URL),
		Result:    models.ResultPlayed,
		StartedAt: q.now(),
	}

	logger.Info("playing video", zap.String("source", entry.Source))
	err := q.player.Play(playCtx, req)
	entry.FinishedAt = q.now()

	if err != nil {
		entry.Result = models.ResultFailed
		entry.Error = err.Error()
		logger.Warn("unable to play video", zap.Error(err))
	} else {
		logger.Info("video on screen", zap.Duration("took", entry.FinishedAt.Sub(entry.StartedAt)))
	}

	q.metrics.recordPlay(entry)
	q.record(context.WithoutCancel(ctx), entry)
}

func (q *Queue) record(ctx context.Context, entry models.HistoryEntry) {
	if q.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.history.Record(ctx, entry); err != nil {
		q.logger.Warn("failed to record playback history",
			zap.String("request_id", entry.Request.ID),
			zap.Error(err))
	}
}

func sourceLabel(rawURL string) string {
	src, err := source.Classify(rawURL)
	if err != nil {
		return "unsupported"
	}
	return src.Kind.String()
}
