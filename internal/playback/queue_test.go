package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/watchparty/internal/history"
	"github.com/shehryarbajwa/watchparty/internal/session"
	"github.com/shehryarbajwa/watchparty/internal/source"
	"github.com/shehryarbajwa/watchparty/pkg/models"
)

type MockPlayer struct {
	mock.Mock
}

func (m *MockPlayer) Play(ctx context.Context, req models.PlaybackRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockPlayer) IsPlaying(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPlayer) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var dest = models.Destination{ServerID: "S", ChannelID: "C"}

func testQueue(t *testing.T, player Player) (*Queue, *history.MemoryStore, *prometheus.Registry) {
	store, err := history.NewMemoryStore(10)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	q := NewQueue(Config{TickInterval: time.Millisecond, PlayTimeout: time.Second},
		player, store, NewMetrics(reg), zaptest.NewLogger(t))
	return q, store, reg
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestEnqueue_AssignsIDAndKeepsOrder(t *testing.T) {
	q, _, reg := testQueue(t, &MockPlayer{})

	first := q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	second := q.Enqueue(dest, "https://www.youtube.com/watch?v=b")

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.EnqueuedAt.IsZero())

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, 2.0, metricValue(t, reg, "watchparty_queue_depth", nil))
	assert.Equal(t, 2.0, metricValue(t, reg, "watchparty_requests_enqueued_total", nil))
}

func TestTick_PlaysInFIFOOrder(t *testing.T) {
	player := &MockPlayer{}
	q, _, _ := testQueue(t, player)

	var played []string
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	player.On("Play", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		played = append(played, args.Get(1).(models.PlaybackRequest).URL)
	}).Return(nil)

	urls := []string{
		"https://www.youtube.com/watch?v=1",
		"https://twitch.tv/two",
		"https://www.youtube.com/watch?v=3",
	}
	for _, u := range urls {
		q.Enqueue(dest, u)
	}

	for i := 0; i < 4; i++ {
		q.tick(context.Background())
	}

	assert.Equal(t, urls, played)
	assert.Empty(t, q.Pending())
	player.AssertNumberOfCalls(t, "Play", 3)
}

func TestTick_WaitsWhileVideoIsPlaying(t *testing.T) {
	player := &MockPlayer{}
	q, _, _ := testQueue(t, player)
	player.On("IsPlaying", mock.Anything).Return(true, nil)

	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	q.tick(context.Background())

	player.AssertNotCalled(t, "Play", mock.Anything, mock.Anything)
	assert.Len(t, q.Pending(), 1)
}

func TestTick_ProbeErrorSkipsTick(t *testing.T) {
	player := &MockPlayer{}
	q, _, reg := testQueue(t, player)
	player.On("IsPlaying", mock.Anything).Return(false, session.ErrProbe)

	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	q.tick(context.Background())

	player.AssertNotCalled(t, "Play", mock.Anything, mock.Anything)
	assert.Len(t, q.Pending(), 1)
	assert.Equal(t, 1.0, metricValue(t, reg, "watchparty_probe_errors_total", nil))
}

func TestTick_PlayErrorIsRecordedAndDropped(t *testing.T) {
	player := &MockPlayer{}
	q, store, reg := testQueue(t, player)
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	player.On("Play", mock.Anything, mock.MatchedBy(func(req models.PlaybackRequest) bool {
		return req.URL == "https://not-a-video.test/"
	})).Return(source.ErrUnsupportedURL)
	player.On("Play", mock.Anything, mock.Anything).Return(nil)

	bad := q.Enqueue(dest, "https://not-a-video.test/")
	good := q.Enqueue(dest, "https://www.youtube.com/watch?v=ok")

	q.tick(context.Background())
	q.tick(context.Background())

	entries, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, good.ID, entries[0].Request.ID)
	assert.Equal(t, models.ResultPlayed, entries[0].Result)
	assert.Equal(t, "youtube", entries[0].Source)

	assert.Equal(t, bad.ID, entries[1].Request.ID)
	assert.Equal(t, models.ResultFailed, entries[1].Result)
	assert.Equal(t, "unsupported", entries[1].Source)
	assert.Equal(t, source.ErrUnsupportedURL.Error(), entries[1].Error)

	assert.Empty(t, q.Pending())
	assert.Equal(t, 1.0, metricValue(t, reg, "watchparty_plays_total",
		map[string]string{"source": "unsupported", "result": "FAILED"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "watchparty_plays_total",
		map[string]string{"source": "youtube", "result": "PLAYED"}))
}

func TestTick_PlayOutlivesLoopCancellation(t *testing.T) {
	player := &MockPlayer{}
	q, _, _ := testQueue(t, player)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var playErr error
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	player.On("Play", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cancel()
		playErr = args.Get(0).(context.Context).Err()
	}).Return(nil)

	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	q.tick(ctx)

	assert.NoError(t, playErr)
}

func TestTick_CancelledContextDoesNothing(t *testing.T) {
	player := &MockPlayer{}
	q, _, _ := testQueue(t, player)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	q.tick(ctx)

	player.AssertNotCalled(t, "IsPlaying", mock.Anything)
}

func TestEnqueue_DoesNotBlockDuringPlay(t *testing.T) {
	player := &MockPlayer{}
	q, _, _ := testQueue(t, player)

	release := make(chan struct{})
	started := make(chan struct{})
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	player.On("Play", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")

	done := make(chan struct{})
	go func() {
		q.tick(context.Background())
		close(done)
	}()
	<-started

	enqueued := make(chan struct{})
	go func() {
		q.Enqueue(dest, "https://www.youtube.com/watch?v=b")
		close(enqueued)
	}()

	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked behind play")
	}

	close(release)
	<-done
	assert.Len(t, q.Pending(), 1)
}

type slowPlayer struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	plays    atomic.Int32
}

func (p *slowPlayer) Play(ctx context.Context, req models.PlaybackRequest) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	p.plays.Add(1)
	return nil
}

func (p *slowPlayer) IsPlaying(ctx context.Context) (bool, error) {
	return p.inFlight.Load() > 0, nil
}

func (p *slowPlayer) Stop(ctx context.Context) error {
	return session.ErrNotImplemented
}

func TestRun_SingleFlightAndStopsOnCancel(t *testing.T) {
	player := &slowPlayer{}
	q, _, _ := testQueue(t, player)
	for i := 0; i < 5; i++ {
		q.Enqueue(dest, "https://www.youtube.com/watch?v=a")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = q.Run(ctx)
	}()

	require.Eventually(t, func() bool { return player.plays.Load() == 5 }, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.NoError(t, runErr)
	assert.EqualValues(t, 1, player.maxSeen.Load())
}

func TestRun_RejectsSecondLoop(t *testing.T) {
	player := &MockPlayer{}
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	q, _, _ := testQueue(t, player)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Run(ctx), ErrAlreadyRunning)

	cancel()
	assert.NoError(t, <-done)
}

func TestSkipAndStop_DelegateToPlayer(t *testing.T) {
	player := &MockPlayer{}
	player.On("Stop", mock.Anything).Return(session.ErrNotImplemented)
	q, _, _ := testQueue(t, player)
	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")

	assert.ErrorIs(t, q.Skip(context.Background(), dest), session.ErrNotImplemented)
	assert.ErrorIs(t, q.Stop(context.Background()), session.ErrNotImplemented)
	assert.Len(t, q.Pending(), 1)
}

func TestNilMetricsAndHistory(t *testing.T) {
	player := &MockPlayer{}
	player.On("IsPlaying", mock.Anything).Return(false, nil)
	player.On("Play", mock.Anything, mock.Anything).Return(errors.New("boom"))

	q := NewQueue(Config{TickInterval: time.Millisecond, PlayTimeout: time.Second}, player, nil, nil, zaptest.NewLogger(t))
	q.Enqueue(dest, "https://www.youtube.com/watch?v=a")

	assert.NotPanics(t, func() { q.tick(context.Background()) })
	assert.Empty(t, q.Pending())
}
