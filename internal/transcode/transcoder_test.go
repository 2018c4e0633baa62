package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/watchparty/internal/retry"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Spawn(name string, args ...string) error {
	callArgs := m.Called(name, args)
	return callArgs.Error(0)
}

func (m *MockRunner) KillByName(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func testConfig() Config {
	return Config{
		Binary:   "ffmpeg",
		Endpoint: "http://localhost:3001/video_stream",
		Preset:   "fast",
		CRF:      20,
	}
}

func TestTranscoder_Args(t *testing.T) {
	tr := New(testConfig(), new(MockRunner), zap.NewNop())

	args := tr.Args("http://127.0.0.1:11470/abc/1")
	assert.Equal(t, []string{
		"-i", "http://127.0.0.1:11470/abc/1",
		"-listen", "1",
		"-preset", "fast",
		"-f", "mp4",
		"-crf", "20",
		"-movflags", "frag_keyframe+empty_moov",
		"http://localhost:3001/video_stream",
	}, args)
}

func TestTranscoder_StartKillsBeforeSpawn(t *testing.T) {
	runner := new(MockRunner)
	tr := New(testConfig(), runner, zaptest.NewLogger(t))

	var order []string
	runner.On("KillByName", mock.Anything, "ffmpeg").Run(func(mock.Arguments) {
		order = append(order, "kill")
	}).Return(nil)
	runner.On("Spawn", "ffmpeg", mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "spawn")
	}).Return(nil)

	require.NoError(t, tr.Start(context.Background(), "http://127.0.0.1:11470/a/1"))
	require.NoError(t, tr.Start(context.Background(), "http://127.0.0.1:11470/b/1"))

	// Every spawn is preceded by a kill, so two starts never leave two processes.
	assert.Equal(t, []string{"kill", "spawn", "kill", "spawn"}, order)
	runner.AssertNumberOfCalls(t, "KillByName", 2)
	runner.AssertNumberOfCalls(t, "Spawn", 2)
}

func TestTranscoder_SpawnError(t *testing.T) {
	runner := new(MockRunner)
	tr := New(testConfig(), runner, zap.NewNop())

	runner.On("KillByName", mock.Anything, "ffmpeg").Return(nil)
	runner.On("Spawn", "ffmpeg", mock.Anything).Return(exec.ErrNotFound)

	err := tr.Start(context.Background(), "http://127.0.0.1:11470/a/1")
	assert.ErrorIs(t, err, ErrTranscodeSpawn)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestTranscoder_KillErrorSkipsSpawn(t *testing.T) {
	runner := new(MockRunner)
	tr := New(testConfig(), runner, zap.NewNop())

	runner.On("KillByName", mock.Anything, "ffmpeg").Return(errors.New("permission denied"))

	err := tr.Start(context.Background(), "http://127.0.0.1:11470/a/1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTranscodeSpawn)
	runner.AssertNotCalled(t, "Spawn", mock.Anything, mock.Anything)
}

func TestExecRunner_KillByNameWithoutMatch(t *testing.T) {
	if _, err := exec.LookPath("pkill"); err != nil {
		t.Skip("pkill not available")
	}

	r := NewExecRunner(zaptest.NewLogger(t))
	assert.NoError(t, r.KillByName(context.Background(), "wp-nonexistent"))
}

// fastExitRunner replaces the liveness check so the exit wait can be driven
// deterministically.
func fastExitRunner(t *testing.T, running func(ctx context.Context, name string) (bool, error)) *ExecRunner {
	r := NewExecRunner(zaptest.NewLogger(t))
	r.running = running
	r.exitPoll = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
	return r
}

// spawnNamed starts a private copy of sleep so the process has a name no
// other test or host process uses.
func spawnNamed(t *testing.T, prefix string) string {
	t.Helper()

	for _, bin := range []string{"pkill", "pgrep", "sleep"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	src, err := exec.LookPath("sleep")
	require.NoError(t, err)
	if real, err := filepath.EvalSymlinks(src); err == nil && filepath.Base(real) == "busybox" {
		t.Skip("sleep is a busybox applet and cannot be renamed")
	}

	name := fmt.Sprintf("%s%d", prefix, os.Getpid()%100000)
	path := filepath.Join(t.TempDir(), name)

	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o755)
	require.NoError(t, err)
	_, err = io.Copy(out, in)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	// The reaper logs after the process exits, which may outlive the test.
	require.NoError(t, NewExecRunner(zap.NewNop()).Spawn(path, "30"))
	require.Eventually(t, func() bool {
		alive, err := pgrep(context.Background(), name)
		return err == nil && alive
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() { _ = exec.Command("pkill", "-KILL", "-x", name).Run() })
	return name
}

func TestExecRunner_KillByNameWaitsForExit(t *testing.T) {
	name := spawnNamed(t, "wpsleep")

	r := NewExecRunner(zaptest.NewLogger(t))
	require.NoError(t, r.KillByName(context.Background(), name))

	alive, err := pgrep(context.Background(), name)
	require.NoError(t, err)
	assert.False(t, alive, "KillByName returned while %s was still running", name)
}

func TestExecRunner_KillByNamePollsUntilGone(t *testing.T) {
	name := spawnNamed(t, "wppoll")

	calls := 0
	r := fastExitRunner(t, func(context.Context, string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, r.KillByName(context.Background(), name))
	assert.Equal(t, 3, calls)
}

func TestExecRunner_KillByNameStillRunning(t *testing.T) {
	name := spawnNamed(t, "wpstuck")

	r := fastExitRunner(t, func(context.Context, string) (bool, error) { return true, nil })
	err := r.KillByName(context.Background(), name)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStillRunning)
}

func TestExecRunner_KillByNameLivenessError(t *testing.T) {
	name := spawnNamed(t, "wpfail")

	boom := errors.New("pgrep broke")
	r := fastExitRunner(t, func(context.Context, string) (bool, error) { return false, boom })
	err := r.KillByName(context.Background(), name)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestExecRunner_SpawnMissingBinary(t *testing.T) {
	r := NewExecRunner(zaptest.NewLogger(t))
	assert.Error(t, r.Spawn("watchparty-no-such-binary"))
}
