package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/internal/retry"
)

// Runner spawns detached processes and terminates them by name.
type Runner interface {
	Spawn(name string, args ...string) error
	KillByName(ctx context.Context, name string) error
}

// ExecRunner runs real processes.
type ExecRunner struct {
	logger   *zap.Logger
	running  func(ctx context.Context, name string) (bool, error)
	exitPoll retry.Config
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{
		logger:  logger.Named("runner"),
		running: pgrep,
		exitPoll: retry.Config{
			MaxAttempts:  50,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   1.5,
		},
	}
}

// Spawn starts the process and returns without waiting for it. The process is
// reaped in the background so it never lingers as a zombie.
func (r *ExecRunner) Spawn(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	r.logger.Info("process spawned", zap.String("name", name), zap.Int("pid", pid))

	go func() {
		err := cmd.Wait()
		r.logger.Info("process exited", zap.String("name", name), zap.Int("pid", pid), zap.Error(err))
	}()

	return nil
}

// KillByName terminates every process called name and returns once none is
// left, so a restarted process can bind the same port. Finding none is not an
// error.
func (r *ExecRunner) KillByName(ctx context.Context, name string) error {
	err := exec.CommandContext(ctx, "pkill", "-x", name).Run()
	if noMatch(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pkill %s: %w", name, err)
	}

	err = retry.Until(ctx, r.exitPoll, func(ctx context.Context) (bool, error) {
		alive, err := r.running(ctx, name)
		return !alive, err
	})
	if errors.Is(err, retry.ErrNotReady) {
		return fmt.Errorf("%w: %s", ErrStillRunning, name)
	}
	if err != nil {
		return fmt.Errorf("waiting for %s to exit: %w", name, err)
	}
	return nil
}

func pgrep(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, "pgrep", "-x", name).Run()
	if noMatch(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgrep %s: %w", name, err)
	}
	return true, nil
}

// noMatch reports the exit status pkill and pgrep use when no process matched.
func noMatch(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}
