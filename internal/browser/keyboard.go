package browser

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// xdotoolArgs builds an xdotool invocation that presses keys in order.
func xdotoolArgs(keys []string) []string {
	return append([]string{"key", "--clearmodifiers"}, keys...)
}

// LocalKeyboard presses keys on the display of the host process.
type LocalKeyboard struct {
	Display string
}

func (k LocalKeyboard) Press(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "xdotool", xdotoolArgs(keys)...)
	if k.Display != "" {
		cmd.Env = append(cmd.Environ(), "DISPLAY="+k.Display)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xdotool %s failed: %w: %s", strings.Join(keys, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ContainerExecutor runs a command inside a container.
type ContainerExecutor interface {
	Exec(ctx context.Context, containerID string, env []string, cmd ...string) error
}

// ContainerKeyboard presses keys on the virtual display inside the browser container.
type ContainerKeyboard struct {
	Executor    ContainerExecutor
	ContainerID string
	Display     string
}

func (k ContainerKeyboard) Press(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	cmd := append([]string{"xdotool"}, xdotoolArgs(keys)...)
	if err := k.Executor.Exec(ctx, k.ContainerID, []string{"DISPLAY=" + k.Display}, cmd...); err != nil {
		return fmt.Errorf("failed to press %s: %w", strings.Join(keys, " "), err)
	}
	return nil
}
