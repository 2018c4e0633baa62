package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/internal/retry"
)

const managedByLabel = "watchparty"

// LaunchOptions controls how the browser container is started
type LaunchOptions struct {
	Image         string
	ContainerPort string
	WindowWidth   int
	WindowHeight  int
	Display       string
	ReadyTimeout  time.Duration
}

// Instance is a running browser container
type Instance struct {
	ContainerID string
	ConnectURL  string
	Port        string
}

// Pool owns the docker client used to run the browser container.
type Pool struct {
	client *client.Client
	logger *zap.Logger
}

func NewPool(logger *zap.Logger) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Pool{
		client: cli,
		logger: logger.Named("pool"),
	}, nil
}

// LaunchArgs are the Chrome flags every playback browser needs: a fixed
// window size for the screen share and autoplay without a user gesture.
func LaunchArgs(width, height int) []string {
	return []string{
		fmt.Sprintf("--window-size=%d,%d", width, height),
		"--autoplay-policy=no-user-gesture-required",
		"--use-fake-ui-for-media-stream",
	}
}

// ConnectURL appends headed launch flags to a browserless websocket endpoint.
func ConnectURL(base string, width, height int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid browser endpoint %q: %w", base, err)
	}

	q := u.Query()
	q.Set("headless", "false")
	for _, arg := range LaunchArgs(width, height) {
		q.Add(arg, "")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (p *Pool) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	launchArgs, err := json.Marshal(LaunchArgs(opts.WindowWidth, opts.WindowHeight))
	if err != nil {
		return nil, fmt.Errorf("failed to encode launch args: %w", err)
	}

	port := nat.Port(opts.ContainerPort + "/tcp")

	containerConfig := &container.Config{
		Image: opts.Image,
		Labels: map[string]string{
			"managed-by": managedByLabel,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",     // Playback sessions live for the process lifetime
			"MAX_CONCURRENT_SESSIONS=1", // One shared browser
			"KEEP_ALIVE=true",
			"DEFAULT_HEADLESS=false", // Screen sharing needs a real display
			"DEFAULT_LAUNCH_ARGS=" + string(launchArgs),
			"DISPLAY=" + opts.Display,
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			port: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		ShmSize: 2 << 30, // Chrome crashes on video pages with the default 64MB /dev/shm
		// The player page and transcoder stream are served from the host
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("container %s has no binding for %s", resp.ID[:12], port)
	}
	hostPort := bindings[0].HostPort

	if err := p.waitForBrowserReady(ctx, hostPort, opts.ReadyTimeout); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	p.logger.Info("browser container ready",
		zap.String("container_id", resp.ID[:12]),
		zap.String("port", hostPort),
	)

	return &Instance{
		ContainerID: resp.ID,
		ConnectURL:  fmt.Sprintf("ws://localhost:%s", hostPort),
		Port:        hostPort,
	}, nil
}

func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// remove force-removes a container that never became usable.
func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", zap.String("container_id", containerID), zap.Error(err))
	}
}

// Reap removes browser containers left behind by a previous process.
func (p *Pool) Reap(ctx context.Context) error {
	containers, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "managed-by="+managedByLabel)),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		if err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stale container %s: %w", c.ID[:12], err)
		}
		p.logger.Info("removed stale browser container", zap.String("container_id", c.ID[:12]))
	}

	return nil
}

// Exec runs cmd inside the container and fails on a non-zero exit status.
func (p *Pool) Exec(ctx context.Context, containerID string, env []string, cmd ...string) error {
	created, err := p.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := p.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil {
		return fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("%v exited with %d: %s", cmd, inspect.ExitCode, bytes.TrimSpace(output.Bytes()))
	}

	return nil
}

func (p *Pool) EnsureImage(ctx context.Context, ref string) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref {
				return nil
			}
		}
	}

	p.logger.Info("pulling browser image", zap.String("image", ref))
	reader, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// waitForBrowserReady polls the /json/version endpoint until it answers 200
func (p *Pool) waitForBrowserReady(ctx context.Context, port string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("http://localhost:%s/json/version", port)
	cfg := retry.Config{
		MaxAttempts:  int(timeout / (500 * time.Millisecond)),
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   1,
	}

	return retry.Until(ctx, cfg, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
}
