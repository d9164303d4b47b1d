// Package docker launches the interpreter inside a long-lived Docker
// container. The container runs the same driver as a local process; its
// stdin and stdout are attached and carry the protocol, and its stderr is
// forwarded to the logger.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/execserver/internal/kernel"
)

// Launcher implements kernel.Launcher using Docker.
type Launcher struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
}

var _ kernel.Launcher = (*Launcher)(nil)

// New creates a Docker Launcher, checks the daemon is reachable and makes
// sure the image is present.
func New(cfg Config, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
	}

	if cfg.Pull {
		logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
		reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		// Read everything to block until the pull is complete
		_, err = io.Copy(io.Discard, reader)
		reader.Close()
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		logger.Info("docker image is ready")
	}

	return &Launcher{cli: cli, config: cfg, logger: logger}, nil
}

// Name implements kernel.Launcher.
func (l *Launcher) Name() string { return "docker" }

// Close releases the docker client. Containers are owned by the Conns
// returned from Launch.
func (l *Launcher) Close() error {
	return l.cli.Close()
}

// Launch creates and starts a container running the driver. The container
// is attached before it starts so the driver's ready line is not missed.
func (l *Launcher) Launch(ctx context.Context) (kernel.Conn, error) {
	env := append([]string{"MPLCONFIGDIR=/tmp"}, kernel.DriverEnv...)
	env = append(env, l.config.Env...)

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(l.config.NetworkMode),
		Resources: container.Resources{
			Memory:   l.config.MemoryLimit,
			NanoCPUs: int64(l.config.CPULimit * 1e9),
		},
		AutoRemove: false,
	}

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image:        l.config.Image,
		Cmd:          []string{l.config.Python, "-u", "-c", kernel.DriverSource},
		Env:          env,
		User:         l.config.User,
		WorkingDir:   l.config.WorkingDir,
		Tty:          false,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("ContainerCreate failed: %w", err)
	}

	hijack, err := l.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("ContainerAttach failed: %w", err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		hijack.Close()
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("ContainerStart failed: %w", err)
	}

	l.logger.Debug("interpreter container started", slog.String("id", resp.ID))
	return newContainerConn(l, resp.ID, hijack), nil
}

// removeContainer force removes a container by ID.
func (l *Launcher) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := l.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		l.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// containerConn is a kernel.Conn over an attached container. The attach
// stream multiplexes stdout and stderr; stdcopy splits it so only stdout
// reaches the protocol reader.
type containerConn struct {
	launcher *Launcher
	id       string
	hijack   types.HijackedResponse
	stdout   *io.PipeReader

	closeOnce sync.Once
}

func newContainerConn(l *Launcher, id string, hijack types.HijackedResponse) *containerConn {
	pr, pw := io.Pipe()
	stderr := kernel.NewLogWriter(l.logger, slog.String("backend", l.Name()), slog.String("container", shortID(id)))
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, err := stdcopy.StdCopy(pw, stderr, hijack.Reader)
		pw.CloseWithError(err)
	}()
	return &containerConn{launcher: l, id: id, hijack: hijack, stdout: pr}
}

func (c *containerConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *containerConn) Write(p []byte) (int, error) { return c.hijack.Conn.Write(p) }

// Close detaches and removes the container; the namespace goes with it.
func (c *containerConn) Close() error {
	c.closeOnce.Do(func() {
		c.hijack.Close()
		c.stdout.Close()
		c.launcher.removeContainer(c.id)
	})
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
