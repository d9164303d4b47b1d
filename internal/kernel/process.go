package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessConfig configures a local interpreter process.
type ProcessConfig struct {
	// Python is the interpreter binary, looked up on PATH when not absolute.
	Python string
	// Dir is the working directory of the interpreter. Empty means the
	// server's own working directory.
	Dir string
	// Env is appended to the server's environment.
	Env []string
}

// DefaultProcessConfig runs python3 from PATH.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{Python: "python3"}
}

// ProcessLauncher starts the driver as a child process of the server.
type ProcessLauncher struct {
	config ProcessConfig
	logger *slog.Logger
}

// NewProcessLauncher resolves the interpreter binary up front so a missing
// python fails at startup rather than on the first request.
func NewProcessLauncher(cfg ProcessConfig, logger *slog.Logger) (*ProcessLauncher, error) {
	if cfg.Python == "" {
		cfg.Python = DefaultProcessConfig().Python
	}
	path, err := exec.LookPath(cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("kernel: finding interpreter %q: %w", cfg.Python, err)
	}
	cfg.Python = path
	return &ProcessLauncher{config: cfg, logger: logger}, nil
}

// Name implements Launcher.
func (l *ProcessLauncher) Name() string { return "process" }

// Launch implements Launcher. ctx bounds only the start; the process is not
// tied to it and lives until the returned Conn is closed.
func (l *ProcessLauncher) Launch(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.config.Python, "-u", "-c", DriverSource)
	cmd.Dir = l.config.Dir
	cmd.Env = append(append(os.Environ(), DriverEnv...), l.config.Env...)
	cmd.Stderr = NewLogWriter(l.logger, slog.String("backend", l.Name()))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", l.config.Python, err)
	}

	l.logger.Debug("interpreter process spawned", slog.Int("pid", cmd.Process.Pid))
	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// processConn is a Conn over a child's stdin and stdout.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

func (c *processConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *processConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close ends the driver's request loop by closing its stdin, giving it a
// moment to exit on its own before killing it.
func (c *processConn) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			if err := c.cmd.Process.Kill(); err != nil {
				c.closeErr = fmt.Errorf("killing interpreter: %w", err)
			}
			<-done
		}
	})
	return c.closeErr
}
