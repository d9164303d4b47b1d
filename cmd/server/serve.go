package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/execserver/internal/auth"
	"github.com/sakif/execserver/internal/config"
	"github.com/sakif/execserver/internal/kernel"
	"github.com/sakif/execserver/internal/kernel/docker"
	"github.com/sakif/execserver/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Examples:
  execserver serve
  execserver serve --port 9090
  EXECSERVER_KERNEL_BACKEND=docker execserver serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if cfg.Storage.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.Storage.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	launcher, cleanup, err := newLauncher(cfg.Kernel, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	interp := kernel.New(launcher, logger, kernel.WithStartTimeout(cfg.Kernel.StartTimeout))

	var tokens *auth.TokenService
	if cfg.Auth.Enabled() {
		if tokens, err = auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL); err != nil {
			interp.Close()
			return err
		}
	} else {
		logger.Warn("auth.secret not set, the API is open to anyone who can reach it")
	}

	srv, err := server.New(server.Config{
		Addr:            cfg.Server.Addr(),
		DBPath:          cfg.Storage.DBPath,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxCodeLength:   cfg.Server.MaxCodeLength,
		Tokens:          tokens,
	}, logger, interp)
	if err != nil {
		interp.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}

// newLauncher builds the configured backend. cleanup releases whatever the
// launcher holds beyond the interpreter itself.
func newLauncher(cfg config.KernelConfig, logger *slog.Logger) (kernel.Launcher, func(), error) {
	switch cfg.Backend {
	case config.BackendDocker:
		l, err := docker.New(docker.Config{
			Image:       cfg.Docker.Image,
			Python:      cfg.Docker.Python,
			Pull:        cfg.Docker.Pull,
			MemoryLimit: cfg.Docker.MemoryLimit,
			CPULimit:    cfg.Docker.CPULimit,
			NetworkMode: cfg.Docker.Network,
			User:        cfg.Docker.User,
			WorkingDir:  cfg.Docker.WorkDir,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting docker backend: %w", err)
		}
		return l, func() { l.Close() }, nil
	default:
		l, err := kernel.NewProcessLauncher(kernel.ProcessConfig{
			Python: cfg.Python,
			Dir:    cfg.WorkDir,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting process backend: %w", err)
		}
		return l, func() {}, nil
	}
}
