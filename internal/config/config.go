// Package config loads server settings from defaults, an optional YAML
// file and EXECSERVER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Kernel backends.
const (
	BackendProcess = "process"
	BackendDocker  = "docker"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxCodeLength caps /api/execute code in characters. Zero is unlimited.
	MaxCodeLength int `mapstructure:"max_code_length"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type DockerConfig struct {
	Image       string  `mapstructure:"image"`
	Python      string  `mapstructure:"python"`
	Pull        bool    `mapstructure:"pull"`
	MemoryLimit int64   `mapstructure:"memory_limit"`
	CPULimit    float64 `mapstructure:"cpu_limit"`
	Network     string  `mapstructure:"network"`
	User        string  `mapstructure:"user"`
	WorkDir     string  `mapstructure:"workdir"`
}

type KernelConfig struct {
	Backend      string        `mapstructure:"backend"`
	Python       string        `mapstructure:"python"`
	WorkDir      string        `mapstructure:"workdir"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	Docker       DockerConfig  `mapstructure:"docker"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AuthConfig enables token auth when Secret is non-empty.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether API routes require a token.
func (a AuthConfig) Enabled() bool { return a.Secret != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Kernel  KernelConfig  `mapstructure:"kernel"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_code_length", 0)

	v.SetDefault("kernel.backend", BackendProcess)
	v.SetDefault("kernel.python", "python3")
	v.SetDefault("kernel.workdir", "")
	v.SetDefault("kernel.start_timeout", 30*time.Second)
	v.SetDefault("kernel.docker.image", "python:3.12-slim")
	v.SetDefault("kernel.docker.python", "python")
	v.SetDefault("kernel.docker.pull", true)
	v.SetDefault("kernel.docker.memory_limit", 512*1024*1024)
	v.SetDefault("kernel.docker.cpu_limit", 1.0)
	v.SetDefault("kernel.docker.network", "bridge")
	v.SetDefault("kernel.docker.user", "")
	v.SetDefault("kernel.docker.workdir", "/tmp")

	v.SetDefault("storage.db_path", "data/execserver.db")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. With an empty path, execserver.yaml is looked
// up in the working directory and $HOME/.execserver and may be absent; an
// explicit path must exist.
//
// Every key can be overridden from the environment as EXECSERVER_ plus the
// upper-cased key with dots as underscores (EXECSERVER_KERNEL_BACKEND).
// PORT is honoured as well for the listen port.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXECSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "EXECSERVER_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("execserver")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.execserver")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxCodeLength < 0 {
		return errors.New("config: server.max_code_length must not be negative")
	}
	switch c.Kernel.Backend {
	case BackendProcess, BackendDocker:
	default:
		return fmt.Errorf("config: unknown kernel.backend %q (want %q or %q)",
			c.Kernel.Backend, BackendProcess, BackendDocker)
	}
	if c.Auth.Enabled() && len(c.Auth.Secret) < 16 {
		return errors.New("config: auth.secret must be at least 16 characters")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}
