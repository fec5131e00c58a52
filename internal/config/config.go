package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "foreman.db"
	defaultMaxConcurrent  = 10
	defaultWorkerCmd      = "claude"
	defaultContainerImage = "ubuntu:24.04"
	defaultSocketDir      = "/run/foreman"

	envListenAddr     = "FOREMAN_LISTEN_ADDR"
	envDBPath         = "FOREMAN_DB_PATH"
	envLogLevel       = "FOREMAN_LOG_LEVEL"
	envMaxConcurrent  = "FOREMAN_MAX_CONCURRENT"
	envWorkerCmd      = "FOREMAN_WORKER_CMD"
	envWorkerArgs     = "FOREMAN_WORKER_ARGS"
	envContainerImage = "FOREMAN_CONTAINER_IMAGE"
	envSocketDir      = "FOREMAN_SOCKET_DIR"
	envTmuxTarget     = "FOREMAN_TMUX_TARGET"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// MaxConcurrent bounds in-flight executions across all workers.
	MaxConcurrent int

	// WorkerCmd/WorkerArgs define the terminal worker subprocess.
	WorkerCmd  string
	WorkerArgs []string

	// ContainerImage is the image container workers run.
	ContainerImage string

	// SocketDir is the host directory for container completion sockets.
	SocketDir string

	// TmuxTarget is the pane debug monitor workers observe.
	TmuxTarget string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		MaxConcurrent:  defaultMaxConcurrent,
		WorkerCmd:      defaultWorkerCmd,
		ContainerImage: defaultContainerImage,
		SocketDir:      defaultSocketDir,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv(envWorkerCmd); v != "" {
		cfg.WorkerCmd = v
	}
	if v := os.Getenv(envWorkerArgs); v != "" {
		cfg.WorkerArgs = strings.Fields(v)
	}
	if v := os.Getenv(envContainerImage); v != "" {
		cfg.ContainerImage = v
	}
	if v := os.Getenv(envSocketDir); v != "" {
		cfg.SocketDir = v
	}
	if v := os.Getenv(envTmuxTarget); v != "" {
		cfg.TmuxTarget = v
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
