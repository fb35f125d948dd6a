package config

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/testrig/internal/executor"
	"github.com/seantiz/testrig/internal/supervise"
)

const (
	defaultListenAddr       = "127.0.0.1:8080"
	defaultDBPath           = "testrig.db"
	defaultExternalExecutor = "remote"
	defaultRemoteURL        = "http://127.0.0.1:8080"
	defaultManifest         = "testrig.yaml"

	envListenAddr       = "TESTRIG_LISTEN_ADDR"
	envDBPath           = "TESTRIG_DB_PATH"
	envLogLevel         = "TESTRIG_LOG_LEVEL"
	envAllowInternal    = "TESTRIG_ALLOW_INTERNAL_EXECUTOR"
	envExternalExecutor = "TESTRIG_EXTERNAL_EXECUTOR"
	envRemoteURL        = "TESTRIG_REMOTE_URL"
	envManifest         = "TESTRIG_MANIFEST"
	envKillGrace        = "TESTRIG_KILL_GRACE"
	envJobs             = "TESTRIG_JOBS"
	envCORSOrigins      = "TESTRIG_CORS_ORIGINS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	// ListenAddr defaults to loopback; the server runs whatever it is sent.
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// AllowInternalExecutor makes the internal executor the default.
	AllowInternalExecutor bool
	// ExternalExecutor is the default executor when the internal one is not
	// allowed.
	ExternalExecutor string
	RemoteURL        string

	Manifest  string
	KillGrace time.Duration
	Jobs      int

	// CORSOrigins are the browser origins allowed to call the API. Empty
	// disables CORS.
	CORSOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values fall back to the default.
func Load() Config {
	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		ExternalExecutor: defaultExternalExecutor,
		RemoteURL:        defaultRemoteURL,
		Manifest:         defaultManifest,
		KillGrace:        supervise.DefaultGrace,
		Jobs:             runtime.NumCPU(),
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
	cfg.AllowInternalExecutor = parseBool(os.Getenv(envAllowInternal))
	if v := os.Getenv(envExternalExecutor); v != "" {
		cfg.ExternalExecutor = v
	}
	if v := os.Getenv(envRemoteURL); v != "" {
		cfg.RemoteURL = v
	}
	if v := os.Getenv(envManifest); v != "" {
		cfg.Manifest = v
	}
	if d, err := time.ParseDuration(os.Getenv(envKillGrace)); err == nil && d > 0 {
		cfg.KillGrace = d
	}
	if n, err := strconv.Atoi(os.Getenv(envJobs)); err == nil && n > 0 {
		cfg.Jobs = n
	}
	for _, o := range strings.Split(os.Getenv(envCORSOrigins), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg
}

// DefaultExecutor returns the executor name that the default spec resolves
// to.
func (c Config) DefaultExecutor() string {
	if c.AllowInternalExecutor {
		return executor.InternalName
	}
	return c.ExternalExecutor
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
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
