package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"DMProject/tools"
	"DMProject/tools/errs"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Default mirrors the mobile app: 30 messages per page, 1s typing window.
func Default() AppConfig {
	return AppConfig{
		ServerURL:      "http://127.0.0.1:8080",
		SocketPath:     "/socket",
		APIPrefix:      "/dm",
		PageSize:       30,
		TypingWindow:   time.Second,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		Socket: SocketConfig{
			ReconnectInitial:    500 * time.Millisecond,
			ReconnectMax:        5 * time.Second,
			ReconnectMultiplier: 2,
			PingInterval:        25 * time.Second,
			WriteWait:           10 * time.Second,
			DialTimeout:         5 * time.Second,
		},
		Store: StoreConfig{
			Kind:    StoreFile,
			Path:    ".dm-credentials",
			Profile: "default",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 4},
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "dm-client",
			SubjectPrefix: "dm.view",
			ReconnectWait: 500 * time.Millisecond,
			Timeout:       3 * time.Second,
		},
		DevServer: DevServerConfig{
			Addr:      ":8080",
			JWTSecret: "dev-only-secret-change-me",
			TokenTTL:  24 * time.Hour,
		},
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the working
// directory, and DM_* environment variables, in that order.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.ErrInvalidArgument.Because(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errs.ErrInvalidArgument.Because(err, "parse config", "path", path)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, errs.ErrInvalidArgument.Because(err, "load .env")
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *AppConfig) {
	cfg.ServerURL = tools.GetEnv("DM_SERVER_URL", cfg.ServerURL)
	cfg.SocketPath = tools.GetEnv("DM_SOCKET_PATH", cfg.SocketPath)
	cfg.APIPrefix = tools.GetEnv("DM_API_PREFIX", cfg.APIPrefix)
	cfg.PageSize = tools.GetEnvInt("DM_PAGE_SIZE", cfg.PageSize)
	cfg.TypingWindow = tools.GetEnvDuration("DM_TYPING_WINDOW", cfg.TypingWindow)
	cfg.RequestTimeout = tools.GetEnvDuration("DM_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.SocietyID = tools.GetEnv("DM_SOCIETY_ID", cfg.SocietyID)
	cfg.LogLevel = tools.GetEnv("DM_LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Kind = tools.GetEnv("DM_STORE", cfg.Store.Kind)
	cfg.Store.Path = tools.GetEnv("DM_STORE_PATH", cfg.Store.Path)
	cfg.Store.Profile = tools.GetEnv("DM_STORE_PROFILE", cfg.Store.Profile)
	cfg.Store.Redis.Addr = tools.GetEnv("DM_REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = tools.GetEnv("DM_REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = tools.GetEnvInt("DM_REDIS_DB", cfg.Store.Redis.DB)

	cfg.NATS.Enabled = tools.GetEnvBool("DM_NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = tools.GetEnv("DM_NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = tools.GetEnv("DM_NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.DevServer.Addr = tools.GetEnv("DM_DEV_ADDR", cfg.DevServer.Addr)
	cfg.DevServer.JWTSecret = tools.GetEnv("DM_JWT_SECRET", cfg.DevServer.JWTSecret)
}

func (c AppConfig) Validate() error {
	if c.ServerURL == "" {
		return errs.ErrInvalidArgument.WrapMsg("server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return errs.ErrInvalidArgument.WrapMsg("server_url must be http(s)", "server_url", c.ServerURL)
	}
	if c.PageSize <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("page_size must be positive", "page_size", c.PageSize)
	}
	if c.TypingWindow <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("typing_window must be positive", "typing_window", c.TypingWindow)
	}
	switch c.Store.Kind {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown store kind", "kind", c.Store.Kind)
	}
	return nil
}

// SocketURL converts ServerURL to the ws(s) endpoint.
func (c AppConfig) SocketURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.SocketPath
}

// APIBase is the REST root of the DM surface.
func (c AppConfig) APIBase() string {
	return strings.TrimRight(c.ServerURL, "/") + c.APIPrefix
}
