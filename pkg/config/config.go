package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		PublicHost      string        `yaml:"public_host"`
		TLSCertPath     string        `yaml:"tls_cert_path"`
		TLSKeyPath      string        `yaml:"tls_key_path"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		STUNURLs []string `yaml:"stun_urls"`

		TURN struct {
			Embedded bool   `yaml:"embedded"`
			Port     int    `yaml:"port"`
			Realm    string `yaml:"realm"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			RelayIP  string `yaml:"relay_ip"`
		} `yaml:"turn"`

		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`

		MaxBitrate int `yaml:"max_bitrate"`
	} `yaml:"webrtc"`

	Recording struct {
		Enabled        bool          `yaml:"enabled"`
		Directory      string        `yaml:"directory"`
		MaxDuration    time.Duration `yaml:"max_duration"`
		FlushBatchSize int           `yaml:"flush_batch_size"` // bytes, default 32KiB
	} `yaml:"recording"`

	Matching struct {
		CooldownTTL     time.Duration `yaml:"cooldown_ttl"`      // default 5s
		HistoryTTL      time.Duration `yaml:"history_ttl"`       // default 7 days
		ActivePairTTL   time.Duration `yaml:"active_pair_ttl"`   // default 1h
		SessionTTL      time.Duration `yaml:"session_ttl"`       // default 1h
		MatchLockTTL    time.Duration `yaml:"match_lock_ttl"`    // default 3s
		SkipThreshold   time.Duration `yaml:"skip_threshold"`    // default 15s
	} `yaml:"matching"`

	Webhook struct {
		URLs           []string      `yaml:"urls"`
		Secret         string        `yaml:"secret"`
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialDelay   time.Duration `yaml:"initial_delay"`
		MaxDelay       time.Duration `yaml:"max_delay"`
	} `yaml:"webhook"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		PrometheusPort    int           `yaml:"prometheus_port"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		APIKeys        []string      `yaml:"api_keys"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Quality struct {
		SampleInterval time.Duration `yaml:"sample_interval"` // default 5s
	} `yaml:"quality"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.TURN.Embedded {
		if c.WebRTC.TURN.Port <= 0 {
			return fmt.Errorf("webrtc.turn.port must be > 0 when turn.embedded=true")
		}
		if c.WebRTC.TURN.Realm == "" {
			return fmt.Errorf("webrtc.turn.realm must not be empty when turn.embedded=true")
		}
		if c.WebRTC.TURN.Username == "" || c.WebRTC.TURN.Password == "" {
			return fmt.Errorf("webrtc.turn.username and password must be set when turn.embedded=true")
		}
	}

	if c.Recording.Enabled {
		if c.Recording.Directory == "" {
			return fmt.Errorf("recording.directory must not be empty when recording.enabled=true")
		}
		if c.Recording.FlushBatchSize <= 0 {
			return fmt.Errorf("recording.flush_batch_size must be > 0 when recording.enabled=true")
		}
	}

	if c.Matching.CooldownTTL <= 0 {
		return fmt.Errorf("matching.cooldown_ttl must be > 0")
	}
	if c.Matching.HistoryTTL <= 0 {
		return fmt.Errorf("matching.history_ttl must be > 0")
	}
	if c.Matching.MatchLockTTL <= 0 {
		return fmt.Errorf("matching.match_lock_ttl must be > 0")
	}

	if len(c.Webhook.URLs) > 0 {
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret must not be empty when webhook.urls is non-empty")
		}
		if c.Webhook.MaxAttempts <= 0 {
			return fmt.Errorf("webhook.max_attempts must be > 0")
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.PublicHost = "127.0.0.1"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.WebRTC.STUNURLs = []string{"stun:stun.l.google.com:19302"}
	cfg.WebRTC.TURN.Embedded = false
	cfg.WebRTC.TURN.Port = 3478
	cfg.WebRTC.TURN.Realm = "liverelay"
	cfg.WebRTC.MaxBitrate = 2_000_000

	cfg.Recording.Enabled = false
	cfg.Recording.Directory = "./recordings"
	cfg.Recording.MaxDuration = 2 * time.Hour
	cfg.Recording.FlushBatchSize = 32 * 1024

	cfg.Matching.CooldownTTL = 5 * time.Second
	cfg.Matching.HistoryTTL = 7 * 24 * time.Hour
	cfg.Matching.ActivePairTTL = time.Hour
	cfg.Matching.SessionTTL = time.Hour
	cfg.Matching.MatchLockTTL = 3 * time.Second
	cfg.Matching.SkipThreshold = 15 * time.Second

	cfg.Webhook.MaxAttempts = 5
	cfg.Webhook.InitialDelay = 1 * time.Second
	cfg.Webhook.MaxDelay = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Quality.SampleInterval = 5 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RILLNET_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("RILLNET_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("RILLNET_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RILLNET_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if host := os.Getenv("RILLNET_PUBLIC_HOST"); host != "" {
		c.Server.PublicHost = host
	}
}
