package config

import (
	"strings"

	"bundle-cache-go/logcolors"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port            string `envconfig:"PORT" default:"8080"`
		CacheDBPath     string `envconfig:"CACHE_DB_PATH" default:"./data/cache.db"`
		CacheBackupPath string `envconfig:"CACHE_BACKUP_PATH" default:"./data/backups"`

		RateLimitPerSecond  int    `envconfig:"RATE_LIMIT_PER_SECOND" default:"10"`
		RateLimitBurstLimit int    `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"30"`
		CacheAccessToken    string `envconfig:"CACHE_ACCESS_TOKEN" default:""`
		APIKey              string `envconfig:"API_KEY" default:""`
		APIKeyRequired      bool   `envconfig:"API_KEY_REQUIRED" default:"false"`
		AllowedOrigins      string `envconfig:"ALLOWED_ORIGINS" default:"tauri://localhost,http://tauri.localhost,http://localhost:1420"`

		// Upstream services
		BeatSaverBaseURL       string  `envconfig:"BEATSAVER_BASE_URL" default:"https://api.beatsaver.com"`
		BeatSaverUserAgent     string  `envconfig:"BEATSAVER_USER_AGENT" default:"bundle-cache-go/1.0.0"`
		LrclibBaseURL          string  `envconfig:"LRCLIB_BASE_URL" default:"https://lrclib.net/api"`
		LrclibClientID         string  `envconfig:"LRCLIB_CLIENT_ID" default:"bundle-cache-go/1.0.0"`
		UpstreamTimeoutSeconds int     `envconfig:"UPSTREAM_TIMEOUT_SECONDS" default:"0"` // 0 leaves the transport default (no timeout)
		UpstreamRatePerSecond  float64 `envconfig:"UPSTREAM_RATE_PER_SECOND" default:"5"`
		UpstreamBurst          int     `envconfig:"UPSTREAM_BURST" default:"10"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"60"`

		EventBufferSize int `envconfig:"EVENT_BUFFER_SIZE" default:"64"`

		NtfyTopic  string `envconfig:"NOTIFIER_NTFY_TOPIC" default:""`
		NtfyServer string `envconfig:"NOTIFIER_NTFY_SERVER" default:"https://ntfy.sh"`

		LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	}

	FeatureFlags struct {
		CacheCompression bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		Metrics          bool `envconfig:"FF_METRICS" default:"true"`
	}
}

// Origins splits the comma separated ALLOWED_ORIGINS value.
func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.Configuration.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Debugf("%s No .env file loaded: %v", logcolors.LogConfig, err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("%s Unable to load configuration", logcolors.LogConfig)
	}

	return c
}

func Get() Config {
	return conf
}
