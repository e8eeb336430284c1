package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerAddr       string   `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	RedisAddr        string   `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword    string   `envconfig:"REDIS_PASSWORD"`
	RedisDB          int      `envconfig:"REDIS_DB" default:"0"`
	SigningSecret    string   `envconfig:"SIGNING_SECRET"`
	AllowedOrigins   []string `envconfig:"ALLOWED_ORIGINS"`
	MessageRetention int      `envconfig:"MESSAGE_RETENTION" default:"100"`

	// SigningKey is the decoded SIGNING_SECRET, populated by NewConfig.
	SigningKey []byte `ignored:"true"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig reads configuration from the environment and validates it.
// Non-empty serverAddr and redisAddr override the environment, so the
// entrypoint can expose them as flags. The signing secret is shared
// with the host identity provider which issues the session tokens this
// service verifies.
func NewConfig(serverAddr, redisAddr string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("topicchat", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}

	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if cfg.MessageRetention <= 0 {
		return nil, fmt.Errorf("message retention must be positive")
	}

	signingKey, err := decodeSigningSecret(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	cfg.SigningKey = signingKey

	return &cfg, nil
}
