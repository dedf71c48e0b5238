package config

import (
	"fmt"
	"os"

	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("struct validation failed: %w", err)
	}

	switch cfg.Ledger.Type {
	case enum.LedgerStoreTypeBadger:
		if cfg.Ledger.Badger.Directory == "" && !cfg.Ledger.Badger.InMemory {
			return nil, fmt.Errorf("ledger.badger.directory is required unless in_memory is set")
		}
	case enum.LedgerStoreTypeRedis:
		if cfg.Ledger.Redis.URL == "" {
			return nil, fmt.Errorf("ledger.redis.url is required")
		}
	}
	if cfg.Nats.Enabled && cfg.Nats.URL == "" {
		return nil, fmt.Errorf("nats.url is required when nats is enabled")
	}

	return &cfg, nil
}
