package ledgerstore

import (
	"fmt"

	"github.com/fystack/community-bot/pkg/common/config"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/infra"
)

// NewFromConfig constructs an infra.LedgerStore based on ledger configuration.
func NewFromConfig(cfg config.LedgerConfig) (infra.LedgerStore, error) {
	switch cfg.Type {
	case enum.LedgerStoreTypeBadger:
		if cfg.Badger.InMemory {
			return NewInMemoryBadgerStore(cfg.Badger.Prefix, infra.JSON)
		}
		return NewBadgerStore(cfg.Badger.Directory, cfg.Badger.Prefix, infra.JSON)
	case enum.LedgerStoreTypeRedis:
		client, err := infra.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Redis.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported ledger store type: %s", cfg.Type)
	}
}
