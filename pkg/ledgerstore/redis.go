package ledgerstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/infra"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each ledger as one hash: <prefix>:<ledger> -> {key: balance}.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// writeExistingScript overwrites a field only if it is already present.
var writeExistingScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) hashKey(ledger string) string {
	if r.prefix != "" {
		return r.prefix + ":" + ledger
	}
	return ledger
}

func (r *RedisStore) GetName() string {
	return string(enum.LedgerStoreTypeRedis)
}

func (r *RedisStore) Read(ctx context.Context, ledger, key string) (int64, error) {
	if ledger == "" || key == "" {
		return 0, infra.ErrKeyEmpty
	}
	val, err := r.client.HGet(ctx, r.hashKey(ledger), key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, infra.ErrRowNotFound
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (r *RedisStore) Write(ctx context.Context, ledger, key string, balance int64) error {
	if ledger == "" || key == "" {
		return infra.ErrKeyEmpty
	}
	ok, err := writeExistingScript.Run(ctx, r.client, []string{r.hashKey(ledger)}, key, balance).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return infra.ErrRowNotFound
	}
	return nil
}

func (r *RedisStore) AppendRow(ctx context.Context, ledger, key string, balance int64) error {
	if ledger == "" || key == "" {
		return infra.ErrKeyEmpty
	}
	created, err := r.client.HSetNX(ctx, r.hashKey(ledger), key, balance).Result()
	if err != nil {
		return err
	}
	if !created {
		return infra.ErrRowExists
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
