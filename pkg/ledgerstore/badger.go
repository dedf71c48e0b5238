package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/infra"
)

type BadgerStore struct {
	db     *badger.DB
	prefix string
	codec  infra.Codec
}

func NewBadgerStore(path string, prefix string, codec infra.Codec) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(path).WithLogger(nil), prefix, codec)
}

// NewInMemoryBadgerStore keeps everything in RAM and loses it on Close.
func NewInMemoryBadgerStore(prefix string, codec infra.Codec) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), prefix, codec)
}

func openBadger(opts badger.Options, prefix string, codec infra.Codec) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		codec = infra.JSON
	}
	return &BadgerStore{
		db:     db,
		prefix: prefix,
		codec:  codec,
	}, nil
}

func (b *BadgerStore) fullKey(ledger, key string) ([]byte, error) {
	if ledger == "" || key == "" {
		return nil, infra.ErrKeyEmpty
	}
	k := ledger + "/" + key
	if b.prefix != "" {
		k = b.prefix + "/" + k
	}
	return []byte(k), nil
}

func (b *BadgerStore) GetName() string {
	return string(enum.LedgerStoreTypeBadger)
}

func (b *BadgerStore) Read(ctx context.Context, ledger, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	k, err := b.fullKey(ledger, key)
	if err != nil {
		return 0, err
	}

	var row infra.LedgerRow
	err = b.db.View(func(txn *badger.Txn) error {
		found, err := b.get(txn, k, &row)
		if err != nil {
			return err
		}
		if !found {
			return infra.ErrRowNotFound
		}
		return nil
	})
	return row.Balance, err
}

func (b *BadgerStore) Write(ctx context.Context, ledger, key string, balance int64) error {
	return b.put(ctx, ledger, key, balance, true)
}

func (b *BadgerStore) AppendRow(ctx context.Context, ledger, key string, balance int64) error {
	return b.put(ctx, ledger, key, balance, false)
}

// put writes a row. mustExist selects between overwrite and append semantics.
func (b *BadgerStore) put(ctx context.Context, ledger, key string, balance int64, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := b.fullKey(ledger, key)
	if err != nil {
		return err
	}

	data, err := b.codec.Marshal(infra.LedgerRow{Balance: balance, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode ledger row: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		var existing infra.LedgerRow
		found, err := b.get(txn, k, &existing)
		if err != nil {
			return err
		}
		if mustExist && !found {
			return infra.ErrRowNotFound
		}
		if !mustExist && found {
			return infra.ErrRowExists
		}
		return txn.Set(k, data)
	})
}

func (b *BadgerStore) get(txn *badger.Txn, k []byte, row *infra.LedgerRow) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	if err := b.codec.Unmarshal(val, row); err != nil {
		return false, fmt.Errorf("decode ledger row: %w", err)
	}
	return true, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
