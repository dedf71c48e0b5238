package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	configContent := `
environment: production
log:
  level: debug
  file: bot_log.txt
http:
  port: 9090
  rate_limit:
    rps: 2
    burst: 4
ledger:
  type: redis
  timeout: 2s
  read_attempts: 5
  redis:
    url: "localhost:6379"
    prefix: "test"
economy:
  exchange_rate: "500"
wager:
  max_participants: 6
  admin_ids: ["42"]
nats:
  enabled: true
  url: "nats://localhost:4222"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.HTTP.RateLimit.RPS)

	assert.Equal(t, enum.LedgerStoreTypeRedis, cfg.Ledger.Type)
	assert.Equal(t, 2*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 5, cfg.Ledger.ReadAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Ledger.ReadRetryInterval)

	assert.Equal(t, "500", cfg.Economy.ExchangeRate)
	assert.Equal(t, "gambling", cfg.Economy.GamblingLedger)
	assert.Equal(t, "gambling", cfg.Economy.TransferLedger)
	assert.Equal(t, "monthly", cfg.Economy.MonthlyLedger)

	assert.Equal(t, 2, cfg.Wager.MinParticipants)
	assert.Equal(t, 6, cfg.Wager.MaxParticipants)
	assert.Equal(t, []string{"42"}, cfg.Wager.AdminIDs)
	assert.Equal(t, "wager.events", cfg.Nats.SubjectPrefix)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
ledger:
  badger:
    in_memory: true
`))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, enum.LedgerStoreTypeBadger, cfg.Ledger.Type)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 3, cfg.Ledger.ReadAttempts)
	assert.Equal(t, "1000", cfg.Economy.ExchangeRate)
	assert.Equal(t, 10, cfg.Wager.MaxParticipants)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.HTTP.RateLimit.RPS)
	assert.Equal(t, 10, cfg.HTTP.RateLimit.Burst)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown store type", "ledger:\n  type: sqlite\n"},
		{"badger without directory", "ledger:\n  type: badger\n"},
		{"redis without url", "ledger:\n  type: redis\n"},
		{"bad environment", "environment: staging\nledger:\n  badger:\n    in_memory: true\n"},
		{"non numeric rate", "economy:\n  exchange_rate: abc\nledger:\n  badger:\n    in_memory: true\n"},
		{"max below min", "wager:\n  min_participants: 4\n  max_participants: 3\nledger:\n  badger:\n    in_memory: true\n"},
		{"nats without url", "nats:\n  enabled: true\n  url: \"\"\nledger:\n  badger:\n    in_memory: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
