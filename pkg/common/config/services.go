package config

import (
	"time"

	"github.com/fystack/community-bot/pkg/common/enum"
)

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

type HTTPConfig struct {
	Port      int             `yaml:"port" validate:"required,min=1,max=65535"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps" validate:"min=0"`
	Burst int `yaml:"burst" validate:"min=0"`
}

type LedgerConfig struct {
	Type              enum.LedgerStoreType `yaml:"type" validate:"required,oneof=badger redis"`
	Timeout           time.Duration        `yaml:"timeout" validate:"required"`
	ReadAttempts      int                  `yaml:"read_attempts" validate:"min=1"`
	ReadRetryInterval time.Duration        `yaml:"read_retry_interval"`
	Badger            BadgerConfig         `yaml:"badger"`
	Redis             RedisConfig          `yaml:"redis"`
}

type BadgerConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
	// InMemory keeps the whole ledger in RAM; used by tests and dry runs.
	InMemory bool `yaml:"in_memory"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type EconomyConfig struct {
	PointsLedger   string `yaml:"points_ledger" validate:"required"`
	MonthlyLedger  string `yaml:"monthly_ledger" validate:"required"`
	GamblingLedger string `yaml:"gambling_ledger" validate:"required"`
	TransferLedger string `yaml:"transfer_ledger" validate:"required"`
	ExchangeRate   string `yaml:"exchange_rate" validate:"required,numeric"`
}

type WagerConfig struct {
	MinParticipants int      `yaml:"min_participants" validate:"min=2"`
	MaxParticipants int      `yaml:"max_participants" validate:"gtefield=MinParticipants"`
	AdminIDs        []string `yaml:"admin_ids"`
}

type NatsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TLS           NatsTLSConfig `yaml:"tls"`
}

type NatsTLSConfig struct {
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	CACert     string `yaml:"ca_cert"`
}
