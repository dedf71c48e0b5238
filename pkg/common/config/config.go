package config

import (
	"github.com/fystack/community-bot/pkg/common/constant"
	"github.com/fystack/community-bot/pkg/common/enum"
)

type Config struct {
	Environment string        `yaml:"environment" validate:"required,oneof=production development"`
	Log         LogConfig     `yaml:"log"`
	HTTP        HTTPConfig    `yaml:"http"`
	Ledger      LedgerConfig  `yaml:"ledger"`
	Economy     EconomyConfig `yaml:"economy"`
	Wager       WagerConfig   `yaml:"wager"`
	Nats        NatsConfig    `yaml:"nats"`
}

// ApplyDefaults fills every zero field that has a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = constant.EnvDevelopment
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = constant.DefaultHTTPPort
	}
	if c.HTTP.RateLimit.RPS == 0 {
		c.HTTP.RateLimit.RPS = constant.DefaultRateLimitRPS
	}
	if c.HTTP.RateLimit.Burst == 0 {
		c.HTTP.RateLimit.Burst = constant.DefaultRateLimitBurst
	}

	if c.Ledger.Type == "" {
		c.Ledger.Type = enum.LedgerStoreTypeBadger
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = constant.DefaultStoreTimeout
	}
	if c.Ledger.ReadAttempts == 0 {
		c.Ledger.ReadAttempts = constant.DefaultReadAttempts
	}
	if c.Ledger.ReadRetryInterval == 0 {
		c.Ledger.ReadRetryInterval = constant.DefaultReadRetryInterval
	}

	if c.Economy.PointsLedger == "" {
		c.Economy.PointsLedger = constant.PointsLedger
	}
	if c.Economy.MonthlyLedger == "" {
		c.Economy.MonthlyLedger = constant.MonthlyLedger
	}
	if c.Economy.GamblingLedger == "" {
		c.Economy.GamblingLedger = constant.GamblingLedger
	}
	if c.Economy.TransferLedger == "" {
		c.Economy.TransferLedger = c.Economy.GamblingLedger
	}
	if c.Economy.ExchangeRate == "" {
		c.Economy.ExchangeRate = constant.DefaultExchangeRate
	}

	if c.Wager.MinParticipants == 0 {
		c.Wager.MinParticipants = constant.MinParticipants
	}
	if c.Wager.MaxParticipants == 0 {
		c.Wager.MaxParticipants = constant.MaxParticipants
	}

	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = constant.DefaultSubjectPrefix
	}
}
