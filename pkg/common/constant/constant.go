package constant

import "time"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	// Ledger names as they appear in the store.
	PointsLedger   = "points"
	MonthlyLedger  = "monthly"
	GamblingLedger = "gambling"

	// Monthly contest points convert to gambling points at 1:1000.
	DefaultExchangeRate = "1000"

	MinParticipants = 2
	MaxParticipants = 10

	DefaultStoreTimeout      = 3 * time.Second
	DefaultReadAttempts      = 3
	DefaultReadRetryInterval = 100 * time.Millisecond

	DefaultSubjectPrefix = "wager.events"
	DefaultHTTPPort      = 8080

	DefaultRateLimitRPS   = 5
	DefaultRateLimitBurst = 10
)
