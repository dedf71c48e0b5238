package types

import "time"

// User is a caller identity as supplied by the chat bridge. Ledgers are keyed
// by Nickname; rooms track users by ID.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type SectorView struct {
	UserID     string  `json:"user_id"`
	Nickname   string  `json:"nickname"`
	Bet        int64   `json:"bet"`
	StartAngle float64 `json:"start_angle"`
	EndAngle   float64 `json:"end_angle"`
}

// DrawOutcome is what the presentation layer renders after a settled draw.
type DrawOutcome struct {
	RoomID         string       `json:"room_id"`
	Cycle          int          `json:"cycle"`
	PoolTotal      int64        `json:"pool_total"`
	WinnerID       string       `json:"winner_id"`
	WinnerNickname string       `json:"winner_nickname"`
	Sectors        []SectorView `json:"sectors"`
	SettledAt      time.Time    `json:"settled_at"`
}

type BalanceResult struct {
	Ledger     string `json:"ledger"`
	Nickname   string `json:"nickname"`
	NewBalance int64  `json:"new_balance"`
}

type BetResult struct {
	RoomID        string `json:"room_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	CumulativeBet int64  `json:"cumulative_bet"`
	NewBalance    int64  `json:"new_balance"`
}

type TransferResult struct {
	Amount        int64  `json:"amount"`
	Recipient     string `json:"recipient"`
	SenderBalance int64  `json:"sender_balance"`
}

type ConvertResult struct {
	Amount        int64 `json:"amount"`
	Credited      int64 `json:"credited"`
	SourceBalance int64 `json:"source_balance"`
	DestBalance   int64 `json:"dest_balance"`
}
