package enum

type LedgerStoreType string
type RoomMode string

const (
	LedgerStoreTypeBadger LedgerStoreType = "badger"
	LedgerStoreTypeRedis  LedgerStoreType = "redis"
)

const (
	// RoomModeLottery splits the pool into sectors proportional to stake and
	// pays everything to one weighted-random winner.
	RoomModeLottery RoomMode = "lottery"
)

func (m RoomMode) IsValid() bool {
	return m == RoomModeLottery
}
