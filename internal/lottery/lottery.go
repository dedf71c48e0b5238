// Package lottery turns a snapshot of stakes into a wheel of proportional
// sectors and draws one winner from it. It holds no state and knows nothing
// about rooms or ledgers.
package lottery

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
)

const FullCircle = 360.0

var (
	ErrNoEntries      = errors.New("lottery: no entries")
	ErrNonPositiveBet = errors.New("lottery: bet must be positive")
	ErrPoolOverflow   = errors.New("lottery: pool overflows int64")
)

type Entry struct {
	UserID   string
	Nickname string
	Bet      int64
}

// Sector is the slice of the wheel [StartAngle, EndAngle) owned by Entry.
type Sector struct {
	Entry      Entry
	StartAngle float64
	EndAngle   float64
}

func (s Sector) Span() float64 { return s.EndAngle - s.StartAngle }

type Draw struct {
	Sectors     []Sector
	TotalPool   int64
	WinnerIndex int
	// Ticket is the drawn point in [0, TotalPool).
	Ticket int64
}

func (d Draw) Winner() Entry { return d.Sectors[d.WinnerIndex].Entry }

// Source yields a uniform integer in [0, n).
type Source interface {
	Int63n(n int64) (int64, error)
}

type CryptoSource struct{}

func (CryptoSource) Int63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("lottery: invalid range %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// Pool sums the stakes, rejecting empty, non-positive and overflowing input.
func Pool(entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, ErrNoEntries
	}
	var total int64
	for _, e := range entries {
		if e.Bet <= 0 {
			return 0, fmt.Errorf("%w: %s bet %d", ErrNonPositiveBet, e.UserID, e.Bet)
		}
		if total > math.MaxInt64-e.Bet {
			return 0, ErrPoolOverflow
		}
		total += e.Bet
	}
	return total, nil
}

// BuildSectors lays the entries out contiguously from angle 0 in the given
// order. Boundaries come from the running stake total, and the last sector
// always ends at exactly 360.
func BuildSectors(entries []Entry) ([]Sector, int64, error) {
	total, err := Pool(entries)
	if err != nil {
		return nil, 0, err
	}

	sectors := make([]Sector, len(entries))
	var cum int64
	start := 0.0
	for i, e := range entries {
		cum += e.Bet
		end := boundary(cum, total)
		if i == len(entries)-1 {
			end = FullCircle
		}
		sectors[i] = Sector{Entry: e, StartAngle: start, EndAngle: end}
		start = end
	}
	return sectors, total, nil
}

func boundary(cum, total int64) float64 {
	// big.Rat keeps 360*cum exact when it would overflow int64.
	r := new(big.Rat).SetFrac(new(big.Int).Mul(big.NewInt(cum), big.NewInt(FullCircle)), big.NewInt(total))
	f, _ := r.Float64()
	return f
}

// Run builds the wheel and draws a winner with probability bet/total. The
// draw is made on integer stakes, so rounding in the angles never shifts odds.
func Run(entries []Entry, src Source) (Draw, error) {
	sectors, total, err := BuildSectors(entries)
	if err != nil {
		return Draw{}, err
	}
	if src == nil {
		src = CryptoSource{}
	}

	ticket, err := src.Int63n(total)
	if err != nil {
		return Draw{}, fmt.Errorf("lottery: draw ticket: %w", err)
	}
	if ticket < 0 || ticket >= total {
		return Draw{}, fmt.Errorf("lottery: ticket %d outside [0, %d)", ticket, total)
	}

	winner := len(sectors) - 1
	var cum int64
	for i, s := range sectors {
		cum += s.Entry.Bet
		if ticket < cum {
			winner = i
			break
		}
	}

	return Draw{
		Sectors:     sectors,
		TotalPool:   total,
		WinnerIndex: winner,
		Ticket:      ticket,
	}, nil
}
