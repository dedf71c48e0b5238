package wager

import (
	"context"
	"math"
	"time"

	"github.com/fystack/community-bot/internal/lottery"
	"github.com/fystack/community-bot/internal/metrics"
	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/events"
)

const angleTolerance = 1e-9

// Ledger is the slice of the points economy wagering needs.
type Ledger interface {
	Balance(ctx context.Context, ledger, user string) (int64, error)
	Credit(ctx context.Context, ledger, user string, amount int64) (int64, error)
	Debit(ctx context.Context, ledger, user string, amount int64) (int64, error)
	GamblingLedger() string
}

// Coordinator pays out a locked draw exactly once.
type Coordinator struct {
	ledger  Ledger
	emitter events.Emitter
	now     func() time.Time
}

func NewCoordinator(ledger Ledger, emitter events.Emitter) *Coordinator {
	return &Coordinator{
		ledger:  ledger,
		emitter: emitter,
		now:     time.Now,
	}
}

// Settle pays the pending draw of r to its winner, then clears the cycle.
// The caller holds r.mu and r is Drawing with a pending draw. On any failure
// r stays Drawing with the draw kept, so the payout can be retried or an
// admin can unlock the room. The caller's cancellation does not reach the
// payout; each ledger call is still bounded by the store timeout.
func (c *Coordinator) Settle(ctx context.Context, r *Room) (types.DrawOutcome, error) {
	outcome, err := c.settle(context.WithoutCancel(ctx), r)
	metrics.RecordDraw(string(types.KindOf(err)), outcome.PoolTotal)
	if err != nil {
		logger.Error("Settlement failed, room left locked",
			"room_id", r.ID, "cycle", r.cycle, "kind", types.KindOf(err), "err", err,
		)
		c.emitter.Emit(events.WagerEvent{
			Type:   events.DrawFailed,
			RoomID: r.ID,
			Data: events.DrawFailedData{
				Kind:    string(types.KindOf(err)),
				Message: types.UserMessage(err),
			},
		})
		return types.DrawOutcome{}, err
	}

	metrics.SetRoomState(int(StateOpen))
	logger.Info("Draw settled",
		"room_id", outcome.RoomID, "cycle", outcome.Cycle,
		"winner", outcome.WinnerNickname, "pool", outcome.PoolTotal,
	)
	c.emitter.Emit(events.WagerEvent{
		Type:   events.DrawSettled,
		RoomID: r.ID,
		Data:   outcome,
	})
	return outcome, nil
}

func (c *Coordinator) settle(ctx context.Context, r *Room) (types.DrawOutcome, error) {
	if r.state != StateDrawing || r.pending == nil {
		return types.DrawOutcome{}, types.Errorf(types.KindInvariantViolation, "room %s has no locked draw to settle", r.ID)
	}
	p := r.pending

	pool, err := verify(p)
	if err != nil {
		return types.DrawOutcome{}, err
	}
	winner := p.draw.Winner()

	if _, err := c.ledger.Credit(ctx, c.ledger.GamblingLedger(), winner.Nickname, pool); err != nil {
		return types.DrawOutcome{}, err
	}

	outcome := types.DrawOutcome{
		RoomID:         r.ID,
		Cycle:          r.cycle,
		PoolTotal:      pool,
		WinnerID:       winner.UserID,
		WinnerNickname: winner.Nickname,
		Sectors:        sectorViews(p.draw.Sectors),
		SettledAt:      c.now().UTC(),
	}
	r.reset()
	return outcome, nil
}

// verify re-derives the pool from the locked snapshot and checks the drawn
// wheel against it before any points move.
func verify(p *pendingDraw) (int64, error) {
	var pool int64
	for _, e := range p.entries {
		if e.Bet <= 0 || pool > math.MaxInt64-e.Bet {
			return 0, types.Errorf(types.KindInvariantViolation, "snapshot stake of %s is invalid", e.UserID)
		}
		pool += e.Bet
	}
	if pool != p.draw.TotalPool {
		return 0, types.Errorf(types.KindInvariantViolation, "pool %d does not match drawn pool %d", pool, p.draw.TotalPool)
	}

	sectors := p.draw.Sectors
	if len(sectors) != len(p.entries) || len(sectors) == 0 {
		return 0, types.Errorf(types.KindInvariantViolation, "draw has %d sectors for %d stakes", len(sectors), len(p.entries))
	}
	var span float64
	prevEnd := 0.0
	for i, s := range sectors {
		if s.StartAngle != prevEnd || s.Entry != p.entries[i] {
			return 0, types.Errorf(types.KindInvariantViolation, "sector %d does not match the snapshot", i)
		}
		span += s.Span()
		prevEnd = s.EndAngle
	}
	if prevEnd != lottery.FullCircle || math.Abs(span-lottery.FullCircle) > angleTolerance {
		return 0, types.Errorf(types.KindInvariantViolation, "sectors cover %.9f degrees", span)
	}
	if p.draw.WinnerIndex < 0 || p.draw.WinnerIndex >= len(sectors) {
		return 0, types.Errorf(types.KindInvariantViolation, "winner index %d out of range", p.draw.WinnerIndex)
	}
	return pool, nil
}

func sectorViews(sectors []lottery.Sector) []types.SectorView {
	out := make([]types.SectorView, len(sectors))
	for i, s := range sectors {
		out[i] = types.SectorView{
			UserID:     s.Entry.UserID,
			Nickname:   s.Entry.Nickname,
			Bet:        s.Entry.Bet,
			StartAngle: s.StartAngle,
			EndAngle:   s.EndAngle,
		}
	}
	return out
}
