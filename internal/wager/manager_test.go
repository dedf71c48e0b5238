package wager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fystack/community-bot/internal/economy"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/events"
	"github.com/fystack/community-bot/pkg/infra"
	"github.com/fystack/community-bot/pkg/ledgerstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gambling = "gambling"

var (
	owner  = types.User{ID: "100", Nickname: "olivia"}
	xavier = types.User{ID: "1", Nickname: "xavier"}
	yuki   = types.User{ID: "2", Nickname: "yuki"}
	admin  = types.User{ID: "999", Nickname: "mod"}
)

// ticketSource always draws the same ticket.
type ticketSource int64

func (t ticketSource) Int63n(n int64) (int64, error) { return int64(t) % n, nil }

// gatedStore can hold or fail writes for one ledger key.
type gatedStore struct {
	infra.LedgerStore

	mu      sync.Mutex
	failKey string
	failErr error
	gateKey string
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) failWrites(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKey, s.failErr = key, err
}

func (s *gatedStore) gateWrites(key string) (entered <-chan struct{}, release chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateKey = key
	s.entered = make(chan struct{}, 1)
	s.release = make(chan struct{})
	return s.entered, s.release
}

func (s *gatedStore) beforeWrite(ctx context.Context, key string) error {
	s.mu.Lock()
	failKey, failErr := s.failKey, s.failErr
	gateKey, entered, release := s.gateKey, s.entered, s.release
	s.mu.Unlock()

	if key == gateKey && release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if key == failKey && failErr != nil {
		return failErr
	}
	return nil
}

func (s *gatedStore) Write(ctx context.Context, ledger, key string, balance int64) error {
	if err := s.beforeWrite(ctx, key); err != nil {
		return err
	}
	return s.LedgerStore.Write(ctx, ledger, key, balance)
}

func (s *gatedStore) AppendRow(ctx context.Context, ledger, key string, balance int64) error {
	if err := s.beforeWrite(ctx, key); err != nil {
		return err
	}
	return s.LedgerStore.AppendRow(ctx, ledger, key, balance)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.WagerEvent
}

func (r *recordingEmitter) Emit(e events.WagerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) Close() error { return nil }

func (r *recordingEmitter) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	m       *Manager
	eco     *economy.Economy
	store   *gatedStore
	emitter *recordingEmitter
}

func newHarness(t *testing.T, source ticketSource) *harness {
	t.Helper()
	base, err := ledgerstore.NewInMemoryBadgerStore("", infra.JSON)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	store := &gatedStore{LedgerStore: base}
	eco := economy.New(store, economy.Options{
		GamblingLedger:    gambling,
		MonthlyLedger:     "monthly",
		TransferLedger:    gambling,
		ExchangeRate:      decimal.NewFromInt(1000),
		Timeout:           5 * time.Second,
		ReadAttempts:      1,
		ReadRetryInterval: time.Millisecond,
	})
	emitter := &recordingEmitter{}
	m := NewManager(NewRoomSlot(), eco, emitter, Options{
		MinParticipants: 2,
		MaxParticipants: 10,
		AdminIDs:        []string{admin.ID},
		Source:          source,
	})
	return &harness{m: m, eco: eco, store: store, emitter: emitter}
}

func (h *harness) seed(t *testing.T, u types.User, amount int64) {
	t.Helper()
	_, err := h.eco.Credit(context.Background(), gambling, u.Nickname, amount)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, u types.User) int64 {
	t.Helper()
	b, err := h.eco.Balance(context.Background(), gambling, u.Nickname)
	require.NoError(t, err)
	return b
}

func (h *harness) open(t *testing.T) string {
	t.Helper()
	view, err := h.m.OpenRoom(context.Background(), owner, "friday", enum.RoomModeLottery)
	require.NoError(t, err)
	return view.ID
}

func (h *harness) bet(t *testing.T, roomID string, u types.User, amount int64) {
	t.Helper()
	_, err := h.m.PlaceBet(context.Background(), roomID, u, amount)
	require.NoError(t, err)
}

// stakeThirtySeventy opens a room where xavier staked 30 and yuki 70.
func (h *harness) stakeThirtySeventy(t *testing.T) string {
	t.Helper()
	h.seed(t, xavier, 30)
	h.seed(t, yuki, 70)
	id := h.open(t)
	h.bet(t, id, xavier, 30)
	h.bet(t, id, yuki, 70)
	return id
}

func TestOpenRoom_OnlyOneAtATime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)

	first := h.open(t)
	_, err := h.m.OpenRoom(ctx, xavier, "other", "")
	assert.ErrorIs(t, err, types.ErrRoomAlreadyOpen)

	_, err = h.m.CloseRoom(ctx, first, owner)
	require.NoError(t, err)

	second, err := h.m.OpenRoom(ctx, xavier, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second.ID)
	assert.Equal(t, enum.RoomModeLottery, second.Mode)
	assert.Equal(t, "xavier's room", second.Name)

	// Handles to a destroyed room stay dead.
	_, err = h.m.Join(ctx, first, yuki)
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)
}

func TestOpenRoom_ConcurrentOpens(t *testing.T) {
	h := newHarness(t, 0)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := types.User{ID: fmt.Sprint(i), Nickname: fmt.Sprint("user", i)}
			if _, err := h.m.OpenRoom(context.Background(), u, "", ""); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
}

func TestOpenRoom_InvalidInput(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.m.OpenRoom(context.Background(), owner, "x", enum.RoomMode("poker"))
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = h.m.OpenRoom(context.Background(), types.User{ID: "1"}, "x", "")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = h.m.Status(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)
}

func TestJoin_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)

	_, err := h.m.Join(ctx, id, xavier)
	require.NoError(t, err)
	h.bet(t, id, xavier, 20)

	view, err := h.m.Join(ctx, id, xavier)
	require.NoError(t, err)
	require.Len(t, view.Participants, 1)
	assert.Equal(t, int64(20), view.Participants[0].CumulativeBet)
	assert.Equal(t, 1, h.emitter.count(events.ParticipantJoined))
	assert.Equal(t, int64(30), h.balance(t, xavier), "join moves no points")
}

func TestPlaceBet_AccumulatesAndJoins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 100)
	id := h.open(t)

	res, err := h.m.PlaceBet(ctx, id, xavier, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.CumulativeBet)
	assert.Equal(t, int64(70), res.NewBalance)

	res, err = h.m.PlaceBet(ctx, id, xavier, 45)
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.CumulativeBet)
	assert.Equal(t, int64(25), res.NewBalance)

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	require.Len(t, view.Participants, 1)
	assert.Equal(t, "xavier", view.Participants[0].Nickname)
	assert.Equal(t, int64(75), view.Pool)
	assert.Equal(t, 2, h.emitter.count(events.BetPlaced))
}

func TestPlaceBet_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)

	_, err := h.m.PlaceBet(ctx, id, xavier, 80)
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	assert.Equal(t, int64(50), h.balance(t, xavier))

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, view.Participants, "failed bet must not record a stake or join")
}

func TestPlaceBet_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)

	_, err := h.m.PlaceBet(ctx, "", xavier, 10)
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)

	id := h.open(t)
	for _, amount := range []int64{0, -1} {
		_, err := h.m.PlaceBet(ctx, id, xavier, amount)
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	}
	assert.Equal(t, int64(50), h.balance(t, xavier))
}

func TestPlaceBet_StoreFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)

	h.store.failWrites(xavier.Nickname, errors.New("connection reset"))
	_, err := h.m.PlaceBet(ctx, id, xavier, 10)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	h.store.failWrites("", nil)

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, view.Participants)
	assert.Equal(t, int64(50), h.balance(t, xavier))
}

func TestPlaceBet_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.PlaceBet(ctx, id, xavier, 40)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, types.ErrInsufficientFunds):
			insufficient++
			assert.Contains(t, types.UserMessage(err), "10")
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(10), h.balance(t, xavier))

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(40), view.Participants[0].CumulativeBet)
}

func TestStartDraw_ThirtySeventy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	out, err := h.m.StartDraw(ctx, id, owner)
	require.NoError(t, err)

	assert.Equal(t, int64(100), out.PoolTotal)
	assert.Equal(t, yuki.ID, out.WinnerID)
	assert.Equal(t, "yuki", out.WinnerNickname)
	require.Len(t, out.Sectors, 2)
	assert.Equal(t, xavier.ID, out.Sectors[0].UserID)
	assert.Equal(t, 0.0, out.Sectors[0].StartAngle)
	assert.Equal(t, 108.0, out.Sectors[0].EndAngle)
	assert.Equal(t, 108.0, out.Sectors[1].StartAngle)
	assert.Equal(t, 360.0, out.Sectors[1].EndAngle)

	assert.Equal(t, int64(0), h.balance(t, xavier))
	assert.Equal(t, int64(100), h.balance(t, yuki))

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "open", view.State)
	assert.Equal(t, 2, view.Cycle)
	assert.Empty(t, view.Participants)
	assert.Equal(t, 1, h.emitter.count(events.DrawSettled))
}

func TestStartDraw_SettlesAfterCallerGoesAway(t *testing.T) {
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.m.StartDraw(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, yuki.ID, out.WinnerID)
	assert.Equal(t, int64(100), h.balance(t, yuki))

	view, err := h.m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "open", view.State)
	assert.Equal(t, 1, h.emitter.count(events.DrawSettled))
}

func TestStartDraw_LowTicketPicksFirstSector(t *testing.T) {
	h := newHarness(t, 29)
	id := h.stakeThirtySeventy(t)

	out, err := h.m.StartDraw(context.Background(), id, owner)
	require.NoError(t, err)
	assert.Equal(t, xavier.ID, out.WinnerID)
	assert.Equal(t, int64(100), h.balance(t, xavier))
}

func TestStartDraw_ConservesPoints(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 123)

	players := make([]types.User, 6)
	for i := range players {
		players[i] = types.User{ID: fmt.Sprint(10 + i), Nickname: fmt.Sprint("p", i)}
		h.seed(t, players[i], 1000)
	}
	id := h.open(t)

	var staked int64
	for round := 1; round <= 3; round++ {
		for i, p := range players {
			amount := int64(round*7 + i*11)
			h.bet(t, id, p, amount)
			staked += amount
		}
	}

	out, err := h.m.StartDraw(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, staked, out.PoolTotal)

	var total int64
	for _, p := range players {
		total += h.balance(t, p)
	}
	assert.Equal(t, int64(6000), total)
}

func TestStartDraw_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 10)
	id := h.open(t)

	_, err := h.m.StartDraw(ctx, id, xavier)
	assert.ErrorIs(t, err, types.ErrNotOwner)

	h.bet(t, id, xavier, 10)
	_, err = h.m.Join(ctx, id, yuki)
	require.NoError(t, err)
	_, err = h.m.StartDraw(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrTooFewParticipants, "a joined player without a stake is not drawn")

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "open", view.State)
	assert.Equal(t, int64(10), view.Pool)
}

func TestStartDraw_TooManyParticipants(t *testing.T) {
	h := newHarness(t, 0)
	id := h.open(t)
	for i := 0; i < 11; i++ {
		u := types.User{ID: fmt.Sprint(i), Nickname: fmt.Sprint("p", i)}
		h.seed(t, u, 1)
		h.bet(t, id, u, 1)
	}

	_, err := h.m.StartDraw(context.Background(), id, owner)
	assert.ErrorIs(t, err, types.ErrTooManyParticipants)

	// The guard is released on rejection.
	_, err = h.m.StartDraw(context.Background(), id, owner)
	assert.ErrorIs(t, err, types.ErrTooManyParticipants)
}

func TestStartDraw_ConcurrentStartsSettleOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	entered, release := h.store.gateWrites(yuki.Nickname)

	type result struct {
		out types.DrawOutcome
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := h.m.StartDraw(ctx, id, owner)
		first <- result{out, err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("payout never started")
	}

	_, err := h.m.StartDraw(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrDrawInProgress)

	close(release)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, int64(100), r.out.PoolTotal)

	assert.Equal(t, int64(100), h.balance(t, yuki))
	assert.Equal(t, 1, h.emitter.count(events.DrawSettled))
}

func TestStartDraw_PayoutFailureKeepsRoomLocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)
	h.seed(t, xavier, 5)

	h.store.failWrites(yuki.Nickname, errors.New("i/o timeout"))
	_, err := h.m.StartDraw(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.True(t, types.Retryable(err))
	assert.Equal(t, 1, h.emitter.count(events.DrawFailed))

	view, err := h.m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "drawing", view.State)
	assert.Equal(t, int64(100), view.Pool)
	assert.Len(t, view.Participants, 2)

	_, err = h.m.Join(ctx, id, admin)
	assert.ErrorIs(t, err, types.ErrDrawInProgress)
	_, err = h.m.PlaceBet(ctx, id, xavier, 5)
	assert.ErrorIs(t, err, types.ErrDrawInProgress)
	_, err = h.m.StartDraw(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrDrawInProgress)
	_, err = h.m.CloseRoom(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrDrawInProgress)
	assert.Contains(t, types.UserMessage(err), "retry")
	assert.Contains(t, types.UserMessage(err), "force close")
	assert.Equal(t, int64(5), h.balance(t, xavier))
}

func TestRetrySettlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	_, err := h.m.RetrySettlement(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrInvalidRequest, "nothing to retry yet")

	h.store.failWrites(yuki.Nickname, errors.New("i/o timeout"))
	_, err = h.m.StartDraw(ctx, id, owner)
	require.Error(t, err)

	_, err = h.m.RetrySettlement(ctx, id, xavier)
	assert.ErrorIs(t, err, types.ErrNotOwner)

	_, err = h.m.RetrySettlement(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	h.store.failWrites("", nil)
	out, err := h.m.RetrySettlement(ctx, id, admin)
	require.NoError(t, err)
	assert.Equal(t, yuki.ID, out.WinnerID)
	assert.Equal(t, int64(100), out.PoolTotal)
	assert.Equal(t, 1, out.Cycle)
	assert.Equal(t, int64(100), h.balance(t, yuki))

	_, err = h.m.RetrySettlement(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrInvalidRequest, "paid exactly once")
	assert.Equal(t, int64(100), h.balance(t, yuki))
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	_, err := h.m.ForceUnlock(ctx, admin)
	assert.ErrorIs(t, err, types.ErrInvalidRequest, "room is not locked")

	h.store.failWrites(yuki.Nickname, errors.New("i/o timeout"))
	_, err = h.m.StartDraw(ctx, id, owner)
	require.Error(t, err)

	_, err = h.m.ForceUnlock(ctx, owner)
	assert.ErrorIs(t, err, types.ErrNotAdmin)

	view, err := h.m.ForceUnlock(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "open", view.State)
	assert.Equal(t, int64(100), view.Pool, "stakes survive the unlock")
	assert.Equal(t, 1, h.emitter.count(events.RoomUnlocked))

	h.store.failWrites("", nil)
	out, err := h.m.StartDraw(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), out.PoolTotal)
}

func TestCloseRoom_DiscardsUnsettledBets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)
	h.bet(t, id, xavier, 20)

	_, err := h.m.CloseRoom(ctx, id, xavier)
	assert.ErrorIs(t, err, types.ErrNotOwner)

	view, err := h.m.CloseRoom(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, "closed", view.State)
	assert.Equal(t, int64(20), view.Pool)
	assert.Equal(t, int64(30), h.balance(t, xavier), "closing does not refund")

	_, err = h.m.PlaceBet(ctx, id, xavier, 1)
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)
	_, err = h.m.CloseRoom(ctx, id, owner)
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)

	h.emitter.mu.Lock()
	last := h.emitter.events[len(h.emitter.events)-1]
	h.emitter.mu.Unlock()
	assert.Equal(t, events.RoomClosed, last.Type)
	assert.Equal(t, events.RoomClosedData{Forced: false, DiscardedPool: 20}, last.Data)
}

func TestCloseRoom_WaitsForInFlightBet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)
	h.seed(t, xavier, 50)
	id := h.open(t)

	entered, release := h.store.gateWrites(xavier.Nickname)
	betDone := make(chan error, 1)
	go func() {
		_, err := h.m.PlaceBet(ctx, id, xavier, 20)
		betDone <- err
	}()
	<-entered

	closed := make(chan RoomView, 1)
	go func() {
		view, err := h.m.CloseRoom(ctx, id, owner)
		assert.NoError(t, err)
		closed <- view
	}()

	select {
	case <-closed:
		t.Fatal("close ran while a bet held the room")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-betDone)
	view := <-closed
	assert.Equal(t, int64(20), view.Pool)
	assert.Equal(t, int64(30), h.balance(t, xavier))
}

func TestForceClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	id := h.stakeThirtySeventy(t)

	h.store.failWrites(yuki.Nickname, errors.New("i/o timeout"))
	_, err := h.m.StartDraw(ctx, id, owner)
	require.Error(t, err)

	_, err = h.m.ForceClose(ctx, owner)
	assert.ErrorIs(t, err, types.ErrNotAdmin)

	view, err := h.m.ForceClose(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "closed", view.State)

	_, err = h.m.Status(ctx, "")
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)
	_, err = h.m.ForceClose(ctx, admin)
	assert.ErrorIs(t, err, types.ErrNoActiveRoom)

	_, err = h.m.OpenRoom(ctx, xavier, "", "")
	assert.NoError(t, err)
}
