package wager

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/fystack/community-bot/internal/lottery"
	"github.com/fystack/community-bot/internal/metrics"
	"github.com/fystack/community-bot/pkg/common/config"
	"github.com/fystack/community-bot/pkg/common/constant"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/events"
	"github.com/google/uuid"
)

type Options struct {
	MinParticipants int
	MaxParticipants int
	AdminIDs        []string
	// Source drives the draw; nil means crypto/rand.
	Source lottery.Source
}

func OptionsFromConfig(cfg config.WagerConfig) Options {
	return Options{
		MinParticipants: cfg.MinParticipants,
		MaxParticipants: cfg.MaxParticipants,
		AdminIDs:        cfg.AdminIDs,
	}
}

// Manager is the room control surface. Every mutation of a room runs under
// that room's mutex; ledger key locks are only taken inside it.
type Manager struct {
	slot        *RoomSlot
	ledger      Ledger
	coordinator *Coordinator
	emitter     events.Emitter
	admins      map[string]struct{}
	minCount    int
	maxCount    int
	source      lottery.Source
	now         func() time.Time
	newID       func() string
}

func NewManager(slot *RoomSlot, ledger Ledger, emitter events.Emitter, opts Options) *Manager {
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	if opts.MinParticipants <= 0 {
		opts.MinParticipants = constant.MinParticipants
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = constant.MaxParticipants
	}
	if opts.Source == nil {
		opts.Source = lottery.CryptoSource{}
	}

	admins := make(map[string]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}

	return &Manager{
		slot:        slot,
		ledger:      ledger,
		coordinator: NewCoordinator(ledger, emitter),
		emitter:     emitter,
		admins:      admins,
		minCount:    opts.MinParticipants,
		maxCount:    opts.MaxParticipants,
		source:      opts.Source,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (m *Manager) IsAdmin(userID string) bool {
	_, ok := m.admins[userID]
	return ok
}

func (m *Manager) OpenRoom(ctx context.Context, owner types.User, name string, mode enum.RoomMode) (RoomView, error) {
	if err := validateUser(owner); err != nil {
		return RoomView{}, err
	}
	if mode == "" {
		mode = enum.RoomModeLottery
	}
	if !mode.IsValid() {
		return RoomView{}, types.Errorf(types.KindInvalidRequest, "unknown room mode %q", mode)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = owner.Nickname + "'s room"
	}

	room := newRoom(m.newID(), owner, name, mode, m.now().UTC())
	if err := m.slot.claim(room); err != nil {
		logger.Debug("Open room rejected", "owner_id", owner.ID, "err", err)
		return RoomView{}, err
	}

	metrics.SetRoomState(int(StateOpen))
	logger.Info("Room opened", "room_id", room.ID, "owner_id", owner.ID, "name", name, "mode", mode)
	m.emit(events.RoomOpened, room.ID, owner.ID, room.view())
	return room.view(), nil
}

// Join adds user to the room. Joining twice is a no-op.
func (m *Manager) Join(ctx context.Context, roomID string, user types.User) (RoomView, error) {
	if err := validateUser(user); err != nil {
		return RoomView{}, err
	}
	room, err := m.room(roomID)
	if err != nil {
		return RoomView{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if err := acceptingBets(room); err != nil {
		return RoomView{}, err
	}

	if _, added := room.join(user, m.now().UTC()); added {
		logger.Debug("Participant joined", "room_id", room.ID, "user_id", user.ID, "nickname", user.Nickname)
		m.emit(events.ParticipantJoined, room.ID, user.ID, user)
	}
	return room.view(), nil
}

// PlaceBet stakes amount gambling points, joining the user first if needed.
// The balance is re-read under the user's ledger lock right before the debit,
// and the stake is recorded only after the debit is stored.
func (m *Manager) PlaceBet(ctx context.Context, roomID string, user types.User, amount int64) (res types.BetResult, err error) {
	started := time.Now()
	defer func() { metrics.RecordBet(string(types.KindOf(err)), started) }()

	if amount <= 0 {
		return types.BetResult{}, types.Errorf(types.KindInvalidAmount, "bet must be a positive number of points, got %d", amount)
	}
	if err := validateUser(user); err != nil {
		return types.BetResult{}, err
	}
	room, err := m.room(roomID)
	if err != nil {
		return types.BetResult{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if err := acceptingBets(room); err != nil {
		return types.BetResult{}, err
	}

	nickname := user.Nickname
	var current int64
	if p, ok := room.participants[user.ID]; ok {
		nickname = p.Nickname
		current = p.CumulativeBet
	}
	if current > math.MaxInt64-amount || room.pool() > math.MaxInt64-amount {
		return types.BetResult{}, types.Errorf(types.KindInvalidAmount, "bet of %d is too large for this room", amount)
	}
	cumulative := current + amount

	balance, err := m.ledger.Debit(ctx, m.ledger.GamblingLedger(), nickname, amount)
	if err != nil {
		logger.Debug("Bet rejected", "room_id", room.ID, "user_id", user.ID, "amount", amount, "err", err)
		return types.BetResult{}, err
	}

	p, added := room.join(types.User{ID: user.ID, Nickname: nickname}, m.now().UTC())
	p.CumulativeBet = cumulative
	if added {
		m.emit(events.ParticipantJoined, room.ID, user.ID, user)
	}

	logger.Info("Bet placed", "room_id", room.ID, "user_id", user.ID, "amount", amount, "cumulative", cumulative)
	m.emit(events.BetPlaced, room.ID, user.ID, events.BetPlacedData{
		Nickname:      nickname,
		Amount:        amount,
		CumulativeBet: cumulative,
	})
	return types.BetResult{
		RoomID:        room.ID,
		UserID:        user.ID,
		Amount:        amount,
		CumulativeBet: cumulative,
		NewBalance:    balance,
	}, nil
}

// StartDraw locks the room, draws a winner from the current stakes and hands
// the snapshot to settlement. Only one draw per room runs at a time.
func (m *Manager) StartDraw(ctx context.Context, roomID string, requester types.User) (types.DrawOutcome, error) {
	room, err := m.room(roomID)
	if err != nil {
		return types.DrawOutcome{}, err
	}
	if room.OwnerID != requester.ID {
		return types.DrawOutcome{}, notOwner("start the draw")
	}
	if !room.drawGuard.CompareAndSwap(false, true) {
		return types.DrawOutcome{}, drawInProgress()
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := m.lockDraw(room); err != nil {
		room.drawGuard.Store(false)
		metrics.RecordDraw(string(types.KindOf(err)), 0)
		logger.Debug("Draw rejected", "room_id", room.ID, "err", err)
		return types.DrawOutcome{}, err
	}

	metrics.SetRoomState(int(StateDrawing))
	logger.Info("Draw started",
		"room_id", room.ID, "cycle", room.cycle,
		"participants", len(room.pending.entries), "pool", room.pending.draw.TotalPool,
	)
	return m.coordinator.Settle(ctx, room)
}

// lockDraw validates the stakes, runs the lottery and moves the room to
// Drawing. It changes nothing on failure.
func (m *Manager) lockDraw(room *Room) error {
	switch room.state {
	case StateClosed:
		return noActiveRoom()
	case StateDrawing:
		return drawInProgress()
	}

	entries := room.entries()
	if len(entries) < m.minCount {
		return types.Errorf(types.KindTooFewParticipants,
			"at least %d players with a bet are needed, this room has %d", m.minCount, len(entries))
	}
	if len(entries) > m.maxCount {
		return types.Errorf(types.KindTooManyParticipants,
			"at most %d players can be drawn, this room has %d", m.maxCount, len(entries))
	}

	draw, err := lottery.Run(entries, m.source)
	if err != nil {
		return types.Wrap(types.KindInvariantViolation, err, "the draw could not be computed")
	}

	room.pending = &pendingDraw{entries: entries, draw: draw}
	room.state = StateDrawing
	return nil
}

// RetrySettlement pays the kept draw of a room left locked by a failed payout.
// The winner is not redrawn.
func (m *Manager) RetrySettlement(ctx context.Context, roomID string, requester types.User) (types.DrawOutcome, error) {
	room, err := m.room(roomID)
	if err != nil {
		return types.DrawOutcome{}, err
	}
	if room.OwnerID != requester.ID && !m.IsAdmin(requester.ID) {
		return types.DrawOutcome{}, notOwner("retry the payout")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state == StateClosed {
		return types.DrawOutcome{}, noActiveRoom()
	}
	if room.state != StateDrawing || room.pending == nil {
		return types.DrawOutcome{}, types.Errorf(types.KindInvalidRequest, "there is no failed payout to retry")
	}

	logger.Info("Retrying settlement", "room_id", room.ID, "cycle", room.cycle, "requester_id", requester.ID)
	return m.coordinator.Settle(ctx, room)
}

// CloseRoom destroys the room. Unsettled bets are not refunded.
func (m *Manager) CloseRoom(ctx context.Context, roomID string, requester types.User) (RoomView, error) {
	room, err := m.room(roomID)
	if err != nil {
		return RoomView{}, err
	}
	if room.OwnerID != requester.ID {
		return RoomView{}, notOwner("close the room")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	switch room.state {
	case StateClosed:
		return RoomView{}, noActiveRoom()
	case StateDrawing:
		return RoomView{}, payoutPending()
	}
	return m.destroy(room, requester, false), nil
}

// ForceClose destroys the current room whatever its state. Admin only.
func (m *Manager) ForceClose(ctx context.Context, requester types.User) (RoomView, error) {
	if !m.IsAdmin(requester.ID) {
		return RoomView{}, notAdmin()
	}
	room := m.slot.current()
	if room == nil {
		return RoomView{}, noActiveRoom()
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state == StateClosed {
		return RoomView{}, noActiveRoom()
	}
	return m.destroy(room, requester, true), nil
}

// ForceUnlock returns a room stuck in Drawing to Open. Stakes are kept and the
// pending draw is dropped. Admin only.
func (m *Manager) ForceUnlock(ctx context.Context, requester types.User) (RoomView, error) {
	if !m.IsAdmin(requester.ID) {
		return RoomView{}, notAdmin()
	}
	room := m.slot.current()
	if room == nil {
		return RoomView{}, noActiveRoom()
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state != StateDrawing {
		return RoomView{}, types.Errorf(types.KindInvalidRequest, "the room is not locked")
	}

	room.pending = nil
	room.state = StateOpen
	room.drawGuard.Store(false)

	metrics.SetRoomState(int(StateOpen))
	logger.Warn("Room force unlocked", "room_id", room.ID, "admin_id", requester.ID, "pool", room.pool())
	view := room.view()
	m.emit(events.RoomUnlocked, room.ID, requester.ID, view)
	return view, nil
}

// Status returns the room with roomID, or the current room when roomID is
// empty.
func (m *Manager) Status(ctx context.Context, roomID string) (RoomView, error) {
	room, err := m.room(roomID)
	if err != nil {
		return RoomView{}, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state == StateClosed {
		return RoomView{}, noActiveRoom()
	}
	return room.view(), nil
}

// destroy assumes room.mu is held.
func (m *Manager) destroy(room *Room, requester types.User, forced bool) RoomView {
	discarded := room.pool()
	room.state = StateClosed
	view := room.view()
	m.slot.release(room)

	metrics.SetRoomState(int(StateEmpty))
	logger.Info("Room closed",
		"room_id", room.ID, "owner_id", room.OwnerID, "closed_by", requester.ID,
		"forced", forced, "discarded_pool", discarded,
	)
	m.emit(events.RoomClosed, room.ID, requester.ID, events.RoomClosedData{
		Forced:        forced,
		DiscardedPool: discarded,
	})
	return view
}

// room resolves a handle to the live room. An empty id means the current one.
func (m *Manager) room(roomID string) (*Room, error) {
	room := m.slot.current()
	if room == nil || (roomID != "" && room.ID != roomID) {
		return nil, noActiveRoom()
	}
	return room, nil
}

func (m *Manager) emit(t events.EventType, roomID, actorID string, data any) {
	m.emitter.Emit(events.WagerEvent{
		Type:      t,
		RoomID:    roomID,
		ActorID:   actorID,
		Data:      data,
		Timestamp: m.now().UTC().Unix(),
	})
}

// Close releases the event emitter.
func (m *Manager) Close() error {
	return m.emitter.Close()
}

// acceptingBets assumes room.mu is held, so a Drawing room here is one whose
// payout already failed.
func acceptingBets(room *Room) error {
	switch room.state {
	case StateClosed:
		return noActiveRoom()
	case StateDrawing:
		return payoutPending()
	}
	return nil
}

func validateUser(u types.User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Nickname) == "" {
		return types.Errorf(types.KindInvalidRequest, "a user id and nickname are required")
	}
	return nil
}

func noActiveRoom() error {
	return types.Errorf(types.KindNoActiveRoom, "there is no open room")
}

func drawInProgress() error {
	return types.Errorf(types.KindDrawInProgress, "a draw is already running for this room")
}

func payoutPending() error {
	return types.Errorf(types.KindDrawInProgress,
		"the last payout failed and the room is locked, the owner can retry it or an admin can force close the room")
}

func notOwner(action string) error {
	return types.Errorf(types.KindNotOwner, "only the room owner can %s", action)
}

func notAdmin() error {
	return types.Errorf(types.KindNotAdmin, "this command is for admins only")
}
