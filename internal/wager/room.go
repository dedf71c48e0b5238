package wager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fystack/community-bot/internal/lottery"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/common/types"
)

type State int

const (
	StateEmpty State = iota
	StateOpen
	StateDrawing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateOpen:
		return "open"
	case StateDrawing:
		return "drawing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Participant struct {
	UserID string `json:"user_id"`
	// Nickname is captured on join and keys the ledger for the whole cycle.
	Nickname      string    `json:"nickname"`
	CumulativeBet int64     `json:"cumulative_bet"`
	JoinedAt      time.Time `json:"joined_at"`
}

// pendingDraw is the snapshot handed to settlement. It survives a failed
// payout so the same draw can be paid again.
type pendingDraw struct {
	entries []lottery.Entry
	draw    lottery.Draw
}

// Room is the state of one wagering session. All fields below mu are guarded
// by it; ID, OwnerID, Name, Mode and CreatedAt never change after creation.
type Room struct {
	ID        string
	OwnerID   string
	Name      string
	Mode      enum.RoomMode
	CreatedAt time.Time

	// drawGuard is set before mu is taken, so a second start fails fast
	// instead of queueing behind a running settlement.
	drawGuard atomic.Bool

	mu           sync.Mutex
	state        State
	cycle        int
	participants map[string]*Participant
	order        []string
	pending      *pendingDraw
}

func newRoom(id string, owner types.User, name string, mode enum.RoomMode, now time.Time) *Room {
	return &Room{
		ID:           id,
		OwnerID:      owner.ID,
		Name:         name,
		Mode:         mode,
		CreatedAt:    now,
		state:        StateOpen,
		cycle:        1,
		participants: make(map[string]*Participant),
	}
}

// join adds the user if absent and reports whether it did.
func (r *Room) join(user types.User, now time.Time) (*Participant, bool) {
	if p, ok := r.participants[user.ID]; ok {
		return p, false
	}
	p := &Participant{UserID: user.ID, Nickname: user.Nickname, JoinedAt: now}
	r.participants[user.ID] = p
	r.order = append(r.order, user.ID)
	return p, true
}

// entries lists staked participants in join order.
func (r *Room) entries() []lottery.Entry {
	out := make([]lottery.Entry, 0, len(r.order))
	for _, id := range r.order {
		p := r.participants[id]
		if p.CumulativeBet <= 0 {
			continue
		}
		out = append(out, lottery.Entry{UserID: p.UserID, Nickname: p.Nickname, Bet: p.CumulativeBet})
	}
	return out
}

func (r *Room) pool() int64 {
	var total int64
	for _, p := range r.participants {
		total += p.CumulativeBet
	}
	return total
}

// reset clears the cycle after a payout and reopens the room.
func (r *Room) reset() {
	r.participants = make(map[string]*Participant)
	r.order = nil
	r.pending = nil
	r.cycle++
	r.state = StateOpen
	r.drawGuard.Store(false)
}

// RoomView is a read-only copy of a room.
type RoomView struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Name         string        `json:"name"`
	Mode         enum.RoomMode `json:"mode"`
	State        string        `json:"state"`
	Cycle        int           `json:"cycle"`
	Participants []Participant `json:"participants"`
	Pool         int64         `json:"pool"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (r *Room) view() RoomView {
	participants := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		participants = append(participants, *r.participants[id])
	}
	return RoomView{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Name:         r.Name,
		Mode:         r.Mode,
		State:        r.state.String(),
		Cycle:        r.cycle,
		Participants: participants,
		Pool:         r.pool(),
		CreatedAt:    r.CreatedAt,
	}
}

// RoomSlot holds at most one room.
type RoomSlot struct {
	mu   sync.Mutex
	room *Room
}

func NewRoomSlot() *RoomSlot {
	return &RoomSlot{}
}

func (s *RoomSlot) claim(r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != nil {
		return types.Errorf(types.KindRoomAlreadyOpen, "room %q is already open, close it before opening another", s.room.Name)
	}
	s.room = r
	return nil
}

func (s *RoomSlot) current() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// release empties the slot only if it still holds r.
func (s *RoomSlot) release(r *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != r {
		return false
	}
	s.room = nil
	return true
}
