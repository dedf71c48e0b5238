package events

type EventType string

const (
	RoomOpened        EventType = "room_opened"
	ParticipantJoined EventType = "participant_joined"
	BetPlaced         EventType = "bet_placed"
	DrawSettled       EventType = "draw_settled"
	DrawFailed        EventType = "draw_failed"
	RoomClosed        EventType = "room_closed"
	RoomUnlocked      EventType = "room_unlocked"
)

// WagerEvent is the envelope published for every room transition.
type WagerEvent struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type BetPlacedData struct {
	Nickname      string `json:"nickname"`
	Amount        int64  `json:"amount"`
	CumulativeBet int64  `json:"cumulative_bet"`
}

type RoomClosedData struct {
	Forced bool `json:"forced"`
	// DiscardedPool is the sum of unsettled bets dropped with the room.
	DiscardedPool int64 `json:"discarded_pool"`
}

type DrawFailedData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
