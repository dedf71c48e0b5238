package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestEmitter_PublishesToTypedSubject(t *testing.T) {
	pub := &recordingPublisher{}
	em := NewEmitter(pub, "wager.events", nil)

	em.Emit(WagerEvent{
		Type:   BetPlaced,
		RoomID: "room-1",
		Data:   BetPlacedData{Nickname: "alice", Amount: 30, CumulativeBet: 30},
	})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "wager.events.bet_placed", pub.subjects[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "bet_placed", got["type"])
	assert.Equal(t, "room-1", got["room_id"])
	assert.NotZero(t, got["timestamp"])
	data := got["data"].(map[string]any)
	assert.Equal(t, float64(30), data["amount"])
}

func TestEmitter_PublishErrorIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	em := NewEmitter(pub, "wager.events", nil)

	assert.NotPanics(t, func() {
		em.Emit(WagerEvent{Type: RoomOpened, RoomID: "room-1"})
	})
}

func TestEmitter_CloseRunsCloser(t *testing.T) {
	closed := false
	em := NewEmitter(&recordingPublisher{}, "x", func() error {
		closed = true
		return nil
	})
	assert.NoError(t, em.Close())
	assert.True(t, closed)
}

func TestEmitter_CloseReturnsCloserError(t *testing.T) {
	drainErr := errors.New("drain timeout")
	em := NewEmitter(&recordingPublisher{}, "x", func() error { return drainErr })
	assert.ErrorIs(t, em.Close(), drainErr)
	assert.NoError(t, NewNoopEmitter().Close())
}
