package events

import (
	"encoding/json"
	"time"

	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/infra"
)

type Emitter interface {
	Emit(event WagerEvent)
	Close() error
}

type emitter struct {
	publisher     infra.Publisher
	subjectPrefix string
	closer        func() error
}

// NewEmitter publishes each event to <subjectPrefix>.<type>. closer, if not
// nil, runs on Close (typically nats.Conn.Drain).
func NewEmitter(publisher infra.Publisher, subjectPrefix string, closer func() error) Emitter {
	return &emitter{
		publisher:     publisher,
		subjectPrefix: subjectPrefix,
		closer:        closer,
	}
}

// Emit never fails the caller: the presentation feed is best effort and
// domain state must not depend on it.
func (e *emitter) Emit(event WagerEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UTC().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Marshal wager event failed", "type", event.Type, "err", err)
		return
	}
	subject := e.subjectPrefix + "." + string(event.Type)
	if err := e.publisher.Publish(subject, data); err != nil {
		logger.Warn("Publish wager event failed", "subject", subject, "room_id", event.RoomID, "err", err)
	}
}

func (e *emitter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}

type noopEmitter struct{}

// NewNoopEmitter is used when NATS is disabled.
func NewNoopEmitter() Emitter { return noopEmitter{} }

func (noopEmitter) Emit(WagerEvent) {}
func (noopEmitter) Close() error    { return nil }
