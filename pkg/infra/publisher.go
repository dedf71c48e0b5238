package infra

// Publisher is the slice of *nats.Conn the event emitter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}
