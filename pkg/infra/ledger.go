package infra

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRowNotFound = errors.New("ledger row not found")
	ErrRowExists   = errors.New("ledger row already exists")
	ErrKeyEmpty    = errors.New("ledger key is empty")
)

// LedgerStore is a named, sparse key -> balance table. Each call is an
// independent round trip; nothing is atomic across calls.
// Implementations exist for BadgerDB and Redis.
type LedgerStore interface {
	GetName() string
	// Read returns ErrRowNotFound when the key has no row.
	Read(ctx context.Context, ledger, key string) (int64, error)
	// Write overwrites an existing row and returns ErrRowNotFound otherwise.
	Write(ctx context.Context, ledger, key string, balance int64) error
	// AppendRow creates a row and returns ErrRowExists if one is present.
	AppendRow(ctx context.Context, ledger, key string, balance int64) error
	Close() error
}

// LedgerRow is the stored form of one account.
type LedgerRow struct {
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Codec encodes/decodes Go values to/from slices of bytes.
type Codec interface {
	// Marshal encodes a Go value to a slice of bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes a slice of bytes into a Go value.
	Unmarshal(data []byte, v any) error
}

// Convenience variables
var (
	// JSON is a JSONcodec that encodes/decodes Go values to/from JSON.
	JSON = JSONcodec{}
	// Gob is a GobCodec that encodes/decodes Go values to/from gob.
	Gob = GobCodec{}
)

// JSONcodec encodes/decodes Go values to/from JSON.
type JSONcodec struct{}

func (c JSONcodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONcodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GobCodec encodes/decodes Go values to/from gob.
type GobCodec struct{}

func (c GobCodec) Marshal(v any) ([]byte, error) {
	buffer := new(bytes.Buffer)
	encoder := gob.NewEncoder(buffer)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (c GobCodec) Unmarshal(data []byte, v any) error {
	reader := bytes.NewReader(data)
	decoder := gob.NewDecoder(reader)
	return decoder.Decode(v)
}
