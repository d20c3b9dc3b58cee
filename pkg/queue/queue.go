package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher hands work to whichever consumer picks it up first.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles every message of one type. Returning an error schedules a
// retry until the retry limit is reached; the message is then dead-lettered.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// Config sizes the consumer side of a queue.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	// PollTimeout bounds each blocking pop so workers notice shutdown.
	PollTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = time.Second
	}
	return out
}

// Message is the envelope stored in Redis. Payload stays raw until the job
// decodes it into its own type.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T. In-process callers may pass T or
// *T directly; anything else goes through JSON.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	}

	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %T payload: %w", payload, err)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload into %T: %w", out, err)
	}
	return &out, nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
	outcomeAbandoned
)

// settle decides what happens to a message after its job returned err.
// stopping reports whether the consumer was shutting down meanwhile.
func settle(msg Message, limit int, err error, stopping bool) outcome {
	switch {
	case err == nil:
		return outcomeDone
	case stopping && isCancel(err):
		return outcomeAbandoned
	case msg.Attempts < limit:
		return outcomeRetry
	default:
		return outcomeDead
	}
}
