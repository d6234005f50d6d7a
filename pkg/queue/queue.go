package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueueService publishes work for asynchronous handling.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig tunes the consumer side of a queue.
type QueueConfig struct {
	Workers    int
	RetryLimit int // retries after the first attempt
	RetryDelay time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

type nonRetryable struct{ err error }

func (e nonRetryable) Error() string { return e.err.Error() }
func (e nonRetryable) Unwrap() error { return e.err }

// NonRetryable wraps err so the queue dead-letters the message at once.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryable{err: err}
}

func IsNonRetryable(err error) bool {
	var nr nonRetryable
	return errors.As(err, &nr)
}

// ParsePayload decodes a job payload. Queued payloads arrive as raw JSON;
// in-process callers may hand over the value itself.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decode[T](p)
	case []byte:
		return decode[T](p)
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("payload re-encode: %w", err)
		}
		return decode[T](b)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func decode[T any](b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}
	return &out, nil
}
