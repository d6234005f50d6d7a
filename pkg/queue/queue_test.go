package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type samplePayload struct {
	Pair  string    `json:"pair"`
	Start time.Time `json:"start"`
}

func TestParsePayload(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(samplePayload{Pair: "EURUSD", Start: start})

	tests := []struct {
		name    string
		payload interface{}
		wantErr bool
	}{
		{"struct", samplePayload{Pair: "EURUSD", Start: start}, false},
		{"pointer", &samplePayload{Pair: "EURUSD", Start: start}, false},
		{"map", map[string]interface{}{"pair": "EURUSD", "start": start.Format(time.RFC3339)}, false},
		{"raw", json.RawMessage(raw), false},
		{"unsupported", 42, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload[samplePayload](tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Pair != "EURUSD" || !got.Start.Equal(start) {
				t.Fatalf("unexpected payload %+v", got)
			}
		})
	}
}

func TestNonRetryable(t *testing.T) {
	base := errors.New("unknown pair")
	if NonRetryable(nil) != nil {
		t.Fatalf("NonRetryable(nil) should be nil")
	}
	err := fmt.Errorf("backfill: %w", NonRetryable(base))
	if !IsNonRetryable(err) {
		t.Fatalf("wrapped error not detected")
	}
	if !errors.Is(err, base) {
		t.Fatalf("should unwrap to cause")
	}
	if IsNonRetryable(base) {
		t.Fatalf("plain error flagged")
	}
}

func TestParsePayloadBytes(t *testing.T) {
	got, err := ParsePayload[samplePayload]([]byte(`{"pair":"GBPUSD"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Pair != "GBPUSD" {
		t.Fatalf("pair = %q", got.Pair)
	}
	if _, err := ParsePayload[samplePayload](json.RawMessage(`{"pair":`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRedisQueueNotStarted(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	q := NewRedisQueue(nil, &QueueConfig{Workers: -1}, client, ModeProducerConsumer, WithKeyPrefix("fx:q"))
	if q.cfg.Workers != 1 || q.cfg.RetryDelay != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", q.cfg)
	}
	if q.key("dead") != "fx:q:dead" {
		t.Fatalf("key = %q", q.key("dead"))
	}
	if err := q.PublishMessage(context.Background(), "backfill", samplePayload{}); err == nil {
		t.Fatalf("publish before start should fail")
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop on idle queue: %v", err)
	}
}

func TestQueueModeString(t *testing.T) {
	tests := map[QueueMode]string{
		ModeProducerConsumer: "producer-consumer",
		ModeProducerOnly:     "producer",
		ModeConsumerOnly:     "consumer",
	}
	for mode, want := range tests {
		if mode.String() != want {
			t.Fatalf("%d: got %q want %q", mode, mode.String(), want)
		}
	}
	if ModeProducerOnly.consumes() {
		t.Fatalf("producer-only queue must not consume")
	}
}
