package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type panicHook struct{ NoopHook }

func (panicHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	panic("boom")
}

type countingHook struct {
	NoopHook
	errs int
}

func (h *countingHook) OnError(context.Context, string, kafka.Message, []byte, error) { h.errs++ }

func TestLoggingHookTagsContext(t *testing.T) {
	h := NewLoggingHook(nil)
	fixed := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := h.BeforeHandle(context.Background(), "fx.update.requests", km, nil)
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if got, _ := ctx.Value(CtxTraceID).(string); got != "abc" {
		t.Fatalf("trace id = %q", got)
	}
	if got, _ := ctx.Value(CtxStartTime).(time.Time); !got.Equal(fixed) {
		t.Fatalf("start time = %v", got)
	}
	h.AfterHandle(ctx, "fx.update.requests", km, nil, errors.New("failed"))
}

func TestHookChainRecoversPanics(t *testing.T) {
	counter := &countingHook{}
	chain := NewHookChain(nil, counter, panicHook{})

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_PANIC" {
		t.Fatalf("expected ERR_PANIC hook error, got %v", err)
	}
	if counter.errs != 1 {
		t.Fatalf("OnError calls = %d, want 1", counter.errs)
	}
}

func TestWithTraceIDEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if ctx.Value(CtxTraceID) != nil {
		t.Fatalf("empty trace id should not be stored")
	}
}
