package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "FxPull/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics as one consumer group. Messages of a
// partition always go to the same worker and are committed only after
// they were handled or forwarded to the DLQ.
type Consumer struct {
	cfg      *ConsumerConfig
	l        *applogger.Logger
	hook     ConsumerHook
	metrics  *consumerMetrics
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer

	lanes    []chan delivery
	cancel   context.CancelFunc
	readWG   sync.WaitGroup
	workWG   sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		l:        cfg.Logger.With(applogger.String("component", "kafka_consumer")),
		hook:     NoopHook{},
		metrics:  newConsumerMetrics(cfg.Registerer),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler must be called before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.l.Warn("handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start launches the readers and workers and returns immediately.
func (c *Consumer) Start() error {
	if c.started {
		return errors.New("kafka consumer already started")
	}
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.lanes = make([]chan delivery, c.cfg.WorkerCount)
	for i := range c.lanes {
		c.lanes[i] = make(chan delivery, c.cfg.BufferSize)
		c.workWG.Add(1)
		go c.work(ctx, c.lanes[i])
	}

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: kafka.FirstOffset,
		})
		c.readers[topic] = r
		c.readWG.Add(1)
		go c.read(ctx, r)
	}

	c.l.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.handlers)),
		applogger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop halts fetching, lets workers drain, then closes readers and the DLQ
// writer. Messages that were not committed are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readWG.Wait()
		for _, lane := range c.lanes {
			close(lane)
		}

		done := make(chan struct{})
		go func() {
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.l.Warn("close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("close dlq writer", applogger.Error(cerr))
			}
		}
		c.l.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) read(ctx context.Context, r *kafka.Reader) {
	defer c.readWG.Done()
	topic := r.Config().Topic
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.l.Error("fetch message", applogger.String("topic", topic), applogger.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		lane := c.lanes[m.Partition%len(c.lanes)]
		select {
		case lane <- delivery{reader: r, msg: m}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, lane <-chan delivery) {
	defer c.workWG.Done()
	for d := range lane {
		if ctx.Err() != nil {
			// drain without handling; the group redelivers uncommitted offsets
			continue
		}
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d delivery) {
	topic := d.msg.Topic
	h, ok := c.handlers[topic]
	if !ok {
		return
	}
	start := time.Now()
	err := c.handleWithRetry(ctx, h, d.msg)
	if ctx.Err() != nil && err != nil {
		return
	}

	result := "ok"
	commit := true
	if err != nil {
		result = "failed"
		c.hook.OnError(ctx, topic, d.msg, d.msg.Value, err)
		c.l.Error("message dropped after retries",
			applogger.String("topic", topic),
			applogger.Int("partition", d.msg.Partition),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Bool("permanent", IsPermanent(err)),
			applogger.Error(err))
		commit = c.forwardToDLQ(ctx, d.msg, err)
		if commit {
			result = "dlq"
		}
	}
	if commit {
		c.commit(d.reader, d.msg)
	}
	if c.metrics != nil {
		c.metrics.messages.WithLabelValues(topic, result).Inc()
		c.metrics.latency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, km kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(ctx, h, km)
		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax {
			return err
		}
		c.l.Warn("handle failed, retrying",
			applogger.String("topic", km.Topic),
			applogger.Int("attempt", attempt),
			applogger.Error(err))
		if !sleep(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, h MessageHandler, km kafka.Message) (err error) {
	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, km.Topic, km, km.Value)
	if err != nil {
		return Permanent(err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
		c.hook.AfterHandle(hctx, km.Topic, hmsg, data, err)
	}()
	return h.Handle(hctx, data)
}

// forwardToDLQ reports whether the message may be committed.
func (c *Consumer) forwardToDLQ(ctx context.Context, km kafka.Message, cause error) bool {
	if c.dlq == nil {
		// nothing to forward to; committing avoids a poison loop
		return true
	}
	headers := append([]kafka.Header{}, km.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     km.Key,
		Value:   km.Value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		c.l.Error("dlq write failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	if c.metrics != nil {
		c.metrics.dlq.WithLabelValues(km.Topic).Inc()
	}
	return true
}

// commit runs detached from the consumer context so a handled message is
// still committed during shutdown.
func (c *Consumer) commit(r *kafka.Reader, km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.l.Error("commit failed",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
}

// backoffWithJitter doubles min per attempt, caps at max and subtracts up
// to half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
