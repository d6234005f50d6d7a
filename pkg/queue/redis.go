package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FxPull/pkg/logger"
)

// QueueMode selects whether a process publishes, consumes, or both.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer"
	case ModeConsumerOnly:
		return "consumer"
	default:
		return "producer-consumer"
	}
}

func (m QueueMode) consumes() bool { return m != ModeProducerOnly }

const (
	popTimeout   = time.Second
	promoteEvery = 2 * time.Second
)

// RedisQueue is a list-backed job queue. Failed messages wait in a sorted
// set keyed by their due time; exhausted or non-retryable ones land in a
// dead letter list.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisQueue builds a queue on an existing client. Start must be called
// before publishing.
func NewRedisQueue(lgr *logger.Logger, cfg *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	c := QueueConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	r := &RedisQueue{
		log:    lgr,
		cfg:    c,
		client: client,
		mode:   mode,
		prefix: "fxpull:queue",
		jobs:   make(map[string]Job),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob binds a job to its message type. Producer-only queues ignore it.
func (r *RedisQueue) RegisterJob(job Job) {
	if !r.mode.consumes() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Type()]; dup {
		r.log.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start verifies the connection and launches the workers.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.running = true

	if r.mode.consumes() {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.work(ctx, i)
		}
		r.wg.Add(1)
		go r.promote(ctx)
	}
	r.log.Info("queue started",
		logger.String("mode", r.mode.String()),
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// PublishMessage enqueues payload for the job registered under msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return errors.New("queue not running")
	}
	if r.mode.consumes() && !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   json.RawMessage(body),
		Timestamp: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("pending"), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

// DeadLetterCount reports how many messages were given up on.
func (r *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key("dead")).Result()
}

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, popTimeout, r.key("pending")).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.log.Error("queue pop failed", logger.Int("worker", id), logger.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(res) == 2 {
			r.dispatch(ctx, []byte(res[1]))
		}
	}
}

func (r *RedisQueue) dispatch(ctx context.Context, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.Error("queue message undecodable", logger.Error(err))
		r.bury(raw)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.bury(raw)
		return
	}

	started := r.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.log.Debug("job done",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Duration("took", r.now().Sub(started)))
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Shutdown mid-job: put it back untouched for the next process.
		r.requeue(raw)
		return
	}
	r.fail(msg, job, err)
}

func (r *RedisQueue) fail(msg Message, job Job, err error) {
	msg.Attempts++
	fields := []logger.Field{
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err),
	}
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		r.log.Error("queue message re-encode failed", logger.Error(mErr))
		return
	}

	if IsNonRetryable(err) || msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("job dead-lettered", fields...)
		r.bury(data)
		return
	}

	due := r.now().Add(r.cfg.RetryDelay)
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if zErr := r.client.ZAdd(bg, r.key("delayed"), redis.Z{Score: float64(due.Unix()), Member: data}).Err(); zErr != nil {
		r.log.Error("schedule retry failed", logger.Error(zErr))
		return
	}
	r.log.Warn("job failed, retry scheduled", append(fields, logger.Time("retry_at", due))...)
}

// promote moves due retries back onto the pending list. ZRem decides which
// process wins a member when several run the promoter.
func (r *RedisQueue) promote(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(promoteEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		due, err := r.client.ZRangeByScore(ctx, r.key("delayed"), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(r.now().Unix(), 10),
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error("read delayed messages", logger.Error(err))
			}
			continue
		}
		for _, member := range due {
			n, err := r.client.ZRem(ctx, r.key("delayed"), member).Result()
			if err != nil || n == 0 {
				continue
			}
			if err := r.client.LPush(ctx, r.key("pending"), member).Err(); err != nil {
				r.log.Error("promote retry", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) requeue(raw []byte) {
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.RPush(bg, r.key("pending"), raw).Err(); err != nil {
		r.log.Error("requeue failed", logger.Error(err))
	}
}

func (r *RedisQueue) bury(raw []byte) {
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(bg, r.key("dead"), raw).Err(); err != nil {
		r.log.Error("dead letter push failed", logger.Error(err))
	}
}

func (r *RedisQueue) key(name string) string { return r.prefix + ":" + name }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var _ QueueService = (*RedisQueue)(nil)
