package mt5

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	applogger "FxPull/pkg/logger"
)

// AMQPTransport performs RPC over RabbitMQ: requests go to a durable queue,
// replies come back on an exclusive server-named queue keyed by
// correlation id.
type AMQPTransport struct {
	url   string
	queue string
	l     *applogger.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	replyTo string
	pending map[string]chan []byte

	pubMu sync.Mutex
}

func NewAMQPTransport(url, queue string, l *applogger.Logger) *AMQPTransport {
	if l == nil {
		l = applogger.Nop()
	}
	return &AMQPTransport{url: url, queue: queue, l: l, pending: make(map[string]chan []byte)}
}

func (t *AMQPTransport) connect() (*amqp.Channel, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil && !t.ch.IsClosed() {
		return t.ch, t.replyTo, nil
	}

	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, "", fmt.Errorf("mt5 amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("mt5 amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		t.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("mt5 amqp declare '%s': %w", t.queue, err)
	}
	reply, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("mt5 amqp declare reply queue: %w", err)
	}
	deliveries, err := ch.Consume(
		reply.Name,
		"",    // consumer
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("mt5 amqp consume replies: %w", err)
	}

	t.conn, t.ch, t.replyTo = conn, ch, reply.Name
	go t.dispatch(ch, deliveries)
	t.l.Info("mt5 amqp connected", applogger.String("queue", t.queue), applogger.String("reply_to", reply.Name))
	return ch, reply.Name, nil
}

func (t *AMQPTransport) dispatch(ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		t.mu.Lock()
		waiter, ok := t.pending[d.CorrelationId]
		delete(t.pending, d.CorrelationId)
		t.mu.Unlock()
		if ok {
			waiter <- d.Body
		}
	}

	t.mu.Lock()
	if t.ch == ch {
		t.ch = nil
		if t.conn != nil {
			_ = t.conn.Close()
			t.conn = nil
		}
		for id, waiter := range t.pending {
			close(waiter)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()
	t.l.Warn("mt5 amqp reply consumer stopped")
}

func (t *AMQPTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ch, replyTo, err := t.connect()
	if err != nil {
		return nil, err
	}

	req := newRequest(method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mt5 amqp marshal %s: %w", method, err)
	}

	waiter := make(chan []byte, 1)
	t.mu.Lock()
	t.pending[req.ID] = waiter
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	t.pubMu.Lock()
	err = ch.PublishWithContext(ctx,
		"", // exchange
		t.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: req.ID,
			ReplyTo:       replyTo,
			Body:          body,
		},
	)
	t.pubMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("mt5 amqp publish %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-waiter:
		if !ok {
			return nil, fmt.Errorf("mt5 amqp: reply channel closed")
		}
		var resp Response
		if err := json.Unmarshal(b, &resp); err != nil {
			return nil, fmt.Errorf("mt5 amqp decode %s: %w", method, err)
		}
		return resp.unwrap()
	}
}

// Close closes the connection; the reply consumer then fails pending calls.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
