package mt5

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	applogger "FxPull/pkg/logger"
)

var errWSClosed = errors.New("mt5 ws: connection closed")

// WSTransport multiplexes calls over one websocket, matching responses to
// requests by id. A read failure fails every pending call; the next call
// dials again.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	l      *applogger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Response

	writeMu sync.Mutex
}

func NewWSTransport(url string, l *applogger.Logger) *WSTransport {
	if l == nil {
		l = applogger.Nop()
	}
	return &WSTransport{
		url:     url,
		dialer:  websocket.DefaultDialer,
		l:       l,
		pending: make(map[string]chan Response),
	}
}

func (t *WSTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("mt5 ws connect: %w", err)
	}
	t.conn = conn
	t.l.Info("mt5 ws connected", applogger.String("url", t.url))
	go t.readLoop(conn)
	return conn, nil
}

func (t *WSTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := newRequest(method, params)
	ch := make(chan Response, 1)
	t.mu.Lock()
	t.pending[req.ID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	err = conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		t.drop(conn, err)
		return nil, fmt.Errorf("mt5 ws write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, errWSClosed
		}
		return resp.unwrap()
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.drop(conn, err)
			return
		}
		var resp Response
		if err := json.Unmarshal(b, &resp); err != nil {
			t.l.Warn("mt5 ws: ignoring malformed frame", applogger.Error(err))
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// drop retires conn and fails its pending calls.
func (t *WSTransport) drop(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.l.Warn("mt5 ws disconnected", applogger.Error(cause))
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.drop(conn, errWSClosed)
	return nil
}
