package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/reconcile"
	"github.com/damoang/angple-chat/internal/ws"
	"github.com/gorilla/websocket"
)

const (
	subscribeWait = 10 * time.Second
	pongWait      = 75 * time.Second // server pings every 54s
	streamBuffer  = 64
)

// Subscribe opens the scope's WebSocket and returns once the server has
// confirmed the subscription, so every later commit is delivered
func (c *Client) Subscribe(ctx context.Context, scopeID string) (reconcile.Stream, error) {
	u, err := c.wsURL("/ws/scopes/" + url.PathEscape(scopeID))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if errors.Is(err, websocket.ErrBadHandshake) {
				return nil, decodeError(resp)
			}
		}
		return nil, transportError(err)
	}

	deadline := time.Now().Add(subscribeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline) //nolint:errcheck
	var first ws.Frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, transportError(err)
	}
	if first.Type != ws.FrameSubscribed {
		conn.Close()
		return nil, fmt.Errorf("%w: expected subscribed frame, got %q", common.ErrTransient, first.Type)
	}

	s := &stream{
		conn:   conn,
		events: make(chan *domain.Event, streamBuffer),
		done:   make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go s.readLoop()
	return s, nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

type stream struct {
	conn   *websocket.Conn
	events chan *domain.Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	closeBy int // close code sent by the server, 0 if none
}

func (s *stream) Events() <-chan *domain.Event { return s.events }

// Close ends the subscription; Events is closed shortly after
func (s *stream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.conn.Close()
	})
}

// CloseCode reports the server's close code once Events is closed.
// ws.CloseResync means events were dropped and a resync is required.
func (s *stream) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeBy
}

func (s *stream) readLoop() {
	defer close(s.events)
	defer s.conn.Close()
	for {
		var f ws.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.mu.Lock()
				s.closeBy = ce.Code
				s.mu.Unlock()
			}
			return
		}
		ev := &domain.Event{
			Type:      domain.EventType(f.Type),
			ScopeID:   f.ScopeID,
			Message:   f.Message,
			MessageID: f.MessageID,
			Reaction:  f.Reaction,
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
