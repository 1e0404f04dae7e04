package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Subscription is a live push stream.
type Subscription interface {
	Close() error
}

// Stream is the websocket push stream of one conversation. Events are not
// replayed across reconnects; onReconnect tells the caller to re-fetch.
type Stream struct {
	client         *Client
	conversationID int64
	onEvent        func(MessageInserted)
	onReconnect    func()

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe opens the push stream. It returns once the first connection is
// established so events after the call are not missed.
func (c *Client) Subscribe(ctx context.Context, conversationID int64, onEvent func(MessageInserted), onReconnect func()) (Subscription, error) {
	conn, err := c.dial(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		client:         c,
		conversationID: conversationID,
		onEvent:        onEvent,
		onReconnect:    onReconnect,
		conn:           conn,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

func (c *Client) dial(ctx context.Context, conversationID int64) (*websocket.Conn, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/conversations/%d", conversationID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return nil, err
	}
	return conn, nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.readUntilError()
		if s.isClosed() {
			return
		}
		s.mu.Lock()
		_ = s.conn.Close()
		s.mu.Unlock()

		conn, err := s.redial(ctx)
		if err != nil {
			s.client.log.Warn().Err(err).Int64("conversation_id", s.conversationID).Msg("push stream gave up")
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		if s.onReconnect != nil {
			s.onReconnect()
		}
	}
}

func (s *Stream) readUntilError() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.client.log.Debug().Err(err).Int64("conversation_id", s.conversationID).Msg("push stream interrupted")
			}
			return
		}
		ev, err := decodeEvent(data)
		if err != nil {
			s.client.log.Warn().Err(err).Msg("ignoring push event")
			continue
		}
		if ev.ConversationID != s.conversationID {
			continue
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

func (s *Stream) redial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.WithContext(s.client.newBackOff(), ctx)
	return backoff.RetryWithData(func() (*websocket.Conn, error) {
		conn, err := s.client.dial(ctx, s.conversationID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	}, policy)
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the stream and waits for its goroutine to exit. It must not
// be called from the onEvent or onReconnect callbacks.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	err := conn.Close()
	<-s.done
	return err
}
