package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"staff-chat/internal/models"
	"staff-chat/internal/observability"
	"staff-chat/internal/realtime"
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

var errSlowConsumer = errors.New("slow consumer")

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one websocket session attached to a conversation.
type Client struct {
	conn Conn
	info ConnInfo
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *Client) Info() ConnInfo { return c.info }

// Done is closed once the client has been detached.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type room struct {
	clients map[*Client]struct{}
	sub     realtime.Subscription
}

// Hub tracks websocket sessions per conversation. It holds one broker
// subscription per conversation while at least one session is attached.
type Hub struct {
	broker     realtime.Broker
	log        zerolog.Logger
	sendBuffer int

	mu    sync.RWMutex
	rooms map[int64]*room
}

// NewHub creates an empty hub fed by broker.
func NewHub(broker realtime.Broker, log zerolog.Logger) *Hub {
	return &Hub{
		broker:     broker,
		log:        log.With().Str("component", "ws_hub").Logger(),
		sendBuffer: defaultSendBuffer,
		rooms:      make(map[int64]*room),
	}
}

// Join attaches conn to a conversation and starts its writer goroutine.
func (h *Hub) Join(ctx context.Context, conversationID int64, conn Conn, info ConnInfo) (*Client, error) {
	client := &Client{
		conn: conn,
		info: info,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	r, ok := h.rooms[conversationID]
	if !ok {
		sub, err := h.broker.Subscribe(ctx, conversationID, h.deliverer(conversationID))
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		r = &room{clients: make(map[*Client]struct{}), sub: sub}
		h.rooms[conversationID] = r
	}
	r.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	return client, nil
}

// Leave detaches client. The broker subscription is dropped with the last
// session of the conversation. Unsubscribe runs after h.mu is released: a
// broker may wait for an in-flight delivery, and delivery takes h.mu.
func (h *Hub) Leave(conversationID int64, client *Client) {
	var drop realtime.Subscription
	h.mu.Lock()
	if r, ok := h.rooms[conversationID]; ok {
		delete(r.clients, client)
		if len(r.clients) == 0 {
			delete(h.rooms, conversationID)
			drop = r.sub
		}
	}
	h.mu.Unlock()

	if drop != nil {
		if err := drop.Unsubscribe(); err != nil {
			h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("unsubscribe failed")
		}
	}
	client.stop()
}

// Clients reports how many sessions watch a conversation.
func (h *Hub) Clients(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[conversationID]; ok {
		return len(r.clients)
	}
	return 0
}

// Close detaches every session.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[int64]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		_ = r.sub.Unsubscribe()
		for c := range r.clients {
			c.stop()
		}
	}
}

func (h *Hub) deliverer(conversationID int64) realtime.Handler {
	return func(ev models.Event) {
		h.deliver(conversationID, ev)
	}
}

// deliver queues ev on every session of the conversation without blocking.
// Sessions whose queue is full are disconnected and must re-fetch.
func (h *Hub) deliver(conversationID int64, ev models.Event) {
	payload, err := models.EncodeEvent(ev)
	if err != nil {
		observability.IncPushEvent("dropped")
		h.log.Error().Err(err).Int64("conversation_id", conversationID).Msg("encode event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	if r, ok := h.rooms[conversationID]; ok {
		for c := range r.clients {
			select {
			case c.send <- payload:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	observability.IncPushEvent("delivered")
	for _, c := range slow {
		h.log.Warn().Str("conn_id", c.info.ConnID).Int64("conversation_id", conversationID).Msg("dropping slow websocket consumer")
		publishWSEvent(context.Background(), c.info, "ws_error", errSlowConsumer.Error())
		// Leave may unsubscribe, which must not run on the broker's delivery goroutine.
		go h.Leave(conversationID, c)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write error")
				publishWSEvent(context.Background(), c.info, "ws_error", err.Error())
				h.Leave(c.info.ConversationID, c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Leave(c.info.ConversationID, c)
				return
			}
		}
	}
}
