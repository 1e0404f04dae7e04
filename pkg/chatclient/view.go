package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// API is the part of Client a View uses.
type API interface {
	Recent(ctx context.Context, conversationID int64, limit int) ([]Message, error)
	Send(ctx context.Context, conversationID int64, body string) (Message, error)
	MarkRead(ctx context.Context, conversationID int64, at *time.Time) (Watermark, error)
	Subscribe(ctx context.Context, conversationID int64, onEvent func(MessageInserted), onReconnect func()) (Subscription, error)
}

var _ API = (*Client)(nil)

type ViewOptions struct {
	Log zerolog.Logger
	// OnChange receives a snapshot whenever the message list changes.
	OnChange func([]Message)
	// CallbackTimeout bounds fetches and watermark updates triggered by
	// push events. Zero means 10s.
	CallbackTimeout time.Duration
}

// View is an open conversation screen: an ordered, de-duplicated message
// list kept current from the push stream, with the caller's watermark
// advanced as messages are seen.
type View struct {
	api            API
	conversationID int64
	self           string
	log            zerolog.Logger
	onChange       func([]Message)
	timeout        time.Duration

	mu       sync.Mutex
	messages []Message
	seen     map[int64]struct{}
	alive    bool
	sub      Subscription
}

// OpenView subscribes to the conversation, then loads the recent window and
// marks it read. Subscribing first means no insert between the fetch and
// the subscription is lost; duplicates are dropped by id.
func OpenView(ctx context.Context, api API, conversationID int64, self string, opts ViewOptions) (*View, error) {
	v := &View{
		api:            api,
		conversationID: conversationID,
		self:           self,
		log:            opts.Log,
		onChange:       opts.OnChange,
		timeout:        opts.CallbackTimeout,
		seen:           make(map[int64]struct{}),
		alive:          true,
	}
	if v.timeout <= 0 {
		v.timeout = 10 * time.Second
	}

	sub, err := api.Subscribe(ctx, conversationID, v.handleEvent, v.resync)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.sub = sub
	v.mu.Unlock()

	if err := v.refresh(ctx); err != nil {
		v.Close()
		return nil, err
	}
	v.markRead(ctx)
	return v, nil
}

// Messages returns a snapshot ordered by (CreatedAt, ID).
func (v *View) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Message(nil), v.messages...)
}

// Send posts body. On failure the error is returned and nothing is added, so
// the caller keeps its draft for a retry.
func (v *View) Send(ctx context.Context, body string) (Message, error) {
	msg, err := v.api.Send(ctx, v.conversationID, body)
	if err != nil {
		return Message{}, err
	}
	v.merge([]Message{msg})
	return msg, nil
}

// Close detaches the view. Results of fetches still in flight are discarded.
// Close waits for the stream goroutine to exit, so it must not be called
// from OnChange or any other callback running on that goroutine.
func (v *View) Close() error {
	v.mu.Lock()
	if !v.alive {
		v.mu.Unlock()
		return nil
	}
	v.alive = false
	sub := v.sub
	v.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (v *View) handleEvent(ev MessageInserted) {
	if !v.merge([]Message{ev.Message}) {
		return
	}
	if ev.Message.SenderID != v.self {
		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()
		v.markRead(ctx)
	}
}

// resync runs after the push stream reconnects: events missed while
// disconnected are recovered by re-fetching.
func (v *View) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	if err := v.refresh(ctx); err != nil {
		v.log.Warn().Err(err).Int64("conversation_id", v.conversationID).Msg("resync fetch failed")
		return
	}
	v.markRead(ctx)
}

func (v *View) refresh(ctx context.Context) error {
	msgs, err := v.api.Recent(ctx, v.conversationID, 0)
	if err != nil {
		return err
	}
	v.merge(msgs)
	return nil
}

// merge adds unseen messages and re-sorts. It reports false when the view
// is closed.
func (v *View) merge(msgs []Message) bool {
	v.mu.Lock()
	if !v.alive {
		v.mu.Unlock()
		return false
	}
	added := false
	for _, m := range msgs {
		if _, ok := v.seen[m.ID]; ok {
			continue
		}
		v.seen[m.ID] = struct{}{}
		v.messages = append(v.messages, m)
		added = true
	}
	if added {
		SortMessages(v.messages)
	}
	var snapshot []Message
	if added && v.onChange != nil {
		snapshot = append([]Message(nil), v.messages...)
	}
	v.mu.Unlock()

	if snapshot != nil {
		v.onChange(snapshot)
	}
	return true
}

func (v *View) isAlive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive
}

// markRead advances the watermark to the server's now. Failures are logged
// and dropped; the next read attempt catches up.
func (v *View) markRead(ctx context.Context) {
	if !v.isAlive() {
		return
	}
	if _, err := v.api.MarkRead(ctx, v.conversationID, nil); err != nil {
		v.log.Warn().Err(err).Int64("conversation_id", v.conversationID).Msg("mark read failed")
	}
}
