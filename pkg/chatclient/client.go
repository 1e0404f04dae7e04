// Package chatclient is the Go client for the staff chat service. It wraps
// the HTTP API, the websocket push stream and a conversation view that keeps
// a de-duplicated, ordered message list with read tracking.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MaxBodyLength mirrors the server limit, in runes.
const MaxBodyLength = 4000

var (
	ErrEmptyBody   = errors.New("message body cannot be empty")
	ErrBodyTooLong = errors.New("message body is too long")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same idempotent call may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable ||
		e.Status == http.StatusBadGateway ||
		e.Status == http.StatusGatewayTimeout
}

// Client talks to one chat service on behalf of one session token.
type Client struct {
	baseURL    *url.URL
	token      string
	http       *http.Client
	dialer     *websocket.Dialer
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
	maxRetries uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackOff sets the retry policy for idempotent calls and stream
// reconnects.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:    u,
		token:      token,
		http:       &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
		log:        zerolog.Nop(),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Staff(ctx context.Context) ([]Participant, error) {
	var out struct {
		Staff []Participant `json:"staff"`
	}
	err := c.do(ctx, http.MethodGet, "/staff", nil, &out, true)
	return out.Staff, err
}

func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &out, true)
	return out.Conversations, err
}

// Resolve returns the conversation with partnerID, creating it if needed.
// Resolution is idempotent server side and is retried.
func (c *Client) Resolve(ctx context.Context, partnerID string) (Resolution, error) {
	var out Resolution
	err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{"partner_id": partnerID}, &out, true)
	return out, err
}

// Recent fetches the newest messages; limit <= 0 uses the server cap.
func (c *Client) Recent(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.messages(ctx, conversationID, q)
}

// Before fetches up to limit messages older than beforeID.
func (c *Client) Before(ctx context.Context, conversationID, beforeID int64, limit int) ([]Message, error) {
	q := url.Values{"before": {strconv.FormatInt(beforeID, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.messages(ctx, conversationID, q)
}

func (c *Client) messages(ctx context.Context, conversationID int64, q url.Values) ([]Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out, true)
	return out.Messages, err
}

// Send validates body locally and posts it. Sends are never retried.
func (c *Client) Send(ctx context.Context, conversationID int64, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Message{}, ErrBodyTooLong
	}
	var out Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", conversationID),
		map[string]string{"body": body}, &out, false)
	return out, err
}

// MarkRead advances the caller's watermark; a nil at means "now" on the
// server clock.
func (c *Client) MarkRead(ctx context.Context, conversationID int64, at *time.Time) (Watermark, error) {
	var in struct {
		ReadAt *time.Time `json:"read_at,omitempty"`
	}
	in.ReadAt = at
	var out Watermark
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/read", conversationID), in, &out, true)
	return out, err
}

func (c *Client) Unread(ctx context.Context) (Unread, error) {
	var out Unread
	err := c.do(ctx, http.MethodGet, "/unread", nil, &out, true)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, idempotent bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}

	attempt := func() error {
		err := c.roundTrip(ctx, method, path, payload, out)
		if err == nil || !idempotent || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(attempt, policy, func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Str("path", path).Dur("wait", wait).Msg("retrying chat api call")
	})
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
