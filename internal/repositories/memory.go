package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/models"
)

type pairKey struct {
	low, high string
}

type watermarkKey struct {
	conversationID int64
	participantID  string
}

// MemoryStore keeps every table in process memory. It implements all four
// repository interfaces with the same semantics as the Postgres
// repositories and is used for local development and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	participants  map[string]models.Participant
	conversations map[int64]models.Conversation
	pairs         map[pairKey]int64
	messages      map[int64][]models.Message
	watermarks    map[watermarkKey]*time.Time

	nextConversationID int64
	nextMessageID      int64
}

// NewMemoryStore builds an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		participants:  make(map[string]models.Participant),
		conversations: make(map[int64]models.Conversation),
		pairs:         make(map[pairKey]int64),
		messages:      make(map[int64][]models.Message),
		watermarks:    make(map[watermarkKey]*time.Time),
	}
}

// AddParticipant inserts or replaces a staff directory entry.
func (s *MemoryStore) AddParticipant(p models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
}

func (s *MemoryStore) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return models.Participant{}, apperrors.ErrParticipantNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetParticipants(ctx context.Context, ids []string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.participants[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) FindByPair(ctx context.Context, low, high string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[pairKey{low, high}]
	if !ok {
		return models.Conversation{}, apperrors.ErrConversationNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) CreatePair(ctx context.Context, low, high string) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[pairKey{low, high}]; ok {
		return s.conversations[id], false, nil
	}
	s.nextConversationID++
	conv := models.Conversation{
		ID:              s.nextConversationID,
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       s.now(),
	}
	s.conversations[conv.ID] = conv
	s.pairs[pairKey{low, high}] = conv.ID
	return conv, true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, apperrors.ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(participantID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID int64, senderID string, body string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, apperrors.ErrConversationNotFound
	}

	s.nextMessageID++
	msg := models.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	if conv.LastMessageAt == nil || !conv.LastMessageAt.After(msg.CreatedAt) {
		text, at := msg.Body, msg.CreatedAt
		conv.LastMessage, conv.LastMessageAt = &text, &at
		s.conversations[conversationID] = conv
	}
	s.advance(watermarkKey{conversationID, senderID}, msg.CreatedAt)
	return msg, nil
}

func (s *MemoryStore) ordered(conversationID int64) []models.Message {
	msgs := append(make([]models.Message, 0, len(s.messages[conversationID])), s.messages[conversationID]...)
	models.SortMessages(msgs)
	return msgs
}

func (s *MemoryStore) ListRecent(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ordered(conversationID)
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *MemoryStore) ListBefore(ctx context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.ordered(conversationID)
	cut := -1
	for i, m := range msgs {
		if m.ID == beforeID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return []models.Message{}, nil
	}
	page := msgs[:cut]
	if limit >= 0 && len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (s *MemoryStore) EnsureWatermarks(ctx context.Context, conversationID int64, participantIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range participantIDs {
		key := watermarkKey{conversationID, id}
		if _, ok := s.watermarks[key]; !ok {
			s.watermarks[key] = nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID int64, participantID string, at *time.Time) (models.ReadWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	target := now
	if at != nil && at.Before(now) {
		target = *at
	}
	key := watermarkKey{conversationID, participantID}
	s.advance(key, target)
	return models.ReadWatermark{ConversationID: conversationID, ParticipantID: participantID, LastReadAt: copyTime(s.watermarks[key])}, nil
}

// advance sets the watermark to max(existing, at). Callers hold s.mu.
func (s *MemoryStore) advance(key watermarkKey, at time.Time) {
	if current := s.watermarks[key]; current != nil && !at.After(*current) {
		return
	}
	t := at
	s.watermarks[key] = &t
}

func (s *MemoryStore) GetWatermark(ctx context.Context, conversationID int64, participantID string) (models.ReadWatermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.watermarks[watermarkKey{conversationID, participantID}]
	if !ok {
		return models.ReadWatermark{}, ErrWatermarkNotFound
	}
	return models.ReadWatermark{ConversationID: conversationID, ParticipantID: participantID, LastReadAt: copyTime(at)}, nil
}

func (s *MemoryStore) UnreadCounts(ctx context.Context, participantID string) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[int64]int{}
	for id, conv := range s.conversations {
		if !conv.HasParticipant(participantID) {
			continue
		}
		wm := models.ReadWatermark{LastReadAt: s.watermarks[watermarkKey{id, participantID}]}
		n := 0
		for _, msg := range s.messages[id] {
			if msg.SenderID != participantID && !wm.Covers(msg) {
				n++
			}
		}
		counts[id] = n
	}
	return counts, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var (
	_ ParticipantRepository  = (*MemoryStore)(nil)
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ WatermarkRepository    = (*MemoryStore)(nil)
)
