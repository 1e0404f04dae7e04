package services_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/mocks"
	"staff-chat/internal/models"
	"staff-chat/internal/realtime"
	"staff-chat/internal/repositories"
	"staff-chat/internal/services"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fixture struct {
	svc    *services.ChatService
	store  *repositories.MemoryStore
	broker *realtime.LocalBroker
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := repositories.NewMemoryStore(clock.now)
	for _, p := range []models.Participant{
		{ID: "ana", DisplayName: "Ana", Active: true},
		{ID: "ben", DisplayName: "Ben", Active: true},
		{ID: "cai", DisplayName: "Cai", Active: true},
		{ID: "dan", DisplayName: "Dan", Active: false},
	} {
		store.AddParticipant(p)
	}
	broker := realtime.NewLocalBroker()
	t.Cleanup(func() { broker.Close() })

	svc := services.NewChatService(services.Deps{
		Participants:  store,
		Conversations: store,
		Messages:      store,
		Watermarks:    store,
		Broker:        broker,
		Log:           zerolog.Nop(),
		BackOff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	return &fixture{svc: svc, store: store, broker: broker, clock: clock}
}

func (f *fixture) send(t *testing.T, convID int64, sender, body string) models.Message {
	t.Helper()
	f.clock.advance(time.Second)
	msg, err := f.svc.AppendMessage(context.Background(), convID, sender, body)
	require.NoError(t, err)
	return msg
}

func TestFirstContactCreatesConversationAndWatermarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "ana", res.Conversation.ParticipantLow)
	assert.Equal(t, "ben", res.Conversation.ParticipantHigh)

	for _, id := range []string{"ana", "ben"} {
		wm, err := f.store.GetWatermark(ctx, res.Conversation.ID, id)
		require.NoError(t, err)
		assert.Nil(t, wm.LastReadAt)
	}

	again, err := f.svc.ResolveConversation(ctx, "ben", "ana")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Conversation.ID, again.Conversation.ID)
}

func TestResolveDoesNotResetExistingWatermarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	f.send(t, res.Conversation.ID, "ben", "hi")
	_, err = f.svc.MarkRead(ctx, res.Conversation.ID, "ana", nil)
	require.NoError(t, err)

	_, err = f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)

	counts, err := f.svc.UnreadCounts(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, counts[res.Conversation.ID])
}

func TestConcurrentResolveYieldsOneConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	ids := make([]int64, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, partner := "ana", "ben"
			if i%2 == 1 {
				requester, partner = partner, requester
			}
			res, err := f.svc.ResolveConversation(ctx, requester, partner)
			assert.NoError(t, err)
			ids[i] = res.Conversation.ID
			created[i] = res.Created
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			creations++
		}
	}
	assert.Equal(t, 1, creations)

	convs, err := f.store.ListForParticipant(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestResolveRejectsInvalidPartners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResolveConversation(ctx, "ana", "ana")
	assert.ErrorIs(t, err, apperrors.ErrSelfConversation)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = f.svc.ResolveConversation(ctx, "ana", " ")
	assert.ErrorIs(t, err, apperrors.ErrMissingParticipant)

	_, err = f.svc.ResolveConversation(ctx, "ana", "dan")
	assert.ErrorIs(t, err, apperrors.ErrParticipantNotFound)

	_, err = f.svc.ResolveConversation(ctx, "ana", "zed")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestAppendMessageValidatesBeforeIO(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	msgs := new(mocks.MessageRepositoryMock)
	svc := services.NewChatService(services.Deps{
		Conversations: convs,
		Messages:      msgs,
		Log:           zerolog.Nop(),
	})
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, 1, "ana", "   \n\t")
	assert.ErrorIs(t, err, apperrors.ErrEmptyBody)

	_, err = svc.AppendMessage(ctx, 1, "ana", strings.Repeat("é", services.MaxBodyLength+1))
	assert.ErrorIs(t, err, apperrors.ErrBodyTooLong)

	convs.AssertNotCalled(t, "GetConversation", mock.Anything, mock.Anything)
	msgs.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendMessageTrimsAndAcceptsMaxLength(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ResolveConversation(context.Background(), "ana", "ben")
	require.NoError(t, err)

	msg := f.send(t, res.Conversation.ID, "ana", "  hello  ")
	assert.Equal(t, "hello", msg.Body)

	long := strings.Repeat("x", services.MaxBodyLength)
	msg = f.send(t, res.Conversation.ID, "ana", long)
	assert.Equal(t, long, msg.Body)
}

func TestNonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	_, err = f.svc.AppendMessage(ctx, convID, "cai", "let me in")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	_, err = f.svc.FetchRecent(ctx, convID, "cai", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.MarkRead(ctx, convID, "cai", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.AppendMessage(ctx, convID+100, "ana", "nobody home")
	assert.ErrorIs(t, err, apperrors.ErrConversationNotFound)
}

func TestUnreadCountsFollowWatermarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	f.send(t, convID, "ana", "one")
	f.send(t, convID, "ana", "two")

	counts, err := f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[convID])

	counts, err = f.svc.UnreadCounts(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, counts[convID], "own messages are never unread")

	_, err = f.svc.MarkRead(ctx, convID, "ben", nil)
	require.NoError(t, err)
	counts, err = f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 0, counts[convID])

	f.send(t, convID, "ana", "three")
	counts, err = f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[convID])
}

func TestSenderReplyClearsPartnerBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	f.send(t, convID, "ana", "ping")
	f.send(t, convID, "ben", "pong")

	counts, err := f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 0, counts[convID])
}

func TestStaleMarkReadDoesNotRewind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	first := f.send(t, convID, "ana", "first")
	second := f.send(t, convID, "ana", "second")

	wm, err := f.svc.MarkRead(ctx, convID, "ben", &second.CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, wm.LastReadAt)
	assert.True(t, wm.LastReadAt.Equal(second.CreatedAt))

	wm, err = f.svc.MarkRead(ctx, convID, "ben", &first.CreatedAt)
	require.NoError(t, err)
	assert.True(t, wm.LastReadAt.Equal(second.CreatedAt))

	counts, err := f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 0, counts[convID])
}

func TestMarkReadClampsFutureTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	future := f.clock.now().Add(time.Hour)
	_, err = f.svc.MarkRead(ctx, convID, "ben", &future)
	require.NoError(t, err)

	f.send(t, convID, "ana", "written after the read")
	counts, err := f.svc.UnreadCounts(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[convID])
}

func TestFetchRecentIsOrderedAndCapped(t *testing.T) {
	f := newFixture(t)
	f.svc = services.NewChatService(services.Deps{
		Participants:  f.store,
		Conversations: f.store,
		Messages:      f.store,
		Watermarks:    f.store,
		Log:           zerolog.Nop(),
		RecentLimit:   3,
	})
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	var sent []models.Message
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		sent = append(sent, f.send(t, convID, "ana", body))
	}

	got, err := f.svc.FetchRecent(ctx, convID, "ben", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[2].ID, sent[3].ID, sent[4].ID}, ids(got))

	got, err = f.svc.FetchRecent(ctx, convID, "ben", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[3].ID, sent[4].ID}, ids(got))

	got, err = f.svc.FetchRecent(ctx, convID, "ben", 50)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	older, err := f.svc.FetchBefore(ctx, convID, "ben", sent[2].ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{sent[0].ID, sent[1].ID}, ids(older))

	_, err = f.svc.FetchBefore(ctx, convID, "ben", 0, 10)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestFetchRecentOrdersEqualTimestampsByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	a, err := f.svc.AppendMessage(ctx, convID, "ana", "same instant")
	require.NoError(t, err)
	b, err := f.svc.AppendMessage(ctx, convID, "ben", "same instant too")
	require.NoError(t, err)
	require.True(t, a.CreatedAt.Equal(b.CreatedAt))

	got, err := f.svc.FetchRecent(ctx, convID, "ana", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(got))
}

func TestAppendMessagePublishesToSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	convID := res.Conversation.ID

	var got []models.Event
	sub, err := f.broker.Subscribe(ctx, convID, func(ev models.Event) { got = append(got, ev) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg := f.send(t, convID, "ana", "hello ben")

	require.Len(t, got, 1)
	inserted, ok := got[0].(models.MessageInserted)
	require.True(t, ok)
	assert.Equal(t, convID, inserted.ConversationID)
	assert.Equal(t, msg, inserted.Message)
}

func TestAppendMessageSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	broker := new(mocks.BrokerMock)
	auditor := new(mocks.AuditorMock)
	f.svc = services.NewChatService(services.Deps{
		Participants:  f.store,
		Conversations: f.store,
		Messages:      f.store,
		Watermarks:    f.store,
		Broker:        broker,
		Audit:         auditor,
		Log:           zerolog.Nop(),
	})
	ctx := context.Background()

	auditor.On("Emit", mock.Anything, mock.Anything).Return()
	res, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)

	broker.On("Publish", mock.Anything, mock.AnythingOfType("models.MessageInserted")).Return(assert.AnError).Once()
	msg, err := f.svc.AppendMessage(ctx, res.Conversation.ID, "ana", "still stored")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	stored, err := f.svc.FetchRecent(ctx, res.Conversation.ID, "ben", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{msg.ID}, ids(stored))
	broker.AssertExpectations(t)
	auditor.AssertNumberOfCalls(t, "Emit", 2)
}

func TestReadsRetryTransientFailures(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	msgs := new(mocks.MessageRepositoryMock)
	svc := services.NewChatService(services.Deps{
		Conversations: convs,
		Messages:      msgs,
		Log:           zerolog.Nop(),
		BackOff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	ctx := context.Background()
	conv := models.Conversation{ID: 7, ParticipantLow: "ana", ParticipantHigh: "ben"}
	want := []models.Message{{ID: 1, ConversationID: 7, SenderID: "ana", Body: "hi"}}

	convs.On("GetConversation", mock.Anything, int64(7)).Return(nil, apperrors.Unavailable("store unavailable", assert.AnError)).Once()
	convs.On("GetConversation", mock.Anything, int64(7)).Return(conv, nil).Once()
	msgs.On("ListRecent", mock.Anything, int64(7), services.DefaultRecentLimit).Return(nil, apperrors.Unavailable("store unavailable", assert.AnError)).Twice()
	msgs.On("ListRecent", mock.Anything, int64(7), services.DefaultRecentLimit).Return(want, nil).Once()

	got, err := svc.FetchRecent(ctx, 7, "ben", 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	convs.AssertExpectations(t)
	msgs.AssertExpectations(t)
}

func TestReadsGiveUpAfterRetries(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	svc := services.NewChatService(services.Deps{
		Conversations: convs,
		Log:           zerolog.Nop(),
		BackOff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})

	convs.On("GetConversation", mock.Anything, int64(7)).Return(nil, apperrors.Unavailable("store unavailable", assert.AnError))

	_, err := svc.Authorize(context.Background(), 7, "ana")
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.CodeOf(err))
	convs.AssertNumberOfCalls(t, "GetConversation", 4)
}

func TestPermissionErrorsAreNotRetried(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	svc := services.NewChatService(services.Deps{
		Conversations: convs,
		Log:           zerolog.Nop(),
		BackOff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})

	denied := apperrors.Wrap(apperrors.CodePermissionDenied, "not permitted", assert.AnError)
	convs.On("GetConversation", mock.Anything, int64(7)).Return(nil, denied)

	_, err := svc.Authorize(context.Background(), 7, "ana")
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
	convs.AssertNumberOfCalls(t, "GetConversation", 1)
}

func TestListConversationsJoinsNamesAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withBen, err := f.svc.ResolveConversation(ctx, "ana", "ben")
	require.NoError(t, err)
	withCai, err := f.svc.ResolveConversation(ctx, "cai", "ana")
	require.NoError(t, err)

	f.send(t, withBen.Conversation.ID, "ben", "older")
	f.send(t, withCai.Conversation.ID, "cai", "newer")
	f.send(t, withCai.Conversation.ID, "cai", "newest")

	list, err := f.svc.ListConversations(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, withCai.Conversation.ID, list[0].ConversationID)
	assert.Equal(t, "cai", list[0].PartnerID)
	assert.Equal(t, "Cai", list[0].PartnerName)
	assert.Equal(t, 2, list[0].Unread)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "newest", *list[0].LastMessage)

	assert.Equal(t, "Ben", list[1].PartnerName)
	assert.Equal(t, 1, list[1].Unread)
}

func TestListStaffExcludesRequesterAndInactive(t *testing.T) {
	f := newFixture(t)

	staff, err := f.svc.ListStaff(context.Background(), "ana")
	require.NoError(t, err)

	var got []string
	for _, p := range staff {
		got = append(got, p.ID)
	}
	assert.ElementsMatch(t, []string{"ben", "cai"}, got)
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
