package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-myclean/internal/apperror"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/stats"
	"github.com/npezzotti/go-myclean/internal/testutil"
	"github.com/npezzotti/go-myclean/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) (*Channel, *database.MemRepository) {
	t.Helper()

	repo := database.NewMemRepository()
	repo.AddUser(database.User{Id: 7, Name: "Carol", ProfileImage: "/img/carol.png"})
	repo.AddUser(database.User{Id: 9, Name: "Pete"})
	repo.AddUser(database.User{Id: 5, Name: "Sam"})
	repo.AddService(database.Service{Id: 3, ProviderId: 9, Name: "Deep Clean", IsActive: true})
	repo.InsertBooking(database.Booking{
		Id:         1,
		CustomerId: 7,
		ProviderId: 9,
		ServiceId:  3,
		Status:     "ACCEPTED",
		TotalPrice: 5000,
	})

	st := &stats.MockStatsUpdater{}
	st.On("Incr", mock.Anything).Maybe()

	return NewChannel(repo, time.Minute, st, testutil.TestLogger(t)), repo
}

func TestChannel_Send(t *testing.T) {
	c, repo := newTestChannel(t)

	msg, err := c.Send(context.Background(), SendParams{BookingId: 1, SenderId: 9, ReceiverId: 7, Content: "on my way"})
	require.NoError(t, err)
	assert.False(t, msg.IsRead)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, "Pete", msg.Sender.Name)
	assert.Equal(t, "/img/carol.png", msg.Receiver.ProfileImage)

	notes := repo.Notifications(7)
	require.Len(t, notes, 1, "expected exactly one notification for the receiver")
	assert.Equal(t, string(types.NotificationNewMessage), notes[0].Type)
	assert.Equal(t, "Pete sent you a message", notes[0].Message)
	assert.Empty(t, repo.Notifications(9))
}

func TestChannel_Send_Errors(t *testing.T) {
	tcases := []struct {
		name     string
		params   SendParams
		expected apperror.Kind
	}{
		{name: "third party sender", params: SendParams{BookingId: 1, SenderId: 5, ReceiverId: 7, Content: "hi"}, expected: apperror.Forbidden},
		{name: "third party receiver", params: SendParams{BookingId: 1, SenderId: 7, ReceiverId: 5, Content: "hi"}, expected: apperror.Forbidden},
		{name: "self message", params: SendParams{BookingId: 1, SenderId: 7, ReceiverId: 7, Content: "hi"}, expected: apperror.Forbidden},
		{name: "unknown booking", params: SendParams{BookingId: 404, SenderId: 7, ReceiverId: 9, Content: "hi"}, expected: apperror.NotFound},
		{name: "empty content", params: SendParams{BookingId: 1, SenderId: 7, ReceiverId: 9, Content: "   "}, expected: apperror.InvalidArgument},
		{name: "oversized content", params: SendParams{BookingId: 1, SenderId: 7, ReceiverId: 9, Content: strings.Repeat("x", maxContentLength+1)}, expected: apperror.InvalidArgument},
		{name: "missing sender", params: SendParams{BookingId: 1, ReceiverId: 9, Content: "hi"}, expected: apperror.InvalidArgument},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c, repo := newTestChannel(t)

			_, err := c.Send(context.Background(), tc.params)
			assert.Equal(t, tc.expected, apperror.KindOf(err), "unexpected error: %v", err)

			msgs, err := repo.GetMessages(context.Background(), 1)
			require.NoError(t, err)
			assert.Empty(t, msgs, "no message may be persisted")
			assert.Empty(t, repo.Notifications(7))
			assert.Empty(t, repo.Notifications(9))
		})
	}
}

func TestChannel_MarkRead_Idempotent(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two"} {
		_, err := c.Send(ctx, SendParams{BookingId: 1, SenderId: 9, ReceiverId: 7, Content: content})
		require.NoError(t, err)
	}
	_, err := c.Send(ctx, SendParams{BookingId: 1, SenderId: 7, ReceiverId: 9, Content: "reply"})
	require.NoError(t, err)

	n, err := c.MarkRead(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.MarkRead(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second call must not change anything")

	history, err := c.History(ctx, 1, 9)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].IsRead)
	assert.True(t, history[1].IsRead)
	assert.False(t, history[2].IsRead, "messages to the other party stay unread")

	_, err = c.MarkRead(ctx, 1, 5)
	assert.True(t, apperror.Is(err, apperror.Forbidden))
}

func TestChannel_History_Order(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base, base.Add(time.Second)}
	i := 0
	c.now = func() time.Time {
		ts := times[i]
		i++
		return ts
	}

	for _, content := range []string{"first", "second", "third"} {
		_, err := c.Send(ctx, SendParams{BookingId: 1, SenderId: 7, ReceiverId: 9, Content: content})
		require.NoError(t, err)
	}

	history, err := c.History(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content, "ties break by insertion order")
	assert.Equal(t, "third", history[2].Content)

	_, err = c.History(ctx, 1, 5)
	assert.True(t, apperror.Is(err, apperror.Forbidden))
}

func TestChannel_Participants_Cached(t *testing.T) {
	repo := &database.MockRepository{}
	c := NewChannel(repo, time.Minute, &stats.MockStatsUpdater{}, testutil.TestLogger(t))

	repo.On("GetBooking", mock.Anything, 1).Return(database.Booking{Id: 1, CustomerId: 7, ProviderId: 9, Status: "ACCEPTED"}, nil).Once()

	for i := 0; i < 3; i++ {
		p, err := c.Participants(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, p.Pair(9, 7))
	}

	repo.AssertNumberOfCalls(t, "GetBooking", 1)
}

func TestChannel_DeletedPendingBooking(t *testing.T) {
	c, repo := newTestChannel(t)
	ctx := context.Background()
	repo.InsertBooking(database.Booking{
		Id:         2,
		CustomerId: 7,
		ProviderId: 9,
		ServiceId:  3,
		Status:     "PENDING",
		TotalPrice: 5000,
	})

	_, err := c.History(ctx, 2, 7)
	require.NoError(t, err)
	_, err = c.MarkRead(ctx, 2, 9)
	require.NoError(t, err)

	require.NoError(t, repo.DeletePendingBooking(ctx, 2, 7))

	_, err = c.History(ctx, 2, 7)
	assert.True(t, apperror.Is(err, apperror.NotFound), "unexpected error: %v", err)
	_, err = c.MarkRead(ctx, 2, 7)
	assert.True(t, apperror.Is(err, apperror.NotFound), "unexpected error: %v", err)
	_, err = c.Participants(ctx, 2)
	assert.True(t, apperror.Is(err, apperror.NotFound), "unexpected error: %v", err)
}

func TestChannel_Send_StoreUnavailable(t *testing.T) {
	repo := &database.MockRepository{}
	c := NewChannel(repo, time.Minute, &stats.MockStatsUpdater{}, testutil.TestLogger(t))

	repo.On("GetBooking", mock.Anything, 1).Return(database.Booking{Id: 1, CustomerId: 7, ProviderId: 9}, nil)
	repo.On("GetUsers", mock.Anything, []int{9}).Return(map[int]database.User{9: {Id: 9, Name: "Pete"}}, nil)
	repo.On("CreateMessage", mock.Anything, mock.Anything).
		Return(database.Message{}, apperror.Wrap(apperror.Unavailable, assert.AnError, "store unavailable"))

	_, err := c.Send(context.Background(), SendParams{BookingId: 1, SenderId: 9, ReceiverId: 7, Content: "hi"})
	assert.True(t, apperror.Is(err, apperror.Unavailable))
	repo.AssertExpectations(t)
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []int{7, 9}, Recipients(types.Message{SenderId: 9, ReceiverId: 7}))
	assert.Equal(t, []int{7}, Recipients(types.Message{SenderId: 7, ReceiverId: 7}))
}
