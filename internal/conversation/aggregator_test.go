package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relay-service/internal/mocks"
	"relay-service/internal/models"
)

func msgAt(id int64, sender, receiver string, read bool, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, ReceiverID: receiver, Read: read, CreatedAt: at}
}

func TestSummarizeGroupsByCounterpart(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		msgAt(1, "u2", "u1", false, base),
		msgAt(2, "u1", "u2", true, base.Add(time.Minute)),
		msgAt(3, "u3", "u1", false, base.Add(2*time.Minute)),
		msgAt(4, "u2", "u1", false, base.Add(3*time.Minute)),
	}

	summaries := Summarize("u1", msgs)
	require.Len(t, summaries, 2)

	assert.Equal(t, "u2", summaries[0].CounterpartID)
	assert.Equal(t, int64(4), summaries[0].LastMessage.ID)
	assert.Equal(t, 2, summaries[0].UnreadCount)

	assert.Equal(t, "u3", summaries[1].CounterpartID)
	assert.Equal(t, int64(3), summaries[1].LastMessage.ID)
	assert.Equal(t, 1, summaries[1].UnreadCount)
}

func TestSummarizeUnreadCountsOnlyMessagesToViewer(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		// sent by the viewer: never unread for the viewer
		msgAt(1, "u1", "u2", false, base),
		// already read
		msgAt(2, "u2", "u1", true, base.Add(time.Minute)),
		// the only one that counts
		msgAt(3, "u2", "u1", false, base.Add(2*time.Minute)),
	}

	summaries := Summarize("u1", msgs)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].UnreadCount)
}

func TestSummarizeMatchesIndependentRecount(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var msgs []models.Message
	users := []string{"u2", "u3", "u4"}
	id := int64(1)
	for i := 0; i < 30; i++ {
		peer := users[i%len(users)]
		sender, receiver := "u1", peer
		if i%2 == 0 {
			sender, receiver = peer, "u1"
		}
		msgs = append(msgs, msgAt(id, sender, receiver, i%3 == 0, base.Add(time.Duration(i)*time.Second)))
		id++
	}

	summaries := Summarize("u1", msgs)
	for _, s := range summaries {
		expected := 0
		for _, m := range msgs {
			if m.SenderID == s.CounterpartID && m.ReceiverID == "u1" && !m.Read {
				expected++
			}
		}
		assert.Equal(t, expected, s.UnreadCount, "counterpart %s", s.CounterpartID)
	}
}

func TestSummarizeOrdersByRecency(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		msgAt(1, "u2", "u1", false, base.Add(time.Hour)),
		msgAt(2, "u3", "u1", false, base),
		msgAt(3, "u4", "u1", false, base.Add(2*time.Hour)),
	}

	summaries := Summarize("u1", msgs)
	require.Len(t, summaries, 3)
	assert.Equal(t, "u4", summaries[0].CounterpartID)
	assert.Equal(t, "u2", summaries[1].CounterpartID)
	assert.Equal(t, "u3", summaries[2].CounterpartID)
}

func TestSummarizeTieBreaks(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Equal timestamps inside one conversation: append order (higher id) wins
	// the last-message slot.
	msgs := []models.Message{
		msgAt(1, "u2", "u1", false, at),
		msgAt(2, "u2", "u1", false, at),
	}
	summaries := Summarize("u1", msgs)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0].LastMessage.ID)

	// Equal timestamps across conversations: rows come back in id order.
	msgs = []models.Message{
		msgAt(5, "u3", "u1", false, at),
		msgAt(4, "u2", "u1", false, at),
	}
	summaries = Summarize("u1", msgs)
	require.Len(t, summaries, 2)
	assert.Equal(t, "u2", summaries[0].CounterpartID)
	assert.Equal(t, "u3", summaries[1].CounterpartID)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Empty(t, Summarize("u1", nil))
}

func TestAggregatorSummariesRecomputesFromStore(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	agg := NewAggregator(repo)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.On("FindByParticipant", mock.Anything, "u1").
		Return([]models.Message{msgAt(1, "u2", "u1", false, base)}, nil).Once()

	summaries, err := agg.Summaries(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "u2", summaries[0].CounterpartID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	repo.AssertExpectations(t)
}

func TestAggregatorSummariesPropagatesStoreError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	agg := NewAggregator(repo)

	repo.On("FindByParticipant", mock.Anything, "u1").
		Return(([]models.Message)(nil), assert.AnError).Once()

	_, err := agg.Summaries(context.Background(), "u1")
	require.Error(t, err)
	repo.AssertExpectations(t)
}
