package conversation

import (
	"context"
	"sort"

	"relay-service/internal/models"
	"relay-service/internal/repositories"
)

// Summarize folds a user's messages into one summary row per counterpart.
// It is a pure function of its input: the last message is the max by
// created_at (append-order id breaks ties) and the unread count covers messages
// addressed to the viewer that are still unread. Rows come back ordered by
// last-message recency, most recent conversation first.
func Summarize(viewerID string, msgs []models.Message) []models.ConversationSummary {
	byCounterpart := make(map[string]*models.ConversationSummary)
	for _, msg := range msgs {
		counterpart := msg.Counterpart(viewerID)
		entry, ok := byCounterpart[counterpart]
		if !ok {
			entry = &models.ConversationSummary{CounterpartID: counterpart, LastMessage: msg}
			byCounterpart[counterpart] = entry
		} else if laterThan(msg, entry.LastMessage) {
			entry.LastMessage = msg
		}
		if msg.ReceiverID == viewerID && !msg.Read {
			entry.UnreadCount++
		}
	}

	summaries := make([]models.ConversationSummary, 0, len(byCounterpart))
	for _, entry := range byCounterpart {
		summaries = append(summaries, *entry)
	}
	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return summaries
}

// laterThan orders messages by created_at; ids are assigned in append order
// and break ties under equal timestamps.
func laterThan(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Aggregator recomputes conversation summaries from the message store on
// every call. The store is the only source of truth; nothing is cached.
type Aggregator struct {
	messages repositories.MessageRepository
}

// NewAggregator constructs an Aggregator.
func NewAggregator(messages repositories.MessageRepository) *Aggregator {
	return &Aggregator{messages: messages}
}

// Summaries returns the viewer's conversations, most recently active first.
func (a *Aggregator) Summaries(ctx context.Context, viewerID string) ([]models.ConversationSummary, error) {
	msgs, err := a.messages.FindByParticipant(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return Summarize(viewerID, msgs), nil
}
