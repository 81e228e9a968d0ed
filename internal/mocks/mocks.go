package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"relay-service/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, senderID, receiverID, body string, attachments []models.Attachment) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, body, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) FindByParticipant(ctx context.Context, userID string) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) FindBetween(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, viewerID, counterpartID string) (int64, error) {
	args := m.Called(ctx, viewerID, counterpartID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) DeleteBetween(ctx context.Context, userA, userB string) error {
	args := m.Called(ctx, userA, userB)
	return args.Error(0)
}

func (m *MessageRepositoryMock) DeleteByID(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type DelivererMock struct {
	mock.Mock
}

func (m *DelivererMock) DeliverMessage(msg models.Message) {
	m.Called(msg)
}

func (m *DelivererMock) DeliverDeletion(msg models.Message) {
	m.Called(msg)
}
