package models

import "time"

// AttachmentKind enumerates the supported attachment reference types.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// ValidKind reports whether k is one of the supported attachment kinds.
func ValidKind(k AttachmentKind) bool {
	switch k {
	case AttachmentImage, AttachmentVideo, AttachmentDocument:
		return true
	}
	return false
}

// Attachment is a typed reference into the external blob store. The store
// assigns the ref; raw bytes never pass through the relay.
type Attachment struct {
	MessageID int64          `db:"message_id" json:"-"`
	Position  int            `db:"position" json:"-"`
	Kind      AttachmentKind `db:"kind" json:"kind"`
	Ref       string         `db:"ref" json:"ref"`
}

// Message represents a direct message between two users. Everything except
// the read flag is immutable after creation.
type Message struct {
	ID          int64        `db:"id" json:"id"`
	SenderID    string       `db:"sender_id" json:"sender_id"`
	ReceiverID  string       `db:"receiver_id" json:"receiver_id"`
	Body        string       `db:"body" json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Read        bool         `db:"read" json:"read"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Counterpart returns the other participant from the viewer's side.
func (m Message) Counterpart(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary provides the API view of one conversation for a user.
type ConversationSummary struct {
	CounterpartID string  `json:"counterpart_id"`
	LastMessage   Message `json:"last_message"`
	UnreadCount   int     `json:"unread_count"`
}

// PushEvent is broadcasted through websockets.
type PushEvent struct {
	Type          string   `json:"type"`
	Message       *Message `json:"message,omitempty"`
	MessageID     int64    `json:"message_id,omitempty"`
	OnlineUserIDs []string `json:"online_user_ids,omitempty"`
}
