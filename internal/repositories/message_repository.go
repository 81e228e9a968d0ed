package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"relay-service/internal/models"
)

var (
	// ErrMessageNotFound is returned when a message id matches no row.
	ErrMessageNotFound = errors.New("message not found")
	// ErrConversationNotFound is returned when a participant pair has no messages.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStoreUnavailable marks retryable storage failures. Callers must treat
	// the operation as not having happened.
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// ValidationError rejects a submit before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// MessageRepository defines the durable message log.
type MessageRepository interface {
	Append(ctx context.Context, senderID, receiverID, body string, attachments []models.Attachment) (models.Message, error)
	FindByParticipant(ctx context.Context, userID string) ([]models.Message, error)
	FindBetween(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkRead(ctx context.Context, viewerID, counterpartID string) (int64, error)
	DeleteBetween(ctx context.Context, userA, userB string) error
	DeleteByID(ctx context.Context, messageID int64) (models.Message, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, body, read, created_at`

// Append validates and stores a message with its attachment references in a
// single transaction. The id and created_at are assigned here.
func (r *MessageRepo) Append(ctx context.Context, senderID, receiverID, body string, attachments []models.Attachment) (models.Message, error) {
	if senderID == "" || receiverID == "" {
		return models.Message{}, &ValidationError{Reason: "sender_id and receiver_id are required"}
	}
	if body == "" && len(attachments) == 0 {
		return models.Message{}, &ValidationError{Reason: "message needs a body or at least one attachment"}
	}
	for _, a := range attachments {
		if !models.ValidKind(a.Kind) {
			return models.Message{}, &ValidationError{Reason: fmt.Sprintf("unsupported attachment kind %q", a.Kind)}
		}
		if a.Ref == "" {
			return models.Message{}, &ValidationError{Reason: "attachment ref is required"}
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, storeErr("append", err)
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, body) VALUES ($1, $2, $3) RETURNING `+messageColumns, senderID, receiverID, body).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, storeErr("append", err)
	}

	for i, a := range attachments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO attachments (message_id, position, kind, ref) VALUES ($1, $2, $3, $4)`, msg.ID, i, a.Kind, a.Ref); err != nil {
			return models.Message{}, storeErr("append attachments", err)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{MessageID: msg.ID, Position: i, Kind: a.Kind, Ref: a.Ref})
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, storeErr("append", err)
	}
	return msg, nil
}

// FindByParticipant returns all messages where the user is sender or
// receiver, newest first. Used to build conversation summaries.
func (r *MessageRepo) FindByParticipant(ctx context.Context, userID string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE sender_id=$1 OR receiver_id=$1
        ORDER BY created_at DESC, id DESC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, userID); err != nil {
		return nil, storeErr("find by participant", err)
	}
	if err := r.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FindBetween returns the full transcript between two users, oldest first.
func (r *MessageRepo) FindBetween(ctx context.Context, userA, userB string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, userA, userB); err != nil {
		return nil, storeErr("find between", err)
	}
	if err := r.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead flips unread messages from the counterpart to read. Idempotent:
// a second call matches no rows and reports zero updates.
func (r *MessageRepo) MarkRead(ctx context.Context, viewerID, counterpartID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
        WHERE receiver_id=$1 AND sender_id=$2 AND read = FALSE`, viewerID, counterpartID)
	if err != nil {
		return 0, storeErr("mark read", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("mark read", err)
	}
	return count, nil
}

// DeleteBetween removes the whole conversation between two users.
func (r *MessageRepo) DeleteBetween(ctx context.Context, userA, userB string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)`, userA, userB)
	if err != nil {
		return storeErr("delete between", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete between", err)
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// DeleteByID removes a single message and returns it so callers can notify
// live sessions of both participants. Attachment rows cascade and are not
// loaded onto the returned message; the deletion push only needs the id and
// the participant pair.
func (r *MessageRepo) DeleteByID(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `DELETE FROM messages WHERE id=$1 RETURNING `+messageColumns, messageID).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.Read, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, storeErr("delete by id", err)
	}
	return msg, nil
}

// DeleteOlderThan removes every message created before the cutoff. The
// cutoff is computed once per sweep by the caller so rows appended while the
// sweep runs are never eligible.
func (r *MessageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("delete older than", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete older than", err)
	}
	return count, nil
}

func (r *MessageRepo) loadAttachments(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	var rows []models.Attachment
	query := `SELECT message_id, position, kind, ref FROM attachments
        WHERE message_id = ANY($1) ORDER BY message_id, position`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return storeErr("load attachments", err)
	}

	byMessage := make(map[int64][]models.Attachment, len(rows))
	for _, a := range rows {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}
	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
