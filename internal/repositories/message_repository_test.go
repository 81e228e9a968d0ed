package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-service/internal/models"
)

// Validation happens before the transaction opens, so a nil database proves
// a rejected submit touched no storage at all.

func TestAppendRejectsEmptyParticipants(t *testing.T) {
	repo := NewMessageRepo(nil)

	_, err := repo.Append(context.Background(), "", "u2", "hi", nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = repo.Append(context.Background(), "u1", "", "hi", nil)
	require.ErrorAs(t, err, &validationErr)
}

func TestAppendRejectsEmptyBodyAndAttachments(t *testing.T) {
	repo := NewMessageRepo(nil)

	_, err := repo.Append(context.Background(), "u1", "u2", "", nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "body or at least one attachment")
}

func TestAppendRejectsUnsupportedAttachmentKind(t *testing.T) {
	repo := NewMessageRepo(nil)

	_, err := repo.Append(context.Background(), "u1", "u2", "", []models.Attachment{{Kind: "audio", Ref: "blob-1"}})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "audio")
}

func TestAppendRejectsEmptyAttachmentRef(t *testing.T) {
	repo := NewMessageRepo(nil)

	_, err := repo.Append(context.Background(), "u1", "u2", "", []models.Attachment{{Kind: models.AttachmentImage}})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Reason, "ref")
}

func TestAppendAcceptsAttachmentOnlyMessage(t *testing.T) {
	repo := NewMessageRepo(nil)

	// An attachment-only submit is valid: it must get past validation and
	// reach the storage layer, which here is the nil database faulting.
	assert.Panics(t, func() {
		repo.Append(context.Background(), "u1", "u2", "", []models.Attachment{{Kind: models.AttachmentImage, Ref: "blob-1"}})
	})
}
