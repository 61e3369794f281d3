package comments

import (
	"context"

	"github.com/google/uuid"
)

// CommentWriter persists consumed envelopes.
type CommentWriter interface {
	AddComment(ctx context.Context, env Envelope) (CommentRecord, error)
}

// Broadcaster forwards a persisted comment to realtime viewers. Failures are
// best effort and never affect the acknowledgement of the source message.
type Broadcaster interface {
	Notify(ctx context.Context, comment CommentRecord) error
}

// CaptchaGate checks a one-time captcha answer.
type CaptchaGate interface {
	Validate(ctx context.Context, key, text string) bool
}

type UserStore interface {
	UserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
}

type CommentRepository interface {
	CommentByID(ctx context.Context, id uuid.UUID) (CommentRecord, error)
	CommentsByParent(ctx context.Context, parentID uuid.UUID) ([]CommentRecord, error)
	UpdateComment(ctx context.Context, id uuid.UUID, text string) (CommentRecord, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
}

type FileAttachmentRepository interface {
	AttachmentsByComment(ctx context.Context, commentID uuid.UUID) ([]FileAttachment, error)
	CreateAttachment(ctx context.Context, attachment FileAttachment) (FileAttachment, error)
	DeleteAttachment(ctx context.Context, id uuid.UUID) error
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, comment CommentRecord) error

func (f BroadcasterFunc) Notify(ctx context.Context, comment CommentRecord) error {
	return f(ctx, comment)
}
