package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/drblury/commentflow/internal/comments"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/ids"
	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/validation"
)

// Publisher puts an envelope on the comment queue.
type Publisher interface {
	PublishContext(ctx context.Context, env comments.Envelope) error
}

type Service struct {
	gate           comments.CaptchaGate
	validator      *validation.Validator
	publisher      Publisher
	log            logging.ServiceLogger
	publishTimeout time.Duration
}

// NewService wires the gates and the publisher. A zero publishTimeout lets
// a submission wait on the broker for as long as the request lives.
func NewService(gate comments.CaptchaGate, validator *validation.Validator, publisher Publisher, log logging.ServiceLogger, publishTimeout time.Duration) (*Service, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if gate == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if validator == nil {
		validator = validation.New()
	}
	return &Service{
		gate:           gate,
		validator:      validator,
		publisher:      publisher,
		log:            logging.Component(log, "intake"),
		publishTimeout: publishTimeout,
	}, nil
}

// Submit checks the captcha, validates sub and publishes it. It returns the
// comment id, which is the captcha key when that is a UUID. Nothing is
// published when a gate fails.
func (s *Service) Submit(ctx context.Context, sub comments.Submission) (uuid.UUID, error) {
	if !s.gate.Validate(ctx, sub.CaptchaKey, sub.CaptchaText) {
		return uuid.Nil, &errspkg.CaptchaError{Key: sub.CaptchaKey}
	}
	if ok, fields := s.validator.Validate(sub); !ok {
		return uuid.Nil, &errspkg.ValidationError{Fields: fields}
	}

	env, err := sub.Envelope(ids.CommentIDFromKey(sub.CaptchaKey))
	if err != nil {
		rule := "uuid"
		if errors.Is(err, comments.ErrSelfReply) {
			rule = "self_reply"
		}
		return uuid.Nil, &errspkg.ValidationError{Fields: []errspkg.FieldError{{
			Field: "parentId", Rule: rule, Message: err.Error(),
		}}}
	}

	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}
	if err := s.publisher.PublishContext(ctx, env); err != nil {
		s.log.Error("Comment not queued", err, logging.LogFields{logging.FieldCommentID: env.Id.String()})
		return uuid.Nil, err
	}

	s.log.Info("Comment accepted", logging.LogFields{
		logging.FieldCommentID: env.Id.String(),
		"parent_id":            sub.ParentId,
		"attachments":          len(env.FileAttachmentUrls),
	})
	return env.Id, nil
}
