package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrConfigRequired     = sterrors.New("commentflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("commentflow: logger is required")
	ErrStoreRequired      = sterrors.New("commentflow: comment store is required")
	ErrPublisherRequired  = sterrors.New("commentflow: publisher is required")
	ErrSubscriberRequired = sterrors.New("commentflow: subscriber is required")
	ErrQueueNameRequired  = sterrors.New("commentflow: queue name is required")
	ErrDeadLetterRequired = sterrors.New("commentflow: dead letter exchange and queue are required")

	ErrValidation      = sterrors.New("commentflow: submission is invalid")
	ErrCaptcha         = sterrors.New("commentflow: captcha check failed")
	ErrDeserialization = sterrors.New("commentflow: message payload cannot be decoded")
	ErrPersistence     = sterrors.New("commentflow: comment could not be persisted")
	ErrBroadcast       = sterrors.New("commentflow: comment broadcast failed")

	ErrPublishCancelled   = sterrors.New("commentflow: publish cancelled before the broker accepted the message")
	ErrProducerClosed     = sterrors.New("commentflow: producer is closed")
	ErrChannelClosed      = sterrors.New("commentflow: broker channel closed")
	ErrPublishNacked      = sterrors.New("commentflow: broker refused the message")
	ErrCommentNotFound    = sterrors.New("commentflow: comment not found")
	ErrParentNotFound     = sterrors.New("commentflow: parent comment not found")
	ErrUserNotFound       = sterrors.New("commentflow: user not found")
	ErrAttachmentNotFound = sterrors.New("commentflow: file attachment not found")
	ErrUserExists         = sterrors.New("commentflow: a user with this email already exists")

	ErrUnknownTransport  = sterrors.New("commentflow: unknown broadcast transport")
	ErrTransportDisabled = sterrors.New("commentflow: broadcast transport is disabled")
	ErrTopicRequired     = sterrors.New("commentflow: broadcast topic is required")
)

// FieldError describes a single rejected submission field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError reports a malformed submission. It is returned before any
// queue interaction and is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// CaptchaError reports an invalid, expired or replayed captcha answer.
type CaptchaError struct {
	Key string
}

func (e *CaptchaError) Error() string {
	if e.Key == "" {
		return ErrCaptcha.Error()
	}
	return fmt.Sprintf("%s (key %s)", ErrCaptcha, e.Key)
}

func (e *CaptchaError) Is(target error) bool {
	if target == ErrCaptcha {
		return true
	}
	_, ok := target.(*CaptchaError)
	return ok
}

// DeserializationError wraps a payload that could not be turned into an
// envelope. The raw payload is kept for postmortem logging.
type DeserializationError struct {
	Payload []byte
	Cause   error
}

func (e *DeserializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrDeserialization, e.Cause)
	}
	return ErrDeserialization.Error()
}

func (e *DeserializationError) Unwrap() error {
	return e.Cause
}

func (e *DeserializationError) Is(target error) bool {
	if target == ErrDeserialization {
		return true
	}
	_, ok := target.(*DeserializationError)
	return ok
}

// PersistenceError wraps any failure raised by the comment store while a
// message is being consumed.
type PersistenceError struct {
	CommentID string
	Cause     error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (comment %s): %v", ErrPersistence, e.CommentID, e.Cause)
	}
	return fmt.Sprintf("%s (comment %s)", ErrPersistence, e.CommentID)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func (e *PersistenceError) Is(target error) bool {
	if target == ErrPersistence {
		return true
	}
	_, ok := target.(*PersistenceError)
	return ok
}

// BroadcastError is logged and discarded; it never changes the ack outcome.
type BroadcastError struct {
	CommentID string
	Cause     error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("%s (comment %s): %v", ErrBroadcast, e.CommentID, e.Cause)
}

func (e *BroadcastError) Unwrap() error {
	return e.Cause
}

func (e *BroadcastError) Is(target error) bool {
	if target == ErrBroadcast {
		return true
	}
	_, ok := target.(*BroadcastError)
	return ok
}

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "commentflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
