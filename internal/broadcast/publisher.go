package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commentflow/internal/comments"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	idspkg "github.com/drblury/commentflow/internal/runtime/ids"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/commentflow/internal/runtime/metadata"
)

const (
	EventType = "comment.received"

	MetadataKeyEventType = "event_type"
	MetadataKeyCommentID = "comment_id"
	MetadataKeyParentID  = "parent_id"
)

// NewMessage encodes a persisted comment as a broadcast message.
func NewMessage(comment comments.CommentRecord) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal comment %s: %w", comment.ID, err)
	}

	md := metadatapkg.ForComment(comment.ID.String(), time.Now()).Merge(metadatapkg.New(
		MetadataKeyEventType, EventType,
		MetadataKeyCommentID, comment.ID.String(),
	))
	if comment.ParentID != nil {
		md = md.With(MetadataKeyParentID, comment.ParentID.String())
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// Publisher implements comments.Broadcaster on a watermill publisher.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

func NewPublisher(publisher message.Publisher, topic string) (*Publisher, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &Publisher{publisher: publisher, topic: topic}, nil
}

func (p *Publisher) Notify(ctx context.Context, comment comments.CommentRecord) error {
	msg, err := NewMessage(comment)
	if err != nil {
		return &errspkg.BroadcastError{CommentID: comment.ID.String(), Cause: err}
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return &errspkg.BroadcastError{CommentID: comment.ID.String(), Cause: err}
	}
	return nil
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Nop drops every notification.
var Nop comments.Broadcaster = comments.BroadcasterFunc(func(context.Context, comments.CommentRecord) error {
	return nil
})
