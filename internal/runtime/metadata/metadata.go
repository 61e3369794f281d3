// Package metadata holds the string headers that travel with a comment on the
// queue and on the broadcast topic.
package metadata

import (
	"maps"
	"time"
)

// Header keys carried on every queued comment.
const (
	KeyCorrelationID = "correlation_id"
	KeyMessageID     = "message_id"
	KeyPublishedAt   = "published_at"
	KeyQueue         = "queue"
)

// Metadata is a header map. Methods never modify the receiver.
type Metadata map[string]string

// ForComment returns the headers stamped on a comment when it leaves a
// process: the comment id as correlation id and the publish time.
func ForComment(commentID string, publishedAt time.Time) Metadata {
	return Metadata{
		KeyCorrelationID: commentID,
		KeyPublishedAt:   publishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy. The copy of a nil map is empty, not nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy holding key=value.
func (m Metadata) With(key, value string) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// Merge returns a copy of m overlaid with other.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	maps.Copy(out, m)
	maps.Copy(out, other)
	return out
}

func (m Metadata) Get(key string) string {
	return m[key]
}

// CorrelationID is the comment id the message belongs to.
func (m Metadata) CorrelationID() string {
	return m[KeyCorrelationID]
}

// PublishedAt parses the publish time written by ForComment.
func (m Metadata) PublishedAt() (time.Time, bool) {
	raw := m[KeyPublishedAt]
	if raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
