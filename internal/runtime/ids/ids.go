// Package ids mints the identifiers the pipeline hands out: ULIDs for broker
// messages and UUIDs for comments.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a 26 character ULID. Ids minted by one process sort in
// the order they were created.
func CreateULID() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// ULIDTime reports the publish time embedded in a message id.
func ULIDTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func NewCommentID() uuid.UUID {
	return uuid.New()
}

// CommentIDFromKey reuses a captcha key as the comment id when it is a UUID,
// so a resubmitted form maps onto the same comment. Any other key gets a
// fresh id.
func CommentIDFromKey(key string) uuid.UUID {
	if id, err := uuid.Parse(key); err == nil && id != uuid.Nil {
		return id
	}
	return NewCommentID()
}
