package comments

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeText  FileType = "text"
)

// FileTypeForURL classifies an attachment by the extension of its path.
// Only .txt is treated as text.
func FileTypeForURL(rawURL string) FileType {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if strings.EqualFold(path.Ext(p), ".txt") {
		return FileTypeText
	}
	return FileTypeImage
}

type User struct {
	ID        uuid.UUID `json:"id"`
	UserName  string    `json:"userName"`
	Email     string    `json:"email"`
	HomePage  *string   `json:"homePage,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type FileAttachment struct {
	ID        uuid.UUID `json:"id"`
	CommentID uuid.UUID `json:"commentId"`
	URL       string    `json:"url"`
	Type      FileType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentRecord is the durable form of a comment. HasReplies is true iff at
// least one live comment names this one as its parent.
type CommentRecord struct {
	ID              uuid.UUID        `json:"id"`
	Text            string           `json:"text"`
	ParentID        *uuid.UUID       `json:"parentId,omitempty"`
	UserID          uuid.UUID        `json:"userId"`
	User            *User            `json:"user,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	HasReplies      bool             `json:"hasReplies"`
	FileAttachments []FileAttachment `json:"fileAttachments"`
}
