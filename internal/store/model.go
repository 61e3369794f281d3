package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/drblury/commentflow/internal/comments"
)

// Ids are stored as their canonical string form so the same schema works on
// postgres, mysql and sqlite.

type User struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	UserName  string    `gorm:"size:50;not null"`
	Email     string    `gorm:"size:320;not null;uniqueIndex"`
	HomePage  *string   `gorm:"size:2048"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (User) TableName() string {
	return "users"
}

func (m *User) ToDomain() comments.User {
	return comments.User{
		ID:        m.ID,
		UserName:  m.UserName,
		Email:     m.Email,
		HomePage:  m.HomePage,
		CreatedAt: m.CreatedAt,
	}
}

func (m *User) FromDomain(u comments.User) {
	m.ID = u.ID
	m.UserName = u.UserName
	m.Email = u.Email
	m.HomePage = u.HomePage
	m.CreatedAt = u.CreatedAt
}

type Comment struct {
	ID              uuid.UUID        `gorm:"type:varchar(36);primaryKey"`
	Text            string           `gorm:"type:text;not null"`
	ParentID        *uuid.UUID       `gorm:"type:varchar(36);index"`
	UserID          uuid.UUID        `gorm:"type:varchar(36);not null;index"`
	User            *User            `gorm:"foreignKey:UserID"`
	HasReplies      bool             `gorm:"not null;default:false"`
	CreatedAt       time.Time        `gorm:"autoCreateTime;index"`
	FileAttachments []FileAttachment `gorm:"foreignKey:CommentID"`
}

func (Comment) TableName() string {
	return "comments"
}

func (m *Comment) ToDomain() comments.CommentRecord {
	rec := comments.CommentRecord{
		ID:              m.ID,
		Text:            m.Text,
		ParentID:        m.ParentID,
		UserID:          m.UserID,
		CreatedAt:       m.CreatedAt,
		HasReplies:      m.HasReplies,
		FileAttachments: make([]comments.FileAttachment, 0, len(m.FileAttachments)),
	}
	if m.User != nil {
		u := m.User.ToDomain()
		rec.User = &u
	}
	for i := range m.FileAttachments {
		rec.FileAttachments = append(rec.FileAttachments, m.FileAttachments[i].ToDomain())
	}
	return rec
}

type FileAttachment struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	CommentID uuid.UUID `gorm:"type:varchar(36);not null;index"`
	URL       string    `gorm:"type:text;not null"`
	Type      string    `gorm:"size:16;not null"`
	// Position keeps attachments in submission order.
	Position  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (FileAttachment) TableName() string {
	return "file_attachments"
}

func (m *FileAttachment) ToDomain() comments.FileAttachment {
	return comments.FileAttachment{
		ID:        m.ID,
		CommentID: m.CommentID,
		URL:       m.URL,
		Type:      comments.FileType(m.Type),
		CreatedAt: m.CreatedAt,
	}
}

func (m *FileAttachment) FromDomain(a comments.FileAttachment) {
	m.ID = a.ID
	m.CommentID = a.CommentID
	m.URL = a.URL
	m.Type = string(a.Type)
	m.CreatedAt = a.CreatedAt
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{&User{}, &Comment{}, &FileAttachment{}}
}
