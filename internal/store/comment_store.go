package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drblury/commentflow/internal/comments"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
)

const defaultUserCacheSize = 1024

// CommentStore persists comments, their authors and attachments. It
// implements CommentWriter and the repository ports.
type CommentStore struct {
	db    *gorm.DB
	users *lru.Cache[string, uuid.UUID]
}

var (
	_ comments.CommentWriter            = (*CommentStore)(nil)
	_ comments.UserStore                = (*CommentStore)(nil)
	_ comments.CommentRepository        = (*CommentStore)(nil)
	_ comments.FileAttachmentRepository = (*CommentStore)(nil)
)

// NewCommentStore wraps db. userCacheSize bounds the email to user id cache;
// zero selects a default.
func NewCommentStore(db *gorm.DB, userCacheSize int) (*CommentStore, error) {
	if db == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if userCacheSize <= 0 {
		userCacheSize = defaultUserCacheSize
	}
	users, err := lru.New[string, uuid.UUID](userCacheSize)
	if err != nil {
		return nil, err
	}
	return &CommentStore{db: db, users: users}, nil
}

// Scope returns a store bound to a fresh session. The consumer takes one per
// message. The user cache is shared.
func (s *CommentStore) Scope(ctx context.Context) comments.CommentWriter {
	return &CommentStore{
		db:    s.db.Session(&gorm.Session{NewDB: true, Context: ctx}),
		users: s.users,
	}
}

// AddComment stores env in one transaction: the author is created on first
// sight, the comment is inserted, the parent's reply flag is raised and the
// attachments are recorded. Calling it again with the same id returns the
// stored comment without writing. A comment naming itself as parent fails
// with comments.ErrSelfReply before anything is written.
func (s *CommentStore) AddComment(ctx context.Context, env comments.Envelope) (comments.CommentRecord, error) {
	if env.IsSelfReply() {
		return comments.CommentRecord{}, fmt.Errorf("insert comment %s: %w", env.Id, comments.ErrSelfReply)
	}

	var (
		stored   Comment
		newUser  bool
		authorID uuid.UUID
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		authorID, newUser, err = s.ensureUser(tx, env)
		if err != nil {
			return err
		}

		c := Comment{ID: env.Id, Text: env.Text, ParentID: env.ParentId, UserID: authorID}
		res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
		if res.Error != nil {
			return fmt.Errorf("insert comment %s: %w", env.Id, res.Error)
		}
		if res.RowsAffected == 0 {
			return loadComment(tx, env.Id, &stored)
		}

		if env.ParentId != nil {
			if err := markHasReplies(tx, *env.ParentId); err != nil {
				return err
			}
		}

		for i, url := range env.FileAttachmentUrls {
			a := FileAttachment{
				ID:        uuid.New(),
				CommentID: env.Id,
				URL:       url,
				Type:      string(comments.FileTypeForURL(url)),
				Position:  i,
			}
			if err := tx.Create(&a).Error; err != nil {
				return fmt.Errorf("insert attachment %q: %w", url, err)
			}
		}

		return loadComment(tx, env.Id, &stored)
	})
	if err != nil {
		return comments.CommentRecord{}, err
	}
	if newUser {
		s.users.Add(env.Email, authorID)
	}
	return stored.ToDomain(), nil
}

// ensureUser returns the id of the user owning env.Email, creating the row if
// needed. The insert ignores conflicts on email so concurrent first comments
// by the same author converge on one row. The bool reports whether the id
// should be cached once the transaction commits.
func (s *CommentStore) ensureUser(tx *gorm.DB, env comments.Envelope) (uuid.UUID, bool, error) {
	if id, ok := s.users.Get(env.Email); ok {
		return id, false, nil
	}

	u := User{ID: uuid.New(), UserName: env.UserName, Email: env.Email, HomePage: env.HomePage}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&u).Error
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert user: %w", err)
	}

	var existing User
	if err := tx.Select("id").Where("email = ?", env.Email).Take(&existing).Error; err != nil {
		return uuid.Nil, false, fmt.Errorf("load user: %w", err)
	}
	return existing.ID, true, nil
}

// markHasReplies fails with ErrParentNotFound when the parent is missing.
// The update only writes when the flag is still false.
func markHasReplies(tx *gorm.DB, parentID uuid.UUID) error {
	var parent Comment
	err := tx.Select("id", "has_replies").Where("id = ?", parentID).Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", errspkg.ErrParentNotFound, parentID)
	}
	if err != nil {
		return fmt.Errorf("load parent %s: %w", parentID, err)
	}
	if parent.HasReplies {
		return nil
	}
	return tx.Model(&Comment{}).
		Where("id = ? AND has_replies = ?", parentID, false).
		Update("has_replies", true).Error
}

func loadComment(tx *gorm.DB, id uuid.UUID, dst *Comment) error {
	err := tx.
		Preload("User").
		Preload("FileAttachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", errspkg.ErrCommentNotFound, id)
	}
	return err
}

func (s *CommentStore) CommentByID(ctx context.Context, id uuid.UUID) (comments.CommentRecord, error) {
	var c Comment
	if err := loadComment(s.db.WithContext(ctx), id, &c); err != nil {
		return comments.CommentRecord{}, err
	}
	return c.ToDomain(), nil
}

// CommentsByParent returns the direct replies to parentID, oldest first.
func (s *CommentStore) CommentsByParent(ctx context.Context, parentID uuid.UUID) ([]comments.CommentRecord, error) {
	var models []Comment
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("FileAttachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]comments.CommentRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].ToDomain())
	}
	return records, nil
}

func (s *CommentStore) UpdateComment(ctx context.Context, id uuid.UUID, text string) (comments.CommentRecord, error) {
	var c Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Comment{}).Where("id = ?", id).Update("text", text)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", errspkg.ErrCommentNotFound, id)
		}
		return loadComment(tx, id, &c)
	})
	if err != nil {
		return comments.CommentRecord{}, err
	}
	return c.ToDomain(), nil
}

// DeleteComment removes a comment and its attachments. Replies stay and
// become top level. The former parent's reply flag is recomputed from the
// replies that remain.
func (s *CommentStore) DeleteComment(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Comment
		err := tx.Select("id", "parent_id").Where("id = ?", id).Take(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", errspkg.ErrCommentNotFound, id)
		}
		if err != nil {
			return err
		}

		if err := tx.Where("comment_id = ?", id).Delete(&FileAttachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments of %s: %w", id, err)
		}
		if err := tx.Model(&Comment{}).Where("parent_id = ?", id).Update("parent_id", nil).Error; err != nil {
			return fmt.Errorf("detach replies of %s: %w", id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&Comment{}).Error; err != nil {
			return fmt.Errorf("delete comment %s: %w", id, err)
		}

		if c.ParentID == nil {
			return nil
		}
		return recomputeHasReplies(tx, *c.ParentID)
	})
}

func recomputeHasReplies(tx *gorm.DB, parentID uuid.UUID) error {
	var hasReplies bool
	err := tx.Raw("SELECT EXISTS (SELECT 1 FROM comments WHERE parent_id = ?)", parentID).Scan(&hasReplies).Error
	if err != nil {
		return fmt.Errorf("count replies of %s: %w", parentID, err)
	}
	return tx.Model(&Comment{}).Where("id = ?", parentID).Update("has_replies", hasReplies).Error
}

func (s *CommentStore) UserByEmail(ctx context.Context, email string) (comments.User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return comments.User{}, fmt.Errorf("%w: %s", errspkg.ErrUserNotFound, email)
	}
	if err != nil {
		return comments.User{}, err
	}
	return u.ToDomain(), nil
}

// CreateUser inserts user. A zero id is replaced with a new one.
func (s *CommentStore) CreateUser(ctx context.Context, user comments.User) (comments.User, error) {
	var m User
	m.FromDomain(user)
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return comments.User{}, fmt.Errorf("%w: %s", errspkg.ErrUserExists, user.Email)
	}
	if err != nil {
		return comments.User{}, err
	}
	s.users.Add(m.Email, m.ID)
	return m.ToDomain(), nil
}

func (s *CommentStore) AttachmentsByComment(ctx context.Context, commentID uuid.UUID) ([]comments.FileAttachment, error) {
	var models []FileAttachment
	err := s.db.WithContext(ctx).
		Where("comment_id = ?", commentID).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]comments.FileAttachment, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// CreateAttachment appends an attachment to an existing comment. An empty
// type is inferred from the URL.
func (s *CommentStore) CreateAttachment(ctx context.Context, attachment comments.FileAttachment) (comments.FileAttachment, error) {
	var m FileAttachment
	m.FromDomain(attachment)
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Type == "" {
		m.Type = string(comments.FileTypeForURL(m.URL))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Comment{}).Where("id = ?", m.CommentID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", errspkg.ErrCommentNotFound, m.CommentID)
		}
		var next int64
		if err := tx.Model(&FileAttachment{}).Where("comment_id = ?", m.CommentID).Count(&next).Error; err != nil {
			return err
		}
		m.Position = int(next)
		return tx.Create(&m).Error
	})
	if err != nil {
		return comments.FileAttachment{}, err
	}
	return m.ToDomain(), nil
}

func (s *CommentStore) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&FileAttachment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", errspkg.ErrAttachmentNotFound, id)
	}
	return nil
}
