package comments

import (
	"errors"

	"github.com/google/uuid"
)

// Envelope is the JSON body carried on the comment queue. Field names are part
// of the wire contract.
type Envelope struct {
	Id                 uuid.UUID  `json:"Id"`
	UserName           string     `json:"UserName"`
	Email              string     `json:"Email"`
	HomePage           *string    `json:"HomePage"`
	Text               string     `json:"Text"`
	ParentId           *uuid.UUID `json:"ParentId"`
	FileAttachmentUrls []string   `json:"FileAttachmentUrls"`
}

var (
	errEnvelopeID    = errors.New("envelope id is empty")
	errEnvelopeEmail = errors.New("envelope email is empty")
	errEnvelopeText  = errors.New("envelope text is empty")
)

// ErrSelfReply rejects a comment whose parent id is its own id.
var ErrSelfReply = errors.New("a comment cannot reply to itself")

// Validate reports payloads that decode but cannot be persisted.
func (e Envelope) Validate() error {
	var errs []error
	if e.Id == uuid.Nil {
		errs = append(errs, errEnvelopeID)
	}
	if e.Email == "" {
		errs = append(errs, errEnvelopeEmail)
	}
	if e.Text == "" {
		errs = append(errs, errEnvelopeText)
	}
	if e.IsSelfReply() {
		errs = append(errs, ErrSelfReply)
	}
	return errors.Join(errs...)
}

// IsSelfReply reports whether the envelope names itself as its parent.
func (e Envelope) IsSelfReply() bool {
	return e.ParentId != nil && *e.ParentId == e.Id
}

// Submission is an inbound comment before it has passed the captcha and
// validation gates.
type Submission struct {
	UserName           string   `json:"userName" validate:"required,alphanum,max=50"`
	Email              string   `json:"email" validate:"required,email"`
	HomePage           *string  `json:"homePage,omitempty" validate:"omitempty,url"`
	Text               string   `json:"text" validate:"required,max=500,sanitized"`
	ParentId           *string  `json:"parentId,omitempty" validate:"omitempty,uuid"`
	CaptchaKey         string   `json:"captchaKey" validate:"required"`
	CaptchaText        string   `json:"captchaText" validate:"required"`
	FileAttachmentUrls []string `json:"fileAttachmentUrls,omitempty" validate:"omitempty,dive,url"`
}

// Envelope converts an accepted submission. The id doubles as the correlation
// key returned to the caller.
func (s Submission) Envelope(id uuid.UUID) (Envelope, error) {
	env := Envelope{
		Id:                 id,
		UserName:           s.UserName,
		Email:              s.Email,
		HomePage:           s.HomePage,
		Text:               s.Text,
		FileAttachmentUrls: s.FileAttachmentUrls,
	}
	if s.ParentId != nil && *s.ParentId != "" {
		parent, err := uuid.Parse(*s.ParentId)
		if err != nil {
			return Envelope{}, err
		}
		env.ParentId = &parent
	}
	if env.IsSelfReply() {
		return Envelope{}, ErrSelfReply
	}
	return env, nil
}
