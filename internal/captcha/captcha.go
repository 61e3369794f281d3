// Package captcha issues image challenges and checks their one-time answers.
package captcha

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mojocn/base64Captcha"

	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/runtime/config"
)

// Challenge is returned to the client. ID is a UUID so an accepted comment
// can reuse it as its correlation id.
type Challenge struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// Gate issues challenges and validates answers. Each answer can be checked
// once; it is removed on the first attempt whether or not it matched.
type Gate struct {
	driver base64Captcha.Driver
	store  base64Captcha.Store
}

var _ comments.CaptchaGate = (*Gate)(nil)

func NewGate(cfg config.CaptchaConfig, store base64Captcha.Store) *Gate {
	return &Gate{
		driver: base64Captcha.NewDriverDigit(cfg.Height, cfg.Width, cfg.Length, 0.7, 80),
		store:  store,
	}
}

func (g *Gate) Issue(ctx context.Context) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}
	_, content, answer := g.driver.GenerateIdQuestionAnswer()
	item, err := g.driver.DrawCaptcha(content)
	if err != nil {
		return Challenge{}, err
	}
	id := uuid.NewString()
	if err := g.store.Set(id, answer); err != nil {
		return Challenge{}, err
	}
	return Challenge{ID: id, Image: item.EncodeB64string()}, nil
}

// Validate reports whether text answers the challenge key. Comparison ignores
// case and surrounding whitespace.
func (g *Gate) Validate(ctx context.Context, key, text string) bool {
	text = strings.TrimSpace(text)
	if key == "" || text == "" || ctx.Err() != nil {
		return false
	}
	expected := g.store.Get(key, true)
	return expected != "" && strings.EqualFold(expected, text)
}
