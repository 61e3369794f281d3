// Package validation checks inbound submissions before they are queued.
package validation

import (
	"errors"
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/drblury/commentflow/internal/comments"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
)

// Validator applies the struct tags of comments.Submission plus the
// "sanitized" rule.
type Validator struct {
	validate *validator.Validate
	policy   *bluemonday.Policy
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		policy:   bluemonday.UGCPolicy(),
	}
	v.validate.RegisterTagNameFunc(jsonFieldName)
	// Registration only fails for an empty tag or nil func.
	_ = v.validate.RegisterValidation("sanitized", v.isSanitized)
	return v
}

// Validate reports whether sub is acceptable and, if not, every field that
// failed. Field names are the JSON names the client sent.
func (v *Validator) Validate(sub comments.Submission) (bool, []errspkg.FieldError) {
	err := v.validate.Struct(sub)
	if err == nil {
		return true, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false, []errspkg.FieldError{{Field: "", Rule: "invalid", Message: err.Error()}}
	}

	fields := make([]errspkg.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errspkg.FieldError{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return false, fields
}

// Check is Validate folded into an error.
func (v *Validator) Check(sub comments.Submission) error {
	if ok, fields := v.Validate(sub); !ok {
		return &errspkg.ValidationError{Fields: fields}
	}
	return nil
}

// isSanitized holds when the HTML policy leaves the text unchanged. Entity
// escaping alone does not count as a change, so "a & b" passes.
func (v *Validator) isSanitized(fl validator.FieldLevel) bool {
	text := fl.Field().String()
	return html.UnescapeString(v.policy.Sanitize(text)) == html.UnescapeString(text)
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldPath drops the struct name from the namespace so nested elements read
// as "fileAttachmentUrls[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "alphanum":
		return "must contain only letters and digits"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	case "sanitized":
		return "contains markup that is not allowed"
	default:
		return fmt.Sprintf("failed the %q rule", fe.Tag())
	}
}
