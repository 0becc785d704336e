package auth

import (
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const maxReactionRunes = 16

// NewValidator returns the validator used on every inbound payload. It
// knows the "reaction" tag on top of the built-in ones.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("reaction", func(fl validator.FieldLevel) bool {
		return isReaction(fl.Field().String())
	})
	return v
}

// isReaction accepts short printable tokens without whitespace, which
// covers emoji with modifiers and joiners.
func isReaction(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > maxReactionRunes {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
