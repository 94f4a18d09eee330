package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// validate applies the same rules as the request binding tags to callers
// that do not come through gin
var validate = validator.New()

const emailRules = "required,email"

func validateEmail(addr string) error {
	if err := validate.Var(addr, emailRules); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// failedTag reports whether err is a binding failure of field on tag
func failedTag(err error, field, tag string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Field() == field && fe.Tag() == tag {
			return true
		}
	}
	return false
}
