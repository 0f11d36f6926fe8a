package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ValidateUsername(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("reaction", func(fl validator.FieldLevel) bool {
		_, ok := reactionNames[fl.Field().String()]
		return ok
	})
	return v
}

// reactionNames mirrors models.ReactionTypes; models depends on this package, not the reverse.
var reactionNames = map[string]struct{}{
	"like": {}, "unicorn": {}, "exploding_head": {}, "fire": {}, "heart": {}, "rocket": {},
}

// FieldError describes the first failing field of a request struct.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (e *FieldError) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", e.Field, e.Param)
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", e.Field, e.Param)
	case "email":
		return fmt.Sprintf("%s must be a valid email", e.Field)
	case "username":
		return fmt.Sprintf("%s must be 3-30 letters, numbers, underscores or hyphens", e.Field)
	case "reaction":
		return fmt.Sprintf("%s is not a supported reaction", e.Field)
	default:
		return fmt.Sprintf("%s is invalid", e.Field)
	}
}

// Struct validates s against its `validate` tags and returns a *FieldError
// for the first violation.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return err
}
