package middleware

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// ValidateStruct checks validate tags and returns the first failure as a *analysis.ValidationError
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid("", err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return domain.Invalid(fe.Field(), "is required")
	case "notblank":
		return domain.Invalid(fe.Field(), "must not be blank")
	case "max":
		return domain.Invalid(fe.Field(), "must be at most "+fe.Param()+" characters")
	case "dive":
		return domain.Invalid(fe.Field(), "contains an invalid element")
	default:
		return domain.Invalid(fe.Field(), "failed "+fe.Tag()+" validation")
	}
}

// ParseLimit reads the list limit query value.
// Empty means the default; a non-integer is a validation error.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.DefaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid("limit", "must be an integer")
	}
	if limit <= 0 {
		return domain.DefaultListLimit, nil
	}
	return limit, nil
}
