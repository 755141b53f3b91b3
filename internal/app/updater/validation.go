package updater

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/shrinkrank/internal/domain/model"
)

// NewValidator returns a validator that names fields by their JSON keys and
// knows the custom tags used on model.SubmissionResult.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Rejects NaN and infinities, which every comparison tag lets through
	// in one direction or the other.
	_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	})

	// Table cells cannot span lines.
	_ = validate.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})

	return validate
}

// validationError turns validator output into one readable ErrInvalidResult.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %w", model.ErrInvalidResult, err)
	}

	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("missing value for required field '%s'", field))
		case "gt", "gte", "lt", "lte", "max", "ne":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s should be %s, got %v", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("%w: %s", model.ErrInvalidResult, strings.Join(msgs, ", "))
}
