package api

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

var fieldNamesOnce sync.Once

// registerFieldNames makes validation errors report the JSON field name
// ("hr") rather than the Go one ("HR").
func registerFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
}

// toValidationError converts a binding failure into the first offending
// field and its rule.
func toValidationError(err error) *domain.ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.NewValidationError(fe.Field(), describeRule(fe), fe.Value())
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}

	return domain.NewValidationError("body", err.Error(), nil)
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed the " + fe.Tag() + " check"
	}
}
