package apperr

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
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Check validates the struct tags of v and returns a VALIDATION_FAILED
// error describing the first offending field.
func Check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return Wrap(KindValidation, CodeValidation, err, "invalid request")
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return Validation(fmt.Sprintf("%s is required", fe.Field()))
	case "email":
		return Validation(fmt.Sprintf("%s must be a valid email address", fe.Field()))
	case "oneof":
		return Validation(fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
	case "min", "gte":
		return Validation(fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
	case "max", "lte":
		return Validation(fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
	default:
		return Validation(fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
}
