// Package validation decodes and validates request bodies and query strings. Error messages
// name fields the way clients send them (JSON or query parameter names).
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/retailiq/hub/internal/api/response"
)

// monthKeyLayout is the workspace id format.
const monthKeyLayout = "2006-01"

// validate and decoder are configured once here and only read afterwards;
// both are safe for concurrent Struct/Decode calls.
var (
	validate = newValidator()
	decoder  = form.NewDecoder()
)

var customValidators = map[string]validator.Func{
	"month_key":     validateMonthKey,
	"no_null_bytes": validateNoNullBytes,
}

// messages renders a failed tag for a field. %[1]s is the field, %[2]s the tag parameter.
var messages = map[string]string{
	"required":      "%[1]s is required",
	"min":           "%[1]s must be at least %[2]s",
	"max":           "%[1]s must be at most %[2]s",
	"gte":           "%[1]s must be greater than or equal to %[2]s",
	"lte":           "%[1]s must be less than or equal to %[2]s",
	"oneof":         "%[1]s must be one of: %[2]s",
	"uuid":          "%[1]s must be a valid UUID",
	"month_key":     "%[1]s must be a month in YYYY-MM format",
	"no_null_bytes": "%[1]s must not contain NULL bytes",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(wireName)

	for tag, fn := range customValidators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validation: register %s: %v", tag, err))
		}
	}

	return v
}

// wireName returns the json name, else the form name, else the Go field name.
func wireName(f reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}

		if name != "" {
			return name
		}
	}

	return f.Name
}

// ValidateStruct validates s. The returned error wraps validator.ValidationErrors, so
// RespondValidationError can still list every field.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}

	parts := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		parts[i] = fieldMessage(fe)
	}

	return fmt.Errorf("validation failed: %s: %w", strings.Join(parts, "; "), fieldErrs)
}

func fieldMessage(fe validator.FieldError) string {
	format, ok := messages[fe.Tag()]
	if !ok {
		return fe.Field() + " is invalid"
	}

	return fmt.Sprintf(format, fe.Field(), fe.Param())
}

// ValidateAndDecodeQueryParams decodes r's query string into dst and validates it.
func ValidateAndDecodeQueryParams(r *http.Request, dst any) error {
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("invalid query parameters: %w", err)
	}

	return ValidateStruct(dst)
}

// RespondValidationError writes a 400 problem listing each invalid field.
func RespondValidationError(w http.ResponseWriter, err error) {
	var details []response.ErrorDetail

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details = make([]response.ErrorDetail, len(fieldErrs))
		for i, fe := range fieldErrs {
			details[i] = response.ErrorDetail{Location: fe.Field(), Message: fieldMessage(fe), Value: fe.Value()}
		}
	}

	response.RespondProblem(w, response.ProblemDetails{
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
		Errors: details,
	})
}

func validateMonthKey(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}

	_, err := time.Parse(monthKeyLayout, fl.Field().String())

	return err == nil
}

// validateNoNullBytes accepts string and *string; a nil pointer passes.
func validateNoNullBytes(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}

		field = field.Elem()
	}

	return field.Kind() != reflect.String || !strings.ContainsRune(field.String(), 0)
}
