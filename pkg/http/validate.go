package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their query or json name, the way the
// client spelled them.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// RegisterValidation adds a custom tag usable by every request struct.
func RegisterValidation(tag string, fn validator.Func) error {
	return validate.RegisterValidation(tag, fn)
}

// ReadAndValidateRequest binds path, query and body into req, applies
// `default` tags to what the client left empty and validates the result.
// It returns nil or a []ValidationError suitable for BadRequestResponse.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Params:  fieldParams(fe),
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_BIND", Message: msg}}
}

func fieldMessage(fe validator.FieldError) string {
	f, p := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "alphanum":
		return f + " must contain only letters and digits"
	case "datetime":
		return fmt.Sprintf("%s must be a date formatted as %s", f, p)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, strings.ReplaceAll(p, " ", ", "))
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be %s %s characters", f, bound, p)
		}
		return fmt.Sprintf("%s must be %s %s", f, bound, p)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", f, p)
	case "lte":
		return fmt.Sprintf("%s must be <= %s", f, p)
	case "timeframe":
		return f + " is not a supported timeframe"
	default:
		return fmt.Sprintf("%s failed %s validation", f, fe.Tag())
	}
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	p := fe.Param()
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": p}
	case "max", "lte":
		return map[string]interface{}{"max": p}
	case "datetime":
		return map[string]interface{}{"layout": p}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(p)}
	}
	return nil
}
