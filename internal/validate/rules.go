package validate

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/canvasgate/canvasgate/internal/apierr"
)

// rules is the shared validator. Besides the built-in tags it knows:
//
//	notblank    string has a non-whitespace character
//	runemax=N   string is at most N runes
//	modelname   model name character class
//	resourceid  resource identifier character class
var rules = newRules()

func newRules() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("runemax", validateRuneMax)
	_ = v.RegisterValidation("modelname", func(fl validator.FieldLevel) bool {
		return modelRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("resourceid", func(fl validator.FieldLevel) bool {
		return idRegex.MatchString(fl.Field().String())
	})
	return v
}

func validateRuneMax(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(fl.Field().String()) <= n
}

// checkVar validates a single value against tag.
func checkVar(field string, value any, tag string) error {
	if err := rules.Var(value, tag); err != nil {
		return toValidation(field, err)
	}
	return nil
}

// checkFields validates the named fields of a struct against their tags.
func checkFields(field string, s any, fields ...string) error {
	if err := rules.StructPartial(s, fields...); err != nil {
		return toValidation(field, err)
	}
	return nil
}

// checkAllExcept validates a struct, nested values included, skipping the
// named top-level fields.
func checkAllExcept(field string, s any, skip ...string) error {
	if err := rules.StructExcept(s, skip...); err != nil {
		return toValidation(field, err)
	}
	return nil
}

// toValidation turns the first validator failure into an apierr validation
// error. fallback names the field when the failure carries none.
func toValidation(fallback string, err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apierr.Validation(fallback, "is invalid")
	}
	fe := errs[0]
	field := fe.Field()
	if field == "" {
		field = fallback
	}
	return apierr.Validation(field, reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank", "min":
		return "must not be empty"
	case "max", "runemax":
		if fe.Kind() == reflect.Slice {
			return "too many entries"
		}
		return "exceeds maximum length"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "modelname", "resourceid":
		return "contains unsupported characters"
	}
	return "is invalid"
}
