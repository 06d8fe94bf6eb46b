package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var msgs []string
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+boundMessage(fe.Kind(), "at least", param))
		case "max":
			msgs = append(msgs, field+boundMessage(fe.Kind(), "at most", param))
		case "gt":
			msgs = append(msgs, field+" must be greater than "+param)
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}

	return errors.New(strings.Join(msgs, ", "))
}

// boundMessage words a min/max failure for the kind of field it applies to.
func boundMessage(kind reflect.Kind, bound, param string) string {
	switch kind {
	case reflect.String:
		return " must have " + bound + " " + param + " characters"
	case reflect.Slice, reflect.Array, reflect.Map:
		return " must have " + bound + " " + param + " items"
	default:
		return " must be " + bound + " " + param
	}
}
