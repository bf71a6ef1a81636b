package binder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	return fmt.Sprintf("%q should be of type %s", strings.Trim(err.Field, "."), err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "date":
		return fmt.Sprintf("%q should be in the format of YYYY-MM-DD", field)
	case "gt":
		return fmt.Sprintf("%q must be greater than %s", field, err.Param())
	case "gte":
		return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
	case "lte":
		return fmt.Sprintf("%q must be less than or equal to %s", field, err.Param())
	case "max":
		return fmt.Sprintf("%q must be less than or equal to %s", field, err.Param())
	case "min":
		return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
	case "ne":
		return fmt.Sprintf("%q can't be %q", field, err.Param())
	case "oneof":
		valids := []string{}
		for _, p := range strings.Fields(err.Param()) {
			valids = append(valids, fmt.Sprintf("%q", p))
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(valids, ", "))
	case "required":
		return fmt.Sprintf("%q is required", field)
	default:
		return fmt.Sprintf("%q is invalid", field)
	}
}
