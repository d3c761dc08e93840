// Package validation wraps a shared validator instance for domain structs.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so errors line up with the wire shape.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldErrors maps a field name to the rule it failed.
type FieldErrors map[string]string

// Error joins field failures in a stable order.
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Struct validates v against its `validate` tags.
// PRE: v is a struct or pointer to struct
// POST: Returns nil, FieldErrors for rule failures, or the validator's own error
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := make(FieldErrors, len(ve))
	for _, fieldErr := range ve {
		out[fieldErr.Field()] = fieldErr.Tag()
	}
	return out
}

// IsValidationError reports whether err carries field failures.
func IsValidationError(err error) bool {
	var fe FieldErrors
	return errors.As(err, &fe)
}
