package app

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"gelato-costing/internal/core"
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON name so errors match what the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ProcessValidationErrors maps each failing field to the tag it failed.
func ProcessValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return out
	}
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

// validateRequest runs struct tags and converts failures to a core.ValidationError.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	fields := ProcessValidationErrors(err)
	if len(fields) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s failed %q", trimNamespace(name), fields[name]))
	}
	return &core.ValidationError{Field: trimNamespace(names[0]), Message: strings.Join(parts, "; ")}
}

// trimNamespace drops the leading struct name validator puts on every path.
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
