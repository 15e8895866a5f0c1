// Package validators holds the shared request validator.
package validators

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// New returns the process-wide validator. Field errors are reported by their
// json names.
func New() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Message flattens validation errors into one readable line.
func Message(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch {
		case fe.Param() != "":
			parts = append(parts, fe.Field()+" must satisfy "+fe.Tag()+"="+fe.Param())
		default:
			parts = append(parts, fe.Field()+" is "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}
