package httpx

import (
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports json field names. Besides
// the built-in tags it understands maxbytes=N, a limit on the encoded length
// of a string rather than its rune count.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("maxbytes", maxBytes)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldErrors flattens validator output into field -> rule.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

// ValidationProblem renders a 400 listing the offending fields.
func ValidationProblem(w http.ResponseWriter, err error) {
	fields := FieldErrors(err)
	if len(fields) == 0 {
		ProblemCode(w, http.StatusBadRequest, "validation_failed", "Validation Failed", "malformed request body")
		return
	}
	parts := make([]string, 0, len(fields))
	for field, rule := range fields {
		parts = append(parts, field+": "+rule)
	}
	sort.Strings(parts)
	ProblemCode(w, http.StatusBadRequest, "validation_failed", "Validation Failed", strings.Join(parts, "; "))
}

func maxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}
