package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error for a specific field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResponse is returned with 422 when a request body is rejected
type ValidationResponse struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// fieldErrors flattens validator errors found anywhere in err's chain.
// Errors that do not come from the validator become a single entry with
// an empty field.
func fieldErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error(), Code: "invalid"}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

// fieldPath drops the root struct name: "Style.color_dark" -> "color_dark",
// "CodeDocument.content.wifi.encryption" -> "content.wifi.encryption".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "hexcolor":
		return fmt.Sprintf("Field '%s' must be a valid color (e.g., #8A2BE2)", fe.Field())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of: %s", fe.Field(), strings.Join(strings.Fields(fe.Param()), ", "))
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed %s validation", fe.Field(), fe.Tag())
	}
}

func (h *AppHandler) writeValidationError(w http.ResponseWriter, err error) {
	h.writeJSON(w, http.StatusUnprocessableEntity, ValidationResponse{
		Valid:  false,
		Errors: fieldErrors(err),
	})
}
