package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("tag_level", validateTagLevel); err != nil {
		panic(fmt.Sprintf("failed to register tag_level validator: %v", err))
	}
	if err := Validate.RegisterValidation("content_kind", validateContentKind); err != nil {
		panic(fmt.Sprintf("failed to register content_kind validator: %v", err))
	}
}

// validateTagLevel validates that a string is a valid TagLevel enum value
func validateTagLevel(fl validator.FieldLevel) bool {
	return models.TagLevel(fl.Field().String()).Valid()
}

// validateContentKind validates that a string is a valid ContentKind enum value
func validateContentKind(fl validator.FieldLevel) bool {
	switch models.ContentKind(fl.Field().String()) {
	case models.KindEvent, models.KindOrganization, models.KindLab:
		return true
	default:
		return false
	}
}

// Struct validates v and flattens validator errors into a single readable error.
func Struct(v any) error {
	err := Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
