package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidEmail is returned when an address does not parse as RFC 5322
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmailTooLong is returned when an address exceeds the column width
	ErrEmailTooLong = errors.New("email must be at most 256 characters")

	// identifierRegex matches module and question identifiers: letters, digits, '_' and '-'
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]{0,127}$`)
)

// V is the shared struct validator.
var V = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRegex.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates s and returns a field -> message map, or nil when valid.
func Struct(s any) map[string]string {
	err := V.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return fields
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "identifier":
		return "must contain only letters, digits, '_' or '-'"
	case "required_without", "excluded_with":
		return "exactly one recipient must be given"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// NormalizeEmail trims and validates an email address
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if len(email) > 256 {
		return "", ErrEmailTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// IsIdentifier reports whether s is a valid module or question identifier
func IsIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

// SafeRedirect returns next if it is a same-site path (or an absolute URL under
// baseURL, rewritten to a path); otherwise it returns fallback.
func SafeRedirect(next, baseURL, fallback string) string {
	next = strings.TrimSpace(next)
	if baseURL != "" && strings.HasPrefix(next, baseURL+"/") {
		next = strings.TrimPrefix(next, baseURL)
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}
