package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/riptide-ws/riptide/internal/domain/ratelimit"
)

// Validate validates the ServerConfig using struct tags plus cross-field
// rules that validator's tag language can't express on its own.
func (c *ServerConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validateRateLimitPeriod(); err != nil {
		return err
	}
	return nil
}

// validateRateLimitPeriod ensures a parseable period is set whenever rate
// limiting is enabled, mirroring the way the rate limiter itself parses
// period strings.
func (c *ServerConfig) validateRateLimitPeriod() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if strings.TrimSpace(c.RateLimit.Period) == "" {
		return errors.New("rate_limit.period is required when rate_limit.enabled is true")
	}
	if _, err := ratelimit.ParsePeriod(c.RateLimit.Period); err != nil {
		return fmt.Errorf("rate_limit.period: %w", err)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into a single
// user-friendly message, joining every failing field.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required given the other field's value", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
