package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers surftrail-specific validation
// rules. Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates time.ParseDuration strings like "10s".
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags plus cross-field
// rules, returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// ParseDurations resolves the duration-typed string fields, assuming
// Validate already passed.
type Durations struct {
	APITimeout      time.Duration
	HostSync        time.Duration
	Debounce        time.Duration
	StartupInterval time.Duration
	Heartbeat       time.Duration
}

// ParseDurations converts the validated duration strings.
func (c *Config) ParseDurations() (Durations, error) {
	var d Durations
	var err error
	if d.APITimeout, err = time.ParseDuration(c.API.Timeout); err != nil {
		return d, fmt.Errorf("api.timeout: %w", err)
	}
	if d.HostSync, err = time.ParseDuration(c.Hosts.SyncInterval); err != nil {
		return d, fmt.Errorf("hosts.sync_interval: %w", err)
	}
	if d.Debounce, err = time.ParseDuration(c.Session.Debounce); err != nil {
		return d, fmt.Errorf("session.debounce: %w", err)
	}
	if d.StartupInterval, err = time.ParseDuration(c.Session.StartupInterval); err != nil {
		return d, fmt.Errorf("session.startup_interval: %w", err)
	}
	if d.Heartbeat, err = time.ParseDuration(c.Heartbeat.Interval); err != nil {
		return d, fmt.Errorf("heartbeat.interval: %w", err)
	}
	return d, nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
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
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "http_url":
		return fmt.Sprintf("%s must be a valid http(s) URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"10s\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
