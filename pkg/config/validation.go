package config

import (
	"fmt"
	"strconv"
	"strings"

	errs "coffee-catalog/pkg/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error for field '%s' with value '%s': %s", e.Field, e.Value, e.Message)
}

// Validator collects configuration validation errors.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

func (v *Validator) AddError(field, value, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

func (v *Validator) String() string {
	msgs := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "\n")
}

// Validate checks the loaded configuration. The matching core itself does not
// guard threshold ranges, so the edge is the one place where bad values are
// rejected before a dedup run can see them.
func (c *Config) Validate() error {
	v := NewValidator()

	// API keys are optional: without OpenAI the splitter falls back to
	// the heuristic, without Maps the geocode pass is skipped.
	if c.DatabaseURL == "" {
		v.AddError("DATABASE_URL", c.DatabaseURL, "database URL is required")
	}

	validateUnitInterval(v, "MATCH_NAME_THRESHOLD", c.MatchNameThreshold)
	validateUnitInterval(v, "MATCH_EXACT_THRESHOLD", c.MatchExactThreshold)
	validateUnitInterval(v, "AUTO_MERGE_CONFIDENCE", c.AutoMergeConfidence)
	if c.MatchExactThreshold < c.MatchNameThreshold {
		v.AddError("MATCH_EXACT_THRESHOLD", formatFloat(c.MatchExactThreshold),
			"exact threshold must not be below the name threshold")
	}

	if c.DBMaxOpenConns <= 0 {
		v.AddError("DB_MAX_OPEN_CONNS", strconv.Itoa(c.DBMaxOpenConns), "must be positive")
	}
	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		v.AddError("DB_MAX_IDLE_CONNS", strconv.Itoa(c.DBMaxIdleConns), "must be between 0 and DB_MAX_OPEN_CONNS")
	}
	if c.DedupWorkerCount < 0 {
		v.AddError("DEDUP_WORKER_COUNT", strconv.Itoa(c.DedupWorkerCount), "must not be negative")
	}
	if c.ScrapeRPS <= 0 {
		v.AddError("SCRAPE_RPS", strconv.Itoa(c.ScrapeRPS), "must be positive")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		v.AddError("LOG_FORMAT", c.LogFormat, "must be \"json\" or \"text\"")
	}

	switch c.Env {
	case "development", "staging", "production":
	default:
		v.AddError("ENV", c.Env, "must be development, staging or production")
	}

	if v.HasErrors() {
		return errs.NewValidation("config.Validate",
			fmt.Sprintf("configuration validation failed:\n%s", v.String()), nil)
	}
	return nil
}

func validateUnitInterval(v *Validator, field string, value float64) {
	if value < 0.0 || value > 1.0 {
		v.AddError(field, formatFloat(value), "must be within [0,1]")
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
