package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "fetch.read_timeout_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateCache()...)
	errors = append(errors, c.validateFetch()...)
	errors = append(errors, c.validateProgress()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateCache validates the CacheConfig
func (c *Config) validateCache() []ValidationError {
	var errors []ValidationError

	if dir := c.Cache.Dir; dir != "" {
		// Check for null bytes which are invalid in paths
		if strings.ContainsRune(dir, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "cache.dir",
				Value:   dir,
				Message: "path contains invalid null character",
			})
		}

		const maxPathLength = 4096
		if len(dir) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "cache.dir",
				Value:   dir,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	// -1 means unlimited; other negatives are a typo
	if c.Cache.MaxSizeMB < -1 {
		errors = append(errors, ValidationError{
			Field:   "cache.max_size_mb",
			Value:   c.Cache.MaxSizeMB,
			Message: "must be -1 (unlimited) or non-negative",
		})
	}

	return errors
}

// validateFetch validates the FetchConfig
func (c *Config) validateFetch() []ValidationError {
	var errors []ValidationError

	if c.Fetch.ConnectTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "fetch.connect_timeout_ms",
			Value:   c.Fetch.ConnectTimeoutMs,
			Message: "must be non-negative",
		})
	}
	if c.Fetch.ReadTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "fetch.read_timeout_ms",
			Value:   c.Fetch.ReadTimeoutMs,
			Message: "must be non-negative",
		})
	}
	if c.Fetch.MaxCandidates < 0 {
		errors = append(errors, ValidationError{
			Field:   "fetch.max_candidates",
			Value:   c.Fetch.MaxCandidates,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateProgress validates the ProgressConfig
func (c *Config) validateProgress() []ValidationError {
	var errors []ValidationError

	const maxChunkKB = 64 * 1024 // 64MB
	chunks := []struct {
		field string
		value int
	}{
		{"progress.known_chunk_kb", c.Progress.KnownChunkKB},
		{"progress.unknown_chunk_kb", c.Progress.UnknownChunkKB},
	}
	for _, ch := range chunks {
		if ch.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   ch.field,
				Value:   ch.value,
				Message: "must be positive",
			})
		} else if ch.value > maxChunkKB {
			errors = append(errors, ValidationError{
				Field:   ch.field,
				Value:   ch.value,
				Message: fmt.Sprintf("exceeds maximum of %dKB", maxChunkKB),
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
