package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate_Cache(t *testing.T) {
	tests := []struct {
		name      string
		dir       string
		maxSizeMB int64
		hasError  bool
	}{
		{"defaults", "", -1, false},
		{"absolute dir", "/var/cache/jnlp", 100, false},
		{"zero size", "", 0, false},
		{"null byte", "/tmp/a\x00b", -1, true},
		{"too long", "/" + strings.Repeat("a", 4097), -1, true},
		{"negative size", "", -2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Cache.Dir = tt.dir
			cfg.Cache.MaxSizeMB = tt.maxSizeMB
			errs := cfg.Validate()
			if hasError := len(errs) > 0; hasError != tt.hasError {
				t.Errorf("Validate() hasError = %v, want %v (errors: %v)", hasError, tt.hasError, errs)
			}
			for _, e := range errs {
				if !strings.HasPrefix(e.Field, "cache.") {
					t.Errorf("unexpected field %s", e.Field)
				}
			}
		})
	}
}

func TestConfig_Validate_Fetch(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*FetchConfig)
		field  string
	}{
		{"connect timeout", func(f *FetchConfig) { f.ConnectTimeoutMs = -1 }, "fetch.connect_timeout_ms"},
		{"read timeout", func(f *FetchConfig) { f.ReadTimeoutMs = -5 }, "fetch.read_timeout_ms"},
		{"max candidates", func(f *FetchConfig) { f.MaxCandidates = -1 }, "fetch.max_candidates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg.Fetch)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_Validate_Progress(t *testing.T) {
	tests := []struct {
		name     string
		known    int
		unknown  int
		errCount int
	}{
		{"defaults", 16, 256, 0},
		{"one byte steps", 1, 1, 0},
		{"zero known", 0, 256, 1},
		{"negative unknown", 16, -1, 1},
		{"both too large", 65537, 70000, 2},
		{"at maximum", 65536, 65536, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Progress.KnownChunkKB = tt.known
			cfg.Progress.UnknownChunkKB = tt.unknown
			errs := cfg.Validate()
			if len(errs) != tt.errCount {
				t.Errorf("Validate() returned %d errors, want %d: %v", len(errs), tt.errCount, errs)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		maxSizeMB  int
		maxBackups int
		hasError   bool
	}{
		{"valid debug", "debug", 5, 3, false},
		{"valid error", "error", 5, 0, false},
		{"empty level", "", 5, 3, false},
		{"invalid level", "verbose", 5, 3, true},
		{"case sensitive", "INFO", 5, 3, true},
		{"zero size", "info", 0, 3, true},
		{"huge size", "info", 1001, 3, true},
		{"negative backups", "info", 5, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Logging.Level = tt.level
			cfg.Logging.MaxSizeMB = tt.maxSizeMB
			cfg.Logging.MaxBackups = tt.maxBackups
			errs := cfg.Validate()
			if hasError := len(errs) > 0; hasError != tt.hasError {
				t.Errorf("Validate() hasError = %v, want %v (errors: %v)", hasError, tt.hasError, errs)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxSizeMB = -10
	cfg.Fetch.ReadTimeoutMs = -1
	cfg.Progress.KnownChunkKB = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 4 {
		t.Fatalf("Validate() returned %d errors, want 4: %v", len(errs), errs)
	}
	want := []string{"cache.max_size_mb", "fetch.read_timeout_ms", "progress.known_chunk_kb", "logging.level"}
	for i, field := range want {
		if errs[i].Field != field {
			t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, field)
		}
	}
}
