package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal time.Duration
		expected   time.Duration
	}{
		{"parses go duration", "TEST_DUR_1", "30s", time.Second, 30 * time.Second},
		{"parses bare seconds", "TEST_DUR_2", "15", time.Second, 15 * time.Second},
		{"uses default for empty", "TEST_DUR_3", "", 10 * time.Second, 10 * time.Second},
		{"uses default for garbage", "TEST_DUR_4", "soon", 10 * time.Second, 10 * time.Second},
		{"uses default for negative", "TEST_DUR_5", "-5s", 10 * time.Second, 10 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsDurationOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsBoolOrDefault(t *testing.T) {
	os.Setenv("TEST_BOOL_1", "true")
	defer os.Unsetenv("TEST_BOOL_1")
	if !getEnvAsBoolOrDefault("TEST_BOOL_1", false) {
		t.Error("Expected true for TEST_BOOL_1")
	}

	os.Setenv("TEST_BOOL_2", "maybe")
	defer os.Unsetenv("TEST_BOOL_2")
	if !getEnvAsBoolOrDefault("TEST_BOOL_2", true) {
		t.Error("Expected default for unparsable bool")
	}
}

func TestLoad_TrackingDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ANALYTICS_BASE_URL", "http://analytics.local")

	cfg := Load()

	if cfg.SanityCeiling != 15*time.Second {
		t.Errorf("Expected sanity ceiling 15s, got %v", cfg.SanityCeiling)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected heartbeat 10s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.ExternalFlushInterval != 30*time.Second {
		t.Errorf("Expected external flush 30s, got %v", cfg.ExternalFlushInterval)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected redis to be disabled by default, got %q", cfg.RedisURL)
	}
}

func TestLoad_TrackingTunables(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ANALYTICS_BASE_URL", "http://analytics.local")
	t.Setenv("TRACK_COMPLETION_TOLERANCE", "500ms")
	t.Setenv("TRACK_REPORT_WINDOW", "8")

	tracking := Load().Tracking()

	if tracking.CompletionTolerance != 500*time.Millisecond {
		t.Errorf("Expected completion tolerance 500ms, got %v", tracking.CompletionTolerance)
	}
	if tracking.ReportWindow != 8*time.Second {
		t.Errorf("Expected report window 8s, got %v", tracking.ReportWindow)
	}
	if tracking.SanityCeiling != 15*time.Second {
		t.Errorf("Expected sanity ceiling 15s, got %v", tracking.SanityCeiling)
	}
}
