package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"unset uses default", "", true, true},
		{"true value", "true", false, true},
		{"numeric true", "1", false, true},
		{"yes value", "YES", false, true},
		{"false value", "false", true, false},
		{"off value", "off", true, false},
		{"invalid uses default", "maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TALLERBOT_TEST_BOOL", tt.value)
			}
			if got := ParseBoolEnv("TALLERBOT_TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("TALLERBOT_TEST_FLOAT", "42.5")
	if got := ParseFloatEnv("TALLERBOT_TEST_FLOAT", 10); got != 42.5 {
		t.Errorf("ParseFloatEnv = %v, want 42.5", got)
	}
	t.Setenv("TALLERBOT_TEST_FLOAT", "not-a-number")
	if got := ParseFloatEnv("TALLERBOT_TEST_FLOAT", 10); got != 10 {
		t.Errorf("ParseFloatEnv invalid = %v, want default 10", got)
	}
	if got := ParseFloatEnv("TALLERBOT_TEST_FLOAT_UNSET", 7); got != 7 {
		t.Errorf("ParseFloatEnv unset = %v, want default 7", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TALLERBOT_TEST_INT", "8081")
	if got := ParseIntEnv("TALLERBOT_TEST_INT", 8080); got != 8081 {
		t.Errorf("ParseIntEnv = %v, want 8081", got)
	}
	t.Setenv("TALLERBOT_TEST_INT", "4.5")
	if got := ParseIntEnv("TALLERBOT_TEST_INT", 8080); got != 8080 {
		t.Errorf("ParseIntEnv invalid = %v, want default 8080", got)
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("TALLERBOT_TEST_STR", "custom")
	if got := GetEnvDefault("TALLERBOT_TEST_STR", "fallback"); got != "custom" {
		t.Errorf("GetEnvDefault = %q, want custom", got)
	}
	if got := GetEnvDefault("TALLERBOT_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnvDefault unset = %q, want fallback", got)
	}
}
