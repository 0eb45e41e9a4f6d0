package util

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("SCOREPIPE_TEST_STR", "from-env")
	if got := GetEnv("SCOREPIPE_TEST_STR", "fallback"); got != "from-env" {
		t.Errorf("GetEnv() = %q, want from-env", got)
	}
	if got := GetEnv("SCOREPIPE_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv() unset = %q, want fallback", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("SCOREPIPE_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("SCOREPIPE_TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
	if got := ParseBoolEnv("SCOREPIPE_TEST_BOOL_UNSET", true); got != true {
		t.Errorf("ParseBoolEnv() unset = %v, want the default", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("SCOREPIPE_TEST_INT", "42")
	if got := ParseIntEnv("SCOREPIPE_TEST_INT", 7); got != 42 {
		t.Errorf("ParseIntEnv() = %d, want 42", got)
	}
	t.Setenv("SCOREPIPE_TEST_INT", " -3 ")
	if got := ParseIntEnv("SCOREPIPE_TEST_INT", 7); got != -3 {
		t.Errorf("ParseIntEnv() trimmed = %d, want -3", got)
	}
	t.Setenv("SCOREPIPE_TEST_INT", "forty-two")
	if got := ParseIntEnv("SCOREPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv() invalid = %d, want the default", got)
	}
	if got := ParseIntEnv("SCOREPIPE_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("ParseIntEnv() unset = %d, want the default", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("SCOREPIPE_TEST_FLOAT", "0.75")
	if got := ParseFloatEnv("SCOREPIPE_TEST_FLOAT", 0.5); got != 0.75 {
		t.Errorf("ParseFloatEnv() = %v, want 0.75", got)
	}
	t.Setenv("SCOREPIPE_TEST_FLOAT", "three")
	if got := ParseFloatEnv("SCOREPIPE_TEST_FLOAT", 0.5); got != 0.5 {
		t.Errorf("ParseFloatEnv() invalid = %v, want the default", got)
	}
	if got := ParseFloatEnv("SCOREPIPE_TEST_FLOAT_UNSET", 0.5); got != 0.5 {
		t.Errorf("ParseFloatEnv() unset = %v, want the default", got)
	}
}
