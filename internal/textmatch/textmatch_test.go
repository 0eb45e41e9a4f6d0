package textmatch

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced\tout  ", "spaced out"},
		{"don't stop", "don't stop"},
		{"UPPER-case...text", "upper case text"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContains(t *testing.T) {
	if !Contains("Hello, this is Sam speaking.", "this is") {
		t.Error("expected normalized substring match")
	}
	if !Contains("THANK YOU for calling", "thank you") {
		t.Error("expected case-insensitive match")
	}
	if Contains("hello there", "goodbye") {
		t.Error("unexpected match")
	}
	if Contains("anything", "") {
		t.Error("empty needle must never match")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"same", "same", 0},
		{"recorded", "recroded", 2},
	}
	for _, tc := range cases {
		if got := Levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio("", ""); got != 1 {
		t.Errorf("Ratio of two empty strings = %v, want 1", got)
	}
	if got := Ratio("abcd", "abcd"); got != 1 {
		t.Errorf("Ratio of identical strings = %v, want 1", got)
	}
	if got := Ratio("abcd", "wxyz"); got != 0 {
		t.Errorf("Ratio of disjoint strings = %v, want 0", got)
	}
	got := Ratio("recording", "recroding")
	if got <= 0.7 || got >= 1 {
		t.Errorf("Ratio of near-identical strings = %v, want in (0.7, 1)", got)
	}
}

func TestFuzzyContainsExactSubstring(t *testing.T) {
	ok, sim, window := FuzzyContains("This call may be recorded for quality", "may be recorded", 0.85)
	if !ok || sim != 1.0 {
		t.Fatalf("FuzzyContains exact = (%v, %v), want (true, 1.0)", ok, sim)
	}
	if window != "may be recorded" {
		t.Errorf("window = %q, want normalized needle", window)
	}
}

func TestFuzzyContainsTolerantWindow(t *testing.T) {
	// "recroded" is a transcription slip of "recorded".
	ok, sim, _ := FuzzyContains("this call may be recroded for quality", "may be recorded", 0.8)
	if !ok {
		t.Fatalf("FuzzyContains fuzzy = false (sim %v), want true", sim)
	}
	if sim >= 1.0 || sim < 0.8 {
		t.Errorf("similarity = %v, want in [0.8, 1.0)", sim)
	}
}

func TestFuzzyContainsBelowThreshold(t *testing.T) {
	ok, _, window := FuzzyContains("completely unrelated content here", "may be recorded", 0.85)
	if ok {
		t.Fatal("FuzzyContains = true for unrelated text")
	}
	if window != "" {
		t.Errorf("window = %q, want empty on miss", window)
	}
}

func TestFuzzyContainsEmptyNeedle(t *testing.T) {
	if ok, _, _ := FuzzyContains("some text", "", 0.5); ok {
		t.Fatal("empty needle must never match")
	}
}

func TestPhoneticEquals(t *testing.T) {
	if !PhoneticEquals("recorded", "recorded") {
		t.Error("identical words must be phonetically equal")
	}
	if !PhoneticEquals("smith", "smyth") {
		t.Error("expected smith/smyth to share a phonetic code")
	}
	if PhoneticEquals("hello", "goodbye") {
		t.Error("unrelated words must not be phonetically equal")
	}
	if PhoneticEquals("", "") {
		t.Error("empty strings must not be phonetically equal")
	}
}
