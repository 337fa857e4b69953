package domain

import "testing"

func TestCanonicalUserID_Variants(t *testing.T) {
	cases := map[string]string{
		"8801712345678@c.us":  "8801712345678",
		"8801712345678@lid":   "8801712345678",
		"+880 1712-345678":    "8801712345678",
		"8801712345678":       "8801712345678",
		"  8801712345678  ":   "8801712345678",
		"৮৮০১৭১২৩৪৫৬৭৮@c.us":  "8801712345678",
		"８８０１７１２３４５６７８":       "8801712345678",
		"Agent-X":             "agent-x",
		"":                    "",
	}
	for raw, want := range cases {
		if got := CanonicalUserID(raw); got != want {
			t.Errorf("CanonicalUserID(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestSameUser_SuffixMatch(t *testing.T) {
	if !SameUser("8801712345678@c.us", "01712345678") {
		t.Fatal("expected country-code and national formats to match")
	}
	if SameUser("8801712345678", "8801799999999") {
		t.Fatal("different numbers must not match")
	}
	if SameUser("", "8801712345678") {
		t.Fatal("empty identity must never match")
	}
}

func TestFoldDigits(t *testing.T) {
	if got := FoldDigits("১০০০"); got != "1000" {
		t.Fatalf("FoldDigits = %q, want 1000", got)
	}
	if got := FoldDigits("no digits"); got != "no digits" {
		t.Fatalf("FoldDigits should pass through plain text, got %q", got)
	}
}
