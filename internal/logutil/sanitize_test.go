package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line1\nline2", "line1 line2"},
		{"a\r\nb\tc", "a  b c"},
		{"bell\x07null\x00", "bell null "},
		{"unicode é ok", "unicode é ok"},
	}
	for _, c := range cases {
		if got := SanitizeForLog(c.in); got != c.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short, 10) = %q", got)
	}
	if got := Truncate("0123456789", 4); got != "0123..." {
		t.Errorf("Truncate = %q, want 0123...", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Errorf("Truncate with max 0 = %q", got)
	}
}
