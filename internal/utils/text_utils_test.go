package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("under limit = %q, want unchanged", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Errorf("no limit = %q, want unchanged", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("ascii cut = %q, want abc", got)
	}
}

func TestTruncate_NeverSplitsRune(t *testing.T) {
	// One ASCII byte then 200 three-byte runes; a cut at 300 bytes lands
	// mid-rune and must back off to the previous boundary.
	s := "a" + strings.Repeat("€", 200)

	got := Truncate(s, 300)
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
	if len(got) > 300 {
		t.Errorf("len = %d, want <= 300", len(got))
	}
	if len(got) != 298 {
		t.Errorf("len = %d, want 298 (last full rune below the limit)", len(got))
	}
}

func TestTruncateText_MarksTheCut(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	if got := tp.TruncateText("short", 100); got != "short" {
		t.Errorf("under limit = %q, want unchanged", got)
	}

	got := tp.TruncateText(strings.Repeat("x", 50), 10)
	if !strings.HasPrefix(got, strings.Repeat("x", 10)) {
		t.Errorf("cut = %q, want 10 leading bytes kept", got)
	}
	if !strings.Contains(got, "Content truncated") {
		t.Errorf("cut = %q, want truncation marker", got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	if got := tp.SanitizeUTF8("héllo"); got != "héllo" {
		t.Errorf("valid input = %q, want unchanged", got)
	}
	if got := tp.SanitizeUTF8("bad\xffbyte"); got != "badbyte" {
		t.Errorf("invalid input = %q, want badbyte", got)
	}
}

func TestProcessText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	got := tp.ProcessText("ok\xff"+strings.Repeat("y", 50), 10)
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(got, "oky") {
		t.Errorf("result = %q, want invalid byte dropped", got)
	}
}
