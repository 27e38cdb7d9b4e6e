package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("シャツとズボン", 3); got != "シャツ..." {
		t.Errorf("multi-byte: got %s", got)
	}
}

func TestIsNullMarker(t *testing.T) {
	for _, s := range []string{"", "  ", "nan", "NaN", " NAN "} {
		if !IsNullMarker(s) {
			t.Errorf("IsNullMarker(%q) = false", s)
		}
	}
	for _, s := range []string{"cotton", "banana"} {
		if IsNullMarker(s) {
			t.Errorf("IsNullMarker(%q) = true", s)
		}
	}
}
