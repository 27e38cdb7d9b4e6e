package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestImageFileName(t *testing.T) {
	url := "https://cdn.example.com/p/123.jpg?w=800"
	name := ImageFileName(url)
	if name != ImageFileName(url) {
		t.Error("same URL should give same name")
	}
	sum := sha256.Sum256([]byte(url))
	want := hex.EncodeToString(sum[:])[:24] + ".jpg"
	if name != want {
		t.Errorf("ImageFileName = %q, want %q", name, want)
	}
	if len(name) != 28 || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("unexpected shape %q", name)
	}
}

func TestImageFileName_differentURLs(t *testing.T) {
	if ImageFileName("https://a/1.jpg") == ImageFileName("https://a/2.jpg") {
		t.Error("different URLs should give different names")
	}
	if ImageFileName("") == "" {
		t.Error("empty URL still yields a name")
	}
}
