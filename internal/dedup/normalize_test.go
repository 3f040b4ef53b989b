package dedup

import (
	"testing"

	"herald/internal/content"
)

func TestNormalizeURLYouTubeVariants(t *testing.T) {
	t.Parallel()
	want := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	variants := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&feature=share",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=AbCdEf123",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ",
	}
	for _, v := range variants {
		if got := NormalizeURL(v); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeURLTweetVariants(t *testing.T) {
	t.Parallel()
	want := "https://twitter.com/someuser/status/1234567890123456789"
	variants := []string{
		"https://twitter.com/SomeUser/status/1234567890123456789",
		"https://x.com/someuser/status/1234567890123456789?s=20&t=xyz",
		"https://mobile.twitter.com/someuser/status/1234567890123456789",
		"https://vxtwitter.com/someuser/status/1234567890123456789",
		"https://fxtwitter.com/someuser/status/1234567890123456789",
		"https://twitter.com/someuser/status/1234567890123456789/photo/1",
	}
	for _, v := range variants {
		if got := NormalizeURL(v); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeURLGeneric(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"https://example.com/a/b/?utm_source=x&utm_medium=y", "https://example.com/a/b"},
		{"http://WWW.Example.com/page#frag", "https://example.com/page"},
		{"  https://example.com/x  ", "https://example.com/x"},
		{"not a url at all", "not a url at all"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURLIsPure(t *testing.T) {
	t.Parallel()
	in := "https://youtu.be/abc123XYZ_-"
	first := NormalizeURL(in)
	for i := 0; i < 3; i++ {
		if got := NormalizeURL(in); got != first {
			t.Fatalf("NormalizeURL not deterministic: %q vs %q", got, first)
		}
	}
}

func TestExtractID(t *testing.T) {
	t.Parallel()
	platform, id, ok := ExtractID("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if !ok || platform != content.PlatformVideo || id != "dQw4w9WgXcQ" {
		t.Fatalf("ExtractID youtube = (%v,%q,%v)", platform, id, ok)
	}

	platform, id, ok = ExtractID("https://twitter.com/u/status/42")
	if !ok || platform != content.PlatformSocialPost || id != "42" {
		t.Fatalf("ExtractID tweet = (%v,%q,%v)", platform, id, ok)
	}

	if _, _, ok := ExtractID("https://example.com/things/42"); ok {
		t.Fatal("expected no id for unknown pattern")
	}
}
