package caption

import (
	"strings"
	"testing"
)

func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		url  string
		want Platform
	}{
		{"https://meet.google.com/abc-defg-hij", PlatformMeet},
		{"https://teams.microsoft.com/l/meetup-join/xyz", PlatformTeams},
		{"https://us02web.zoom.us/j/123456", PlatformZoom},
		{"https://zoom.us/j/123456", PlatformZoom},
		{"https://example.com/meeting", PlatformUnknown},
		{"://not-a-url", PlatformUnknown},
	}

	for _, tc := range cases {
		if got := DetectPlatform(tc.url); got != tc.want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestNewSessionID_UniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id := NewSessionID()
		if !strings.HasPrefix(id, "session_") {
			t.Fatalf("expected session_ prefix, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id generated: %q", id)
		}
		seen[id] = struct{}{}
	}
}
