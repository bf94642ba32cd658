package caption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Platform identifies which meeting product a caption was captured from.
type Platform string

const (
	PlatformMeet    Platform = "google-meet"
	PlatformTeams   Platform = "teams"
	PlatformZoom    Platform = "zoom"
	PlatformUnknown Platform = "unknown"
)

// Event is one extracted caption line. Events are immutable once created
// and are produced only by the extractor while a session is active.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text"`
	Platform  Platform  `json:"platform"`
	SessionID string    `json:"sessionId"`
}

// DetectPlatform maps a meeting page URL to a Platform. Unrecognized hosts
// return PlatformUnknown.
func DetectPlatform(rawURL string) Platform {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformUnknown
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "meet.google.com":
		return PlatformMeet
	case host == "teams.microsoft.com" || strings.HasSuffix(host, ".teams.microsoft.com"):
		return PlatformTeams
	case strings.HasSuffix(host, "zoom.us"):
		return PlatformZoom
	default:
		return PlatformUnknown
	}
}

// NewSessionID returns a globally unique session identifier built from the
// current wall clock and a random suffix.
func NewSessionID() string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix[:]))
}
