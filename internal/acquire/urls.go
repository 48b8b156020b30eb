package acquire

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// SanitizeURL reduces a reference to the canonical form handed to yt-dlp.
// Watch URLs keep only their v parameter; youtu.be links pass through. It
// reports false for anything else.
func SanitizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	if host == "youtu.be" {
		if strings.Trim(u.Path, "/") == "" {
			return "", false
		}
		return u.String(), true
	}
	if !youtubeHosts[host] {
		return "", false
	}
	if v := u.Query().Get("v"); v != "" {
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(v), true
	}
	if id := pathID(u.Path); id != "" {
		return "https://www.youtube.com/watch?v=" + id, true
	}
	return "", false
}

// ExtractVideoID returns the platform id from watch, youtu.be, embed and
// shorts links, or "" when none is present.
func ExtractVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())

	if host == "youtu.be" {
		id, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if videoIDPattern.MatchString(id) {
			return id
		}
		return ""
	}
	if !youtubeHosts[host] {
		return ""
	}
	if v := u.Query().Get("v"); videoIDPattern.MatchString(v) {
		return v
	}
	return pathID(u.Path)
}

func pathID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	switch parts[0] {
	case "embed", "shorts", "live", "v":
		if videoIDPattern.MatchString(parts[1]) {
			return parts[1]
		}
	}
	return ""
}
