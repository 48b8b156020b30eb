package acquire

import (
	"fmt"
	"regexp"
	"strings"
)

// rule maps stderr fragments to the message shown to the user.
type rule struct {
	any     []string
	all     []string
	message string
}

// Order matters: earlier rules win.
var rules = []rule{
	{any: []string{"video unavailable", "private video"},
		message: "This video is unavailable or private. Use a public video."},
	{any: []string{"sign in to confirm", "age-restricted"},
		message: "This video requires age confirmation and cannot be downloaded automatically."},
	{all: []string{"playlist", "not allowed"},
		message: "Playlists are not supported. Use a single video URL."},
	{any: []string{"unavailable", "removed"},
		message: "Video is unavailable or has been removed."},
	{any: []string{"network", "connection", "timeout", "timed out"},
		message: "Connection error. Check the network and try again."},
	{any: []string{"geoblocked", "geo-blocked", "blocked in your country"},
		message: "This video is not available in this region."},
	{any: []string{"http error 403", "403", "forbidden"},
		message: "YouTube refused access (403). This is often temporary. Try again in a few minutes or upgrade yt-dlp."},
	{any: []string{"requested format is not available", "format is not available"},
		message: "No downloadable format is available for this video right now. Try again in a few minutes."},
	{any: []string{"sign in to download", "members-only"},
		message: "This video requires a login or is members-only. Use a public video."},
	{any: []string{"copyright", "content id"},
		message: "This video is protected by copyright and cannot be downloaded."},
}

var pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[^\s/'"]+)+`)

// Classify turns yt-dlp stderr into a user-facing message. Unknown errors
// fall back to the last stderr lines with file paths removed.
func Classify(stderr string, exitCode int) string {
	lower := strings.ToLower(stderr)
	for _, r := range rules {
		if r.matches(lower) {
			return r.message
		}
	}

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	tail := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
	tail = pathPattern.ReplaceAllString(tail, "<path>")
	if tail != "" {
		if len(tail) > 150 {
			tail = tail[:150]
		}
		return "Download failed: " + tail
	}
	return fmt.Sprintf("Download failed (exit code %d). Check the URL and try again.", exitCode)
}

func (r rule) matches(lower string) bool {
	if len(r.all) > 0 {
		for _, s := range r.all {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}
	for _, s := range r.any {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
