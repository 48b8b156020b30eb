package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL renders a CMX3600-style edit decision list. Each entry becomes
// one event; the record side runs back to back from zero.
func GenerateEDL(entries []CutEntry, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0
	for i, e := range entries {
		srcIn := secondsToTimecode(e.SourceIn, fps)
		srcOut := secondsToTimecode(e.SourceOut, fps)
		recIn := secondsToTimecode(record, fps)
		recOut := secondsToTimecode(record+e.Duration(), fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "AA/V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", SanitizeName(e.Name, 70)),
			fmt.Sprintf("* SOURCE FILE:  %s", e.MediaPath),
		)

		record += e.Duration()
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToTimecode(seconds int, fps int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := seconds / 60 % 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds%60, 0)
}
