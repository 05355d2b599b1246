package worker

import (
	"fmt"
	"strings"
	"time"

	"scribe/internal/engine"
)

// FormatSRT renders engine segments as SubRip subtitles. Segments with no
// text are skipped but do not disturb the numbering of the rest.
func FormatSRT(segments []engine.Segment) string {
	var b strings.Builder
	index := 1
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			index,
			formatSRTTimestamp(seg.Start),
			formatSRTTimestamp(seg.End),
			text)
		index++
	}
	return b.String()
}

func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	secs := int(d / time.Second)
	millis := int(d/time.Millisecond) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
