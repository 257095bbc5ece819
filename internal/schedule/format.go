package schedule

import (
	"strings"
	"time"

	"schedview/internal/model"
)

// FormatEventType turns an event type into a display label,
// e.g. "tech_talk" -> "Tech Talk".
func FormatEventType(t model.EventType) string {
	parts := strings.Split(string(t), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// FormatDate renders a millisecond timestamp as "Jan 15, 2024, 2:30 PM"
// in loc (time.Local when nil).
func FormatDate(ms int64, loc *time.Location) string {
	return inLocation(ms, loc).Format("Jan 2, 2006, 3:04 PM")
}

// FormatTime renders a millisecond timestamp as "2:30 PM".
func FormatTime(ms int64, loc *time.Location) string {
	return inLocation(ms, loc).Format("3:04 PM")
}

// FormatSpeakers joins speaker names with ", ".
func FormatSpeakers(speakers []model.Speaker) string {
	names := make([]string, 0, len(speakers))
	for _, s := range speakers {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

// Truncate shortens s to at most n characters followed by "...". Strings of
// n characters or fewer are returned unchanged.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n < 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func inLocation(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc)
}
