package schedule

import (
	"sort"
	"strings"

	"schedview/internal/model"
)

// SearchAndSort narrows events by a free-text query and orders the result
// by start time.
//
// A query that is empty after trimming applies no text filter. Otherwise an
// event matches when the lowercased query is a substring of its name, its
// description (absent never matches) or any speaker name. Ordering is a
// stable ascending sort on StartTime.
//
// Apply this to the output of Visible, never to a raw snapshot.
func SearchAndSort(events []model.Event, query string) []model.Event {
	out := make([]model.Event, 0, len(events))

	// The trimmed value only decides whether to filter; matching uses the
	// query as typed.
	if strings.TrimSpace(query) == "" {
		out = append(out, events...)
	} else {
		q := strings.ToLower(query)
		for _, ev := range events {
			if matches(ev, q) {
				out = append(out, ev)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func matches(ev model.Event, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(ev.Name), lowerQuery) {
		return true
	}
	if ev.Description != nil && strings.Contains(strings.ToLower(*ev.Description), lowerQuery) {
		return true
	}
	for _, sp := range ev.Speakers {
		if strings.Contains(strings.ToLower(sp.Name), lowerQuery) {
			return true
		}
	}
	return false
}
