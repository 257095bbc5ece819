package schedule

import "schedview/internal/model"

// ResolveRelated maps relatedIDs to events from all, in relatedIDs order.
//
// Ids with no matching event are dropped; a dangling reference is normal
// input. Duplicates are kept as given. The resolved list is then passed
// through Visible with the same authenticated flag. The result is never
// deduplicated or re-sorted.
func ResolveRelated(relatedIDs []int, all []model.Event, authenticated bool) []model.Event {
	if len(relatedIDs) == 0 || len(all) == 0 {
		return []model.Event{}
	}

	// First occurrence wins if the snapshot repeats an id.
	byID := make(map[int]model.Event, len(all))
	for _, ev := range all {
		if _, seen := byID[ev.ID]; seen {
			continue
		}
		byID[ev.ID] = ev
	}

	resolved := make([]model.Event, 0, len(relatedIDs))
	for _, id := range relatedIDs {
		ev, ok := byID[id]
		if !ok {
			continue
		}
		resolved = append(resolved, ev)
	}

	return Visible(resolved, authenticated)
}

// Preview returns at most the first n entries of events for compact
// display. It never mutates or reorders events; n <= 0 means no limit.
func Preview(events []model.Event, n int) []model.Event {
	if n <= 0 || n >= len(events) {
		out := make([]model.Event, len(events))
		copy(out, events)
		return out
	}
	out := make([]model.Event, n)
	copy(out, events[:n])
	return out
}
