// Package schedule holds the pure derivations applied to an event snapshot
// before it is shown: visibility, related-event resolution, text search with
// chronological ordering, and outbound link selection.
//
// None of these functions cache or mutate their inputs. Callers recompute
// whenever the snapshot or the authenticated flag changes.
package schedule

import "schedview/internal/model"

// Visible returns the events the viewer may see.
//
//   - authenticated: the input unchanged, in input order.
//   - unauthenticated: only events whose permission is not private,
//     in input order.
func Visible(events []model.Event, authenticated bool) []model.Event {
	if authenticated {
		out := make([]model.Event, len(events))
		copy(out, events)
		return out
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsPrivate() {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CanView reports whether a single event is visible to the viewer.
func CanView(ev model.Event, authenticated bool) bool {
	return authenticated || !ev.IsPrivate()
}
