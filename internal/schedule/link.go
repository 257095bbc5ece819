package schedule

import "schedview/internal/model"

// DisplayURL picks the outbound link shown for an event.
// Authenticated viewers get PrivateURL; everyone else gets PublicURL, or
// PrivateURL when PublicURL is empty.
func DisplayURL(ev model.Event, authenticated bool) string {
	if authenticated {
		return ev.PrivateURL
	}
	if ev.PublicURL != "" {
		return ev.PublicURL
	}
	return ev.PrivateURL
}
