// Package view holds per-view state containers. Each one recomputes its
// derived output synchronously on every mutation, and loads guard their
// results with a generation token so a superseded request never overwrites
// newer state.
package view

import (
	"context"
	"sync"

	"schedview/internal/model"
	"schedview/internal/schedule"
)

// EventSource is the upstream the views load from. *eventsapi.Client
// satisfies it.
type EventSource interface {
	ParseID(raw string) (int, error)
	FetchAll(ctx context.Context) ([]model.Event, error)
	FetchByID(ctx context.Context, id int) (model.Event, error)
}

// ListingResult is the derived state of the listing view.
type ListingResult struct {
	// Events are visible, search-filtered and sorted by start time.
	Events []model.Event
	// Total is the size of the raw snapshot; Shown is len(Events).
	Total         int
	Shown         int
	Authenticated bool
	Query         string
	// Error is a human-readable load failure; empty on success.
	Error string
}

// Listing is the home page state.
type Listing struct {
	mu            sync.Mutex
	events        []model.Event
	authenticated bool
	query         string
	loadErr       string
	result        ListingResult

	gen    uint64
	cancel context.CancelFunc
}

func NewListing() *Listing {
	l := &Listing{}
	l.recomputeLocked()
	return l
}

// SetEvents replaces the snapshot and recomputes.
func (l *Listing) SetEvents(events []model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]model.Event(nil), events...)
	l.loadErr = ""
	l.recomputeLocked()
}

// SetAuthenticated updates the viewer flag and recomputes.
func (l *Listing) SetAuthenticated(authenticated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authenticated = authenticated
	l.recomputeLocked()
}

// SetQuery updates the search text and recomputes.
func (l *Listing) SetQuery(q string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = q
	l.recomputeLocked()
}

// Result returns the current derived state.
func (l *Listing) Result() ListingResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Snapshot returns a copy of the raw, unfiltered events. Listing cards
// resolve related ids against it.
func (l *Listing) Snapshot() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Event(nil), l.events...)
}

// Load fetches a fresh snapshot. If another Load starts before this one
// finishes, this one's context is canceled and its outcome discarded.
// The returned bool reports whether the outcome was applied.
func (l *Listing) Load(ctx context.Context, src EventSource) (ListingResult, bool) {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	my := l.gen
	loadCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	events, err := src.FetchAll(loadCtx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != my {
		return l.result, false
	}
	l.cancel = nil
	if err != nil {
		l.events = nil
		l.loadErr = err.Error()
	} else {
		l.events = events
		l.loadErr = ""
	}
	l.recomputeLocked()
	return l.result, true
}

func (l *Listing) recomputeLocked() {
	visible := schedule.Visible(l.events, l.authenticated)
	shown := schedule.SearchAndSort(visible, l.query)
	l.result = ListingResult{
		Events:        shown,
		Total:         len(l.events),
		Shown:         len(shown),
		Authenticated: l.authenticated,
		Query:         l.query,
		Error:         l.loadErr,
	}
}
