package view

import (
	"context"
	"errors"
	"sync"

	"schedview/internal/eventsapi"
	"schedview/internal/model"
	"schedview/internal/schedule"
)

// ErrorKind classifies why a detail view has nothing to show.
type ErrorKind string

const (
	KindInvalidID ErrorKind = "invalid_id"
	KindFetch     ErrorKind = "fetch"
	KindPrivate   ErrorKind = "private"
)

// PrivateEventMessage is shown when an unauthenticated viewer opens a
// private event.
const PrivateEventMessage = "This is a private event. Please sign in to view it."

// DetailError is a view-local failure. None of them are fatal.
type DetailError struct {
	Kind    ErrorKind
	Message string
}

func (e *DetailError) Error() string { return e.Message }

// DetailState is what the detail page renders.
type DetailState struct {
	Generation    uint64
	Authenticated bool
	Event         *model.Event
	DisplayURL    string
	// Related is the full resolved list in related_events order.
	Related []model.Event
	Err     *DetailError
}

// Detail is the event detail page state.
type Detail struct {
	src EventSource

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  DetailState
}

func NewDetail(src EventSource) *Detail {
	return &Detail{src: src}
}

// State returns the last applied state.
func (d *Detail) State() DetailState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Load runs the detail pipeline for rawID:
//
//  1. parse and range-check the id (no request on failure)
//  2. fetch the event
//  3. refuse private events to unauthenticated viewers
//  4. if it has related ids, fetch all events and resolve them
//
// Starting a new Load cancels the previous one; a superseded Load returns
// its own outcome with applied=false and leaves State untouched.
func (d *Detail) Load(ctx context.Context, rawID string, authenticated bool) (state DetailState, applied bool) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.gen++
	my := d.gen
	loadCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	state = d.run(loadCtx, rawID, authenticated)
	state.Generation = my

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != my {
		return state, false
	}
	d.cancel = nil
	d.state = state
	return state, true
}

func (d *Detail) run(ctx context.Context, rawID string, authenticated bool) DetailState {
	st := DetailState{Authenticated: authenticated, Related: []model.Event{}}

	id, err := d.src.ParseID(rawID)
	if err != nil {
		st.Err = classify(err)
		return st
	}

	ev, err := d.src.FetchByID(ctx, id)
	if err != nil {
		st.Err = classify(err)
		return st
	}

	if !schedule.CanView(ev, authenticated) {
		st.Err = &DetailError{Kind: KindPrivate, Message: PrivateEventMessage}
		return st
	}

	if len(ev.RelatedEvents) > 0 {
		all, err := d.src.FetchAll(ctx)
		if err != nil {
			st.Err = classify(err)
			return st
		}
		st.Related = schedule.ResolveRelated(ev.RelatedEvents, all, authenticated)
	}

	st.Event = &ev
	st.DisplayURL = schedule.DisplayURL(ev, authenticated)
	return st
}

func classify(err error) *DetailError {
	var ve *eventsapi.ValidationError
	if errors.As(err, &ve) {
		return &DetailError{Kind: KindInvalidID, Message: ve.Error()}
	}
	return &DetailError{Kind: KindFetch, Message: err.Error()}
}
