package model

import "time"

// EventType is the category of a scheduled event.
type EventType string

const (
	EventTypeWorkshop EventType = "workshop"
	EventTypeActivity EventType = "activity"
	EventTypeTechTalk EventType = "tech_talk"
)

// Permission governs whether an unauthenticated viewer may see an event.
type Permission string

const (
	PermissionPublic  Permission = "public"
	PermissionPrivate Permission = "private"
)

// Speaker is a single presenter of an event.
type Speaker struct {
	Name string `json:"name"`
}

// Event is a single conference schedule item as returned by the upstream
// events API. Values are treated as an immutable snapshot per fetch: the
// schedule and view packages always build new slices and never write
// through to an Event they were handed.
type Event struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	EventType  EventType  `json:"event_type"`
	Permission Permission `json:"permission"`

	// StartTime / EndTime are unix timestamps in milliseconds.
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`

	Speakers []Speaker `json:"speakers"`

	// Description is optional; nil means the upstream sent null or omitted it.
	Description *string `json:"description,omitempty"`

	PublicURL  string `json:"public_url,omitempty"`
	PrivateURL string `json:"private_url,omitempty"`

	// RelatedEvents are ids of other events in the same collection. They
	// may dangle.
	RelatedEvents []int `json:"related_events"`
}

// IsPrivate reports whether the event is hidden from unauthenticated viewers.
func (e Event) IsPrivate() bool {
	return e.Permission == PermissionPrivate
}

func (e Event) Start() time.Time {
	return time.UnixMilli(e.StartTime)
}

func (e Event) End() time.Time {
	return time.UnixMilli(e.EndTime)
}

// DescriptionText returns the description or "" when absent.
func (e Event) DescriptionText() string {
	if e.Description == nil {
		return ""
	}
	return *e.Description
}
