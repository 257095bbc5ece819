// Package ics renders the schedule as an iCalendar feed.
package ics

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedview/internal/model"
	"schedview/internal/schedule"
)

const productID = "-//schedview//Event Schedule//EN"

// ExportOptions controls feed metadata.
type ExportOptions struct {
	// Name is the calendar display name (X-WR-CALNAME).
	Name string
	// Host qualifies every UID, e.g. "schedule.example.com".
	Host string
	// Stamp is the DTSTAMP written on every VEVENT. Zero means now.
	Stamp time.Time
}

// Export renders the events visible to the viewer, sorted by start time.
// Private events are only included when authenticated, and each event's
// URL follows the same link rule as the pages.
func Export(events []model.Event, authenticated bool, opts ExportOptions) string {
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	host := opts.Host
	if host == "" {
		host = "schedview"
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	visible := schedule.SearchAndSort(schedule.Visible(events, authenticated), "")
	for _, ev := range visible {
		ve := cal.AddEvent(strconv.Itoa(ev.ID) + "@" + host)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start())
		ve.SetEndAt(ev.End())
		ve.SetSummary(ev.Name)
		if desc := describe(ev); desc != "" {
			ve.SetDescription(desc)
		}
		if u := schedule.DisplayURL(ev, authenticated); u != "" {
			ve.SetURL(u)
		}
		ve.AddProperty(ical.ComponentPropertyCategories, schedule.FormatEventType(ev.EventType))
		if ev.IsPrivate() {
			ve.SetClass(ical.ClassificationPrivate)
		} else {
			ve.SetClass(ical.ClassificationPublic)
		}
	}

	return cal.Serialize()
}

// describe joins the description and speaker line.
func describe(ev model.Event) string {
	var parts []string
	if d := ev.DescriptionText(); d != "" {
		parts = append(parts, d)
	}
	if sp := schedule.FormatSpeakers(ev.Speakers); sp != "" {
		parts = append(parts, "Speakers: "+sp)
	}
	return strings.Join(parts, "\n\n")
}
