// Package icalcodec isolates every dependency on iCalendar parsing and
// RRULE expansion behind a small interface, so the resource-model layer
// never imports emersion/go-ical or rrule-go directly.
package icalcodec

import (
	"time"

	"github.com/emersion/go-ical"
)

// ComponentKind identifies which VCALENDAR child component a CalendarObject
// wraps.
type ComponentKind int

const (
	KindUnknown ComponentKind = iota
	KindEvent
	KindTodo
	KindJournal
	KindFreeBusy
)

func (k ComponentKind) String() string {
	switch k {
	case KindEvent:
		return "VEVENT"
	case KindTodo:
		return "VTODO"
	case KindJournal:
		return "VJOURNAL"
	case KindFreeBusy:
		return "VFREEBUSY"
	default:
		return "UNKNOWN"
	}
}

// RecurrenceInfo carries the recurrence-relevant properties pulled off a
// component: RRULE text, RDATE/EXDATE instants, and the RECURRENCE-ID when
// the component is itself an override instance.
type RecurrenceInfo struct {
	RRULE        string
	RDATE        []time.Time
	EXDATE       []time.Time
	RecurrenceID *time.Time
}

func (r RecurrenceInfo) HasRecurrence() bool {
	return r.RRULE != "" || len(r.RDATE) > 0
}

// TimeSpan is a component's effective start/end, resolved from
// DTSTART/DTEND/DURATION/DUE per RFC 5545 defaulting rules.
type TimeSpan struct {
	Start, End time.Time
	AllDay     bool
}

func (t TimeSpan) Duration() time.Duration { return t.End.Sub(t.Start) }

// Codec is the seam between the resource model and the concrete iCalendar
// library. Swapping Codec implementations (e.g. for testing) never touches
// anything above this package.
type Codec interface {
	// Decode parses raw iCalendar bytes into a *ical.Calendar.
	Decode(raw []byte) (*ical.Calendar, error)
	// Encode serializes a *ical.Calendar back to bytes.
	Encode(cal *ical.Calendar) ([]byte, error)

	// Kind classifies a component by its VCALENDAR child type.
	Kind(comp *ical.Component) ComponentKind
	// TimeSpan resolves a component's effective start/end.
	TimeSpan(comp *ical.Component) (TimeSpan, bool)
	// Recurrence extracts RRULE/RDATE/EXDATE/RECURRENCE-ID.
	Recurrence(comp *ical.Component) RecurrenceInfo
	// UID returns the component's UID property value, or "".
	UID(comp *ical.Component) string

	// ExpandOccurrences returns the start times of every occurrence of a
	// recurring component that falls within [rangeStart, rangeEnd),
	// honoring RDATE/EXDATE and capped at maxOccurrences (0 = unlimited).
	ExpandOccurrences(masterStart time.Time, rec RecurrenceInfo, rangeStart, rangeEnd time.Time, maxOccurrences int) ([]time.Time, error)
	// HasOccurrenceInRange is a cheaper existence check used by search
	// filtering, so the caller isn't forced to fully expand long series.
	HasOccurrenceInRange(masterStart, masterEnd time.Time, rec RecurrenceInfo, rangeStart, rangeEnd time.Time) (bool, error)
	// ReduceCount rewrites an RRULE's COUNT to account for n occurrences
	// already consumed (used when splitting a recurring series at an
	// edit boundary); returns ok=false if the rule has no COUNT to adjust.
	ReduceCount(rrule string, consumed int) (reduced string, ok bool)
}
