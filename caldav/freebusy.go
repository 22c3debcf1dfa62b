package caldav

import "github.com/emersion/go-ical"

// FreeBusy wraps a VFREEBUSY component returned from a free-busy-query
// REPORT.
type FreeBusy struct {
	cal *ical.Calendar
}

// Component returns the underlying VFREEBUSY component.
func (f *FreeBusy) Component() *ical.Component {
	for _, c := range f.cal.Children {
		if c.Name == "VFREEBUSY" {
			return c
		}
	}
	return nil
}

// Periods returns the raw FREEBUSY property values (each a
// "start/duration-or-end" period per RFC 5545 §3.8.2.6), unparsed.
func (f *FreeBusy) Periods() []string {
	comp := f.Component()
	if comp == nil {
		return nil
	}
	var out []string
	for _, p := range comp.Props["FREEBUSY"] {
		out = append(out, p.Value)
	}
	return out
}

// ScheduleFreeBusyResult is one attendee's reply to an RFC 6638 §3.6
// scheduling free-busy POST: the polled calendar user address, the iTIP
// request-status it returned, and (on success) its VFREEBUSY.
type ScheduleFreeBusyResult struct {
	Recipient     string
	RequestStatus string
	FreeBusy      *FreeBusy
}
