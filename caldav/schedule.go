package caldav

import (
	"strings"

	"github.com/emersion/go-ical"
)

// ScheduleInbox is a calendar holding incoming scheduling messages
// (invite requests and replies).
type ScheduleInbox struct {
	Calendar
}

// ScheduleOutbox is a calendar used as the target for outgoing free-busy
// and scheduling requests.
type ScheduleOutbox struct {
	Calendar
}

// IsInviteRequest reports whether o carries a METHOD:REQUEST — an
// incoming meeting invitation awaiting a reply.
func IsInviteRequest(o *CalendarObject) (bool, error) {
	return hasMethod(o, "REQUEST")
}

// IsInviteReply reports whether o carries a METHOD:REPLY — an attendee's
// response to an invitation this principal organized.
func IsInviteReply(o *CalendarObject) (bool, error) {
	return hasMethod(o, "REPLY")
}

func hasMethod(o *CalendarObject, method string) (bool, error) {
	cal, err := o.ICalendar()
	if err != nil {
		return false, err
	}
	p := cal.Props.Get(ical.PropMethod)
	return p != nil && strings.EqualFold(p.Value, method), nil
}

// AcceptInvite sets this principal's ATTENDEE PARTSTAT to ACCEPTED and
// saves.
func AcceptInvite(o *CalendarObject, principal *Principal) error {
	return respondToInvite(o, principal, "ACCEPTED")
}

// DeclineInvite sets this principal's ATTENDEE PARTSTAT to DECLINED and
// saves.
func DeclineInvite(o *CalendarObject, principal *Principal) error {
	return respondToInvite(o, principal, "DECLINED")
}

// TentativelyAcceptInvite sets this principal's ATTENDEE PARTSTAT to
// TENTATIVE and saves.
func TentativelyAcceptInvite(o *CalendarObject, principal *Principal) error {
	return respondToInvite(o, principal, "TENTATIVE")
}

func respondToInvite(o *CalendarObject, principal *Principal, partstat string) error {
	comp, err := o.component()
	if err != nil {
		return err
	}
	addr, _, err := principal.GetVCalAddress()
	if err != nil {
		return err
	}
	found := false
	attendees := comp.Props[ical.PropAttendee]
	for i := range attendees {
		if sameCalendarUserAddress(attendees[i].Value, addr) {
			attendees[i].Params.Set("PARTSTAT", partstat)
			found = true
		}
	}
	if !found {
		return &ConsistencyError{Reason: "no ATTENDEE entry matches this principal's calendar user address"}
	}
	return o.Save(SaveOptions{IncreaseSeqno: true})
}

func sameCalendarUserAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(strings.ToLower(a), "mailto:"), strings.TrimPrefix(strings.ToLower(b), "mailto:"))
}
