package caldav

import (
	"encoding/xml"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/calendrierhub/caldav/icalcodec"
	"github.com/calendrierhub/caldav/internal/dav"
)

// Principal is a CalDAV principal resource: the root from which a user's
// calendar home, scheduling inboxes/outboxes, and address set are reached.
type Principal struct {
	DavObject
}

// CalendarHomeSet issues a PROPFIND for calendar-home-set, sanitizes the
// returned href, and — if its hostname differs from the client's current
// base (iCloud-style load balancing) — rehomes the client's base URL to
// match before returning the CalendarSet.
func (p *Principal) CalendarHomeSet() (*CalendarSet, error) {
	v, err := p.GetProperty(dav.QCalendarHomeSet, true)
	if err != nil {
		return nil, err
	}
	raw := v.AsText()
	if raw == "" {
		return nil, &DiscoveryError{Domain: p.URL(), Reason: "principal has no calendar-home-set"}
	}
	sanitized := SanitizeCalendarHomeSetURL(raw)

	base, err := ParseURL(p.client.BaseURL())
	if err != nil {
		return nil, err
	}

	var home URL
	if parsed, perr := ParseURL(sanitized); perr == nil && parsed.Hostname() != "" && parsed.Hostname() != base.Hostname() {
		// An absolute href naming a different host than the client's current
		// base can't go through Join, which refuses cross-host combinations —
		// that mismatch is exactly the iCloud-style rehoming signal, so adopt
		// it directly as the new home.
		home = parsed.Canonicalize()
		p.client.setBaseURL(*home.Raw())
	} else {
		home, err = base.Join(sanitized)
		if err != nil {
			return nil, err
		}
		home = home.Canonicalize()
	}
	return &CalendarSet{DavObject: newDavObject(p.client, home.String())}, nil
}

// Calendars lists the calendars under the principal's calendar home set.
func (p *Principal) Calendars() ([]*Calendar, error) {
	home, err := p.CalendarHomeSet()
	if err != nil {
		return nil, err
	}
	return home.Calendars()
}

// Calendar delegates to CalendarSet.Calendar.
func (p *Principal) Calendar(name, calID, calURL string) (*Calendar, error) {
	if calURL != "" {
		return &Calendar{DavObject: newDavObject(p.client, calURL)}, nil
	}
	home, err := p.CalendarHomeSet()
	if err != nil {
		return nil, err
	}
	return home.Calendar(name, calID)
}

// MakeCalendar delegates to CalendarSet.MakeCalendar.
func (p *Principal) MakeCalendar(name, calID string, supportedComponents []string) (*Calendar, error) {
	home, err := p.CalendarHomeSet()
	if err != nil {
		return nil, err
	}
	return home.MakeCalendar(name, calID, supportedComponents)
}

// CalendarUserAddressSet returns the principal's calendar user addresses
// (typically mailto: URIs).
func (p *Principal) CalendarUserAddressSet() ([]string, error) {
	props, err := p.GetProperties([]xml.Name{dav.QCalendarUserAddressSet}, 0, true)
	if err != nil {
		return nil, err
	}
	v, ok := props[dav.QName(dav.QCalendarUserAddressSet)]
	if !ok {
		return nil, nil
	}
	return v.HrefList, nil
}

// ScheduleInbox returns the principal's schedule-inbox as a ScheduleInbox.
func (p *Principal) ScheduleInbox() (*ScheduleInbox, error) {
	v, err := p.GetProperty(dav.QScheduleInboxURL, true)
	if err != nil {
		return nil, err
	}
	href := v.AsText()
	if href == "" {
		return nil, &DiscoveryError{Domain: p.URL(), Reason: "principal has no schedule-inbox-URL"}
	}
	base, err := ParseURL(p.client.BaseURL())
	if err != nil {
		return nil, err
	}
	u, err := base.Join(href)
	if err != nil {
		return nil, err
	}
	return &ScheduleInbox{Calendar: Calendar{DavObject: newDavObject(p.client, u.Canonicalize().String())}}, nil
}

// ScheduleOutbox returns the principal's schedule-outbox as a ScheduleOutbox.
func (p *Principal) ScheduleOutbox() (*ScheduleOutbox, error) {
	v, err := p.GetProperty(dav.QScheduleOutboxURL, true)
	if err != nil {
		return nil, err
	}
	href := v.AsText()
	if href == "" {
		return nil, &DiscoveryError{Domain: p.URL(), Reason: "principal has no schedule-outbox-URL"}
	}
	base, err := ParseURL(p.client.BaseURL())
	if err != nil {
		return nil, err
	}
	u, err := base.Join(href)
	if err != nil {
		return nil, err
	}
	return &ScheduleOutbox{Calendar: Calendar{DavObject: newDavObject(p.client, u.Canonicalize().String())}}, nil
}

// GetVCalAddress builds an iCalendar ATTENDEE/ORGANIZER value for this
// principal: "CN=<display name>" parameter plus the first calendar user
// address, defaulting CUTYPE to INDIVIDUAL.
func (p *Principal) GetVCalAddress() (string, map[string]string, error) {
	name, err := p.GetDisplayName()
	if err != nil {
		return "", nil, err
	}
	addrs, err := p.CalendarUserAddressSet()
	if err != nil {
		return "", nil, err
	}
	if len(addrs) == 0 {
		return "", nil, &DiscoveryError{Domain: p.URL(), Reason: "principal has no calendar-user-address-set"}
	}
	params := map[string]string{"CUTYPE": "INDIVIDUAL"}
	if name != "" {
		params["CN"] = name
	}
	return addrs[0], params, nil
}

// FreeBusyRequest issues an RFC 6638 §3.6 scheduling POST to the
// principal's schedule-outbox: a VFREEBUSY iTIP request naming attendees is
// posted, and the server polls each attendee's calendar on the principal's
// behalf, returning one ScheduleFreeBusyResult per attendee. This is
// distinct from Calendar.FreeBusyRequest, which runs an RFC 4791 §7.10
// free-busy-query REPORT scoped to a single collection.
func (p *Principal) FreeBusyRequest(start, end time.Time, attendees []string) ([]ScheduleFreeBusyResult, error) {
	if len(attendees) == 0 {
		return nil, &ConsistencyError{Reason: "freebusy_request: at least one attendee is required"}
	}
	outbox, err := p.ScheduleOutbox()
	if err != nil {
		return nil, err
	}
	originator, _, err := p.GetVCalAddress()
	if err != nil {
		return nil, err
	}

	body, err := buildFreeBusyRequestBody(p.client.codec, originator, attendees, start, end)
	if err != nil {
		return nil, err
	}
	req := p.client.engine.ScheduleRequest(outbox.URL(), originator, attendees, body)
	resp, err := p.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() && !resp.IsMultistatus() {
		return nil, &ResponseError{URL: outbox.URL(), Reason: "schedule free-busy POST failed"}
	}
	recipients, err := p.client.engine.ParseSchedule(resp)
	if err != nil {
		return nil, &ResponseError{URL: outbox.URL(), Reason: err.Error()}
	}

	out := make([]ScheduleFreeBusyResult, 0, len(recipients))
	for _, r := range recipients {
		res := ScheduleFreeBusyResult{Recipient: r.Recipient, RequestStatus: r.RequestStatus}
		if len(r.CalendarData) > 0 {
			if cal, err := p.client.codec.Decode(r.CalendarData); err == nil {
				res.FreeBusy = &FreeBusy{cal: cal}
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// buildFreeBusyRequestBody builds the iTIP VFREEBUSY REQUEST body posted to
// a schedule-outbox: ORGANIZER is the requesting principal, one ATTENDEE
// per polled calendar user address.
func buildFreeBusyRequestBody(codec icalcodec.Codec, originator string, attendees []string, start, end time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//calendrierhub/caldav//NONSGML v1.0//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropMethod, "REQUEST")

	comp := ical.NewComponent(ical.CompFreeBusy)
	comp.Props.SetText(ical.PropUID, uuid.New().String())
	comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	comp.Props.SetDateTime(ical.PropDateTimeStart, start)
	comp.Props.SetDateTime(ical.PropDateTimeEnd, end)
	comp.Props.SetText(ical.PropOrganizer, originator)
	for _, a := range attendees {
		comp.Props.Add(&ical.Prop{Name: ical.PropAttendee, Value: a})
	}
	cal.Children = append(cal.Children, comp)

	return codec.Encode(cal)
}
