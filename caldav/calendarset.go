package caldav

import (
	"strings"

	"github.com/calendrierhub/caldav/internal/dav"
)

// CalendarSet is a calendar-home-set collection: the parent of a
// principal's calendars.
type CalendarSet struct {
	DavObject
}

// Calendars lists the calendars under this set (children whose
// resourcetype includes {caldav}calendar).
func (s *CalendarSet) Calendars() ([]*Calendar, error) {
	children, err := s.Children(dav.ResourceTypeCalendar)
	if err != nil {
		return nil, err
	}
	out := make([]*Calendar, 0, len(children))
	for _, c := range children {
		cal := &Calendar{DavObject: newDavObject(s.client, c.URL)}
		cal.props[dav.QName(dav.QDisplayName)] = dav.PropValue{Kind: dav.PropKindText, Text: c.DisplayName}
		out = append(out, cal)
	}
	return out, nil
}

// MakeCalendar issues MKCALENDAR under this set and returns the new
// Calendar. calID, if given, becomes the URL basename; otherwise one is
// derived from name.
func (s *CalendarSet) MakeCalendar(name, calID string, supportedComponents []string) (*Calendar, error) {
	id := calID
	if id == "" {
		id = slugify(name)
	}
	base, err := ParseURL(s.url)
	if err != nil {
		return nil, err
	}
	target, err := base.Join(id + "/")
	if err != nil {
		return nil, err
	}
	req := s.client.engine.MkcalendarRequest(target.String(), dav.MkcalendarRequest{
		DisplayName:         name,
		SupportedComponents: supportedComponents,
	})
	resp, err := s.client.do(req)
	if err != nil {
		return nil, err
	}
	if resp.Status != 201 && resp.Status != 200 {
		return nil, &ResponseError{URL: target.String(), Reason: "MKCALENDAR failed with status " + resp.Headers.Get("Status")}
	}
	return &Calendar{DavObject: newDavObject(s.client, target.String())}, nil
}

// Calendar resolves a single calendar by cal_id (direct URL construction)
// or by display name (PROPFIND search among children).
func (s *CalendarSet) Calendar(name, calID string) (*Calendar, error) {
	if calID != "" {
		base, err := ParseURL(s.url)
		if err != nil {
			return nil, err
		}
		target, err := base.Join(calID + "/")
		if err != nil {
			return nil, err
		}
		return &Calendar{DavObject: newDavObject(s.client, target.String())}, nil
	}
	calendars, err := s.Calendars()
	if err != nil {
		return nil, err
	}
	for _, c := range calendars {
		dn, err := c.GetDisplayName()
		if err == nil && dn == name {
			return c, nil
		}
	}
	return nil, &NotFoundError{URL: s.url + " (display name " + name + ")"}
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "calendar"
	}
	return b.String()
}
