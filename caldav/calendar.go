package caldav

import (
	"encoding/xml"
	"time"

	"github.com/emersion/go-ical"

	"github.com/calendrierhub/caldav/internal/dav"
)

// Calendar is a single CalDAV calendar collection.
type Calendar struct {
	DavObject
}

// SaveEvent builds a VEVENT calendar object from data (raw iCalendar bytes
// or an already-built *ical.Component) and saves it.
func (c *Calendar) SaveEvent(data any) (*CalendarObject, error) {
	return c.saveComponent(data, ical.CompEvent)
}

// SaveTodo builds a VTODO calendar object and saves it.
func (c *Calendar) SaveTodo(data any) (*CalendarObject, error) {
	return c.saveComponent(data, ical.CompToDo)
}

// SaveJournal builds a VJOURNAL calendar object and saves it.
func (c *Calendar) SaveJournal(data any) (*CalendarObject, error) {
	return c.saveComponent(data, ical.CompJournal)
}

func (c *Calendar) saveComponent(data any, kind string) (*CalendarObject, error) {
	obj := newCalendarObject(c.client, c.url)
	switch v := data.(type) {
	case []byte:
		obj.SetData(v)
	case *ical.Component:
		cal := ical.NewCalendar()
		cal.Props.SetText(ical.PropProductID, "-//calendrierhub/caldav//NONSGML v1.0//EN")
		cal.Props.SetText(ical.PropVersion, "2.0")
		cal.Children = append(cal.Children, v)
		obj.SetICalendar(cal)
	case *ical.Calendar:
		obj.SetICalendar(v)
	default:
		return nil, &ConsistencyError{Reason: "save: unsupported data type for " + kind}
	}
	if err := obj.Save(SaveOptions{IncreaseSeqno: true}); err != nil {
		return nil, err
	}
	return obj, nil
}

// query runs a calendar-query REPORT for componentType, optionally bounded
// by a time range, and decodes each result into a CalendarObject.
func (c *Calendar) query(componentType string, start, end time.Time, propFilters []dav.PropFilter) ([]*CalendarObject, error) {
	req := c.client.engine.CalendarQueryRequest(c.url, dav.CompFilterQuery{
		ComponentType: componentType,
		Start:         start,
		End:           end,
		PropFilters:   propFilters,
	}, dav.CalendarDataRequest{}, 1)
	resp, err := c.client.do(req)
	if err != nil {
		return nil, err
	}
	results, err := c.client.engine.ParseCalendarQuery(resp)
	if err != nil {
		return nil, &ResponseError{URL: c.url, Reason: err.Error()}
	}
	out := make([]*CalendarObject, 0, len(results))
	for _, r := range results {
		if r.Status.Code == 404 {
			continue
		}
		obj := newCalendarObject(c.client, c.url)
		obj.objectURL = NormalizeHref(r.Href, c.client.quirks.DoubleEncodedHrefs)
		obj.etag = r.ETag
		obj.SetData(r.Data)
		out = append(out, obj)
	}
	return out, nil
}

// Events returns every VEVENT object in the calendar.
func (c *Calendar) Events() ([]*CalendarObject, error) {
	return c.query(ical.CompEvent, time.Time{}, time.Time{}, nil)
}

// Todos returns VTODO objects, excluding completed tasks unless
// includeCompleted is set, sorted client-side by sortKeys (property names,
// "-" prefix for descending).
func (c *Calendar) Todos(includeCompleted bool, sortKeys []string) ([]*CalendarObject, error) {
	objs, err := c.query(ical.CompToDo, time.Time{}, time.Time{}, nil)
	if err != nil {
		return nil, err
	}
	if !includeCompleted {
		filtered := objs[:0]
		for _, o := range objs {
			comp, err := o.component()
			if err != nil {
				continue
			}
			if IsTaskPending(comp) {
				filtered = append(filtered, o)
			}
		}
		objs = filtered
	}
	sortObjectsByKeys(objs, sortKeys)
	return objs, nil
}

// Journals returns every VJOURNAL object in the calendar.
func (c *Calendar) Journals() ([]*CalendarObject, error) {
	return c.query(ical.CompJournal, time.Time{}, time.Time{}, nil)
}

// ObjectByUID finds the single object (of any component type) whose UID
// matches uid.
func (c *Calendar) ObjectByUID(uid string) (*CalendarObject, error) {
	for _, kind := range []string{ical.CompEvent, ical.CompToDo, ical.CompJournal} {
		objs, err := c.query(kind, time.Time{}, time.Time{}, []dav.PropFilter{{
			Name:      "UID",
			TextMatch: &dav.TextMatch{Value: uid, CaseSensitive: true},
		}})
		if err != nil {
			return nil, err
		}
		if len(objs) > 0 {
			return objs[0], nil
		}
	}
	return nil, &NotFoundError{URL: c.url + " (uid " + uid + ")"}
}

// EventByUID finds the single VEVENT object with the given UID.
func (c *Calendar) EventByUID(uid string) (*CalendarObject, error) {
	return c.objectByUIDOfKind(ical.CompEvent, uid)
}

// TodoByUID finds the single VTODO object with the given UID.
func (c *Calendar) TodoByUID(uid string) (*CalendarObject, error) {
	return c.objectByUIDOfKind(ical.CompToDo, uid)
}

// JournalByUID finds the single VJOURNAL object with the given UID.
func (c *Calendar) JournalByUID(uid string) (*CalendarObject, error) {
	return c.objectByUIDOfKind(ical.CompJournal, uid)
}

func (c *Calendar) objectByUIDOfKind(kind, uid string) (*CalendarObject, error) {
	objs, err := c.query(kind, time.Time{}, time.Time{}, []dav.PropFilter{{
		Name:      "UID",
		TextMatch: &dav.TextMatch{Value: uid, CaseSensitive: true},
	}})
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, &NotFoundError{URL: c.url + " (uid " + uid + ")"}
	}
	return objs[0], nil
}

// Search returns a CaldavSearcher builder bound to this calendar.
func (c *Calendar) Search() *CaldavSearcher {
	return NewSearcher(c)
}

// GetSupportedComponents reads supported-calendar-component-set.
func (c *Calendar) GetSupportedComponents() ([]string, error) {
	v, err := c.GetProperty(dav.QSupportedComponentSet, true)
	if err != nil {
		return nil, err
	}
	return v.Strings, nil
}

// GetColor reads the Apple iCal calendar-color extension property.
func (c *Calendar) GetColor() (string, error) {
	v, err := c.GetProperty(dav.QCalendarColor, true)
	if err != nil {
		return "", err
	}
	return v.AsText(), nil
}

// GetCTag reads the CalendarServer getctag extension property, a cheap
// single-value change indicator for the whole collection.
func (c *Calendar) GetCTag() (string, error) {
	v, err := c.GetProperty(dav.QGetCTag, false)
	if err != nil {
		return "", err
	}
	return v.AsText(), nil
}

// ReadOnly reports whether the current-user-privilege-set lacks {DAV:}write.
func (c *Calendar) ReadOnly() (bool, error) {
	req := c.client.engine.PropfindRequest(c.url, []xml.Name{dav.QCurrentUserPrivSet}, 0)
	resp, err := c.client.do(req)
	if err != nil {
		return false, err
	}
	results, err := c.client.engine.ParsePropfind(resp)
	if err != nil {
		return false, &ResponseError{URL: c.url, Reason: err.Error()}
	}
	result, ok := FindObjectProperties(results, c.url)
	if !ok {
		return true, nil
	}
	v, ok := result.Get(dav.QName(dav.QCurrentUserPrivSet))
	if !ok {
		return true, nil
	}
	for _, s := range v.Strings {
		if s == "{DAV:}write" {
			return false, nil
		}
	}
	return true, nil
}

// FreeBusyRequest issues a free-busy-query REPORT over [start, end) and
// returns the resulting VFREEBUSY component wrapped as a FreeBusy.
func (c *Calendar) FreeBusyRequest(start, end time.Time) (*FreeBusy, error) {
	req := c.client.engine.FreeBusyRequest(c.url, start, end)
	resp, err := c.client.do(req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &ResponseError{URL: c.url, Reason: "free-busy-query failed"}
	}
	cal, err := c.client.codec.Decode(resp.Body)
	if err != nil {
		return nil, &ResponseError{URL: c.url, Reason: err.Error()}
	}
	return &FreeBusy{cal: cal}, nil
}

// GetObjectsBySyncToken delegates to the synchronization layer (see
// sync.go): with server support it issues a sync-collection REPORT,
// otherwise it falls back to the deterministic fake-token digest.
func (c *Calendar) GetObjectsBySyncToken(token string, loadObjects bool) (SyncResult, error) {
	return syncCalendar(c, token, loadObjects)
}

func sortObjectsByKeys(objs []*CalendarObject, keys []string) {
	if len(keys) == 0 {
		return
	}
	less := func(i, j int) bool {
		for _, key := range keys {
			desc := false
			k := key
			if len(k) > 0 && k[0] == '-' {
				desc = true
				k = k[1:]
			}
			vi, oki := sortValue(objs[i], k)
			vj, okj := sortValue(objs[j], k)
			switch {
			case !oki && !okj:
				continue
			case !oki:
				return false
			case !okj:
				return true
			case vi == vj:
				continue
			case desc:
				return vi > vj
			default:
				return vi < vj
			}
		}
		return false
	}
	insertionSortObjects(objs, less)
}

func sortValue(o *CalendarObject, propName string) (string, bool) {
	comp, err := o.component()
	if err != nil {
		return "", false
	}
	p := comp.Props.Get(propName)
	if p == nil {
		return "", false
	}
	return p.Value, true
}

func insertionSortObjects(objs []*CalendarObject, less func(i, j int) bool) {
	for i := 1; i < len(objs); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			objs[j], objs[j-1] = objs[j-1], objs[j]
		}
	}
}
