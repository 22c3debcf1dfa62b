package caldav

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/calendrierhub/caldav/internal/dav"
)

// FilterOp mirrors dav.TextMatchOp at the search-builder level, so callers
// of CaldavSearcher don't need to import internal/dav.
type FilterOp int

const (
	FilterContains FilterOp = iota
	FilterEquals
	FilterIsDefined
	FilterIsNotDefined
)

// PropertyFilter is one (prop_name, pattern, operator) search predicate.
type PropertyFilter struct {
	Name          string
	Pattern       string
	Op            FilterOp
	CaseSensitive bool
	Negate        bool
}

// CaldavSearcher is a builder-style query descriptor executed against a
// Calendar via Search.
type CaldavSearcher struct {
	cal *Calendar

	component string // "VEVENT", "VTODO", "VJOURNAL"
	start, end time.Time

	filters []PropertyFilter

	expand           bool
	includeCompleted bool
	splitExpanded    bool
	postFilter       bool
	sortKeys         []string
}

// NewSearcher returns a CaldavSearcher bound to cal, defaulting to VEVENT.
func NewSearcher(cal *Calendar) *CaldavSearcher {
	return &CaldavSearcher{cal: cal, component: ical.CompEvent}
}

func (s *CaldavSearcher) Event() *CaldavSearcher   { s.component = ical.CompEvent; return s }
func (s *CaldavSearcher) Todo() *CaldavSearcher    { s.component = ical.CompToDo; return s }
func (s *CaldavSearcher) Journal() *CaldavSearcher { s.component = ical.CompJournal; return s }

func (s *CaldavSearcher) TimeRange(start, end time.Time) *CaldavSearcher {
	s.start, s.end = start, end
	return s
}

func (s *CaldavSearcher) Filter(f PropertyFilter) *CaldavSearcher {
	s.filters = append(s.filters, f)
	return s
}

// Convenience keyword filters, one per commonly-filtered property.
func (s *CaldavSearcher) Summary(pattern string) *CaldavSearcher     { return s.contains("SUMMARY", pattern) }
func (s *CaldavSearcher) Category(pattern string) *CaldavSearcher    { return s.contains("CATEGORIES", pattern) }
func (s *CaldavSearcher) UID(pattern string) *CaldavSearcher         { return s.equals("UID", pattern) }
func (s *CaldavSearcher) Comment(pattern string) *CaldavSearcher     { return s.contains("COMMENT", pattern) }
func (s *CaldavSearcher) Description(pattern string) *CaldavSearcher { return s.contains("DESCRIPTION", pattern) }
func (s *CaldavSearcher) Class(pattern string) *CaldavSearcher       { return s.equals("CLASS", pattern) }
func (s *CaldavSearcher) Location(pattern string) *CaldavSearcher    { return s.contains("LOCATION", pattern) }
func (s *CaldavSearcher) Resources(pattern string) *CaldavSearcher   { return s.contains("RESOURCES", pattern) }
func (s *CaldavSearcher) Status(pattern string) *CaldavSearcher      { return s.equals("STATUS", pattern) }
func (s *CaldavSearcher) Transp(pattern string) *CaldavSearcher      { return s.equals("TRANSP", pattern) }
func (s *CaldavSearcher) Priority(pattern string) *CaldavSearcher    { return s.equals("PRIORITY", pattern) }
func (s *CaldavSearcher) Organizer(pattern string) *CaldavSearcher   { return s.contains("ORGANIZER", pattern) }
func (s *CaldavSearcher) Attendee(pattern string) *CaldavSearcher    { return s.contains("ATTENDEE", pattern) }

func (s *CaldavSearcher) contains(name, pattern string) *CaldavSearcher {
	return s.Filter(PropertyFilter{Name: name, Pattern: pattern, Op: FilterContains})
}

func (s *CaldavSearcher) equals(name, pattern string) *CaldavSearcher {
	return s.Filter(PropertyFilter{Name: name, Pattern: pattern, Op: FilterEquals})
}

func (s *CaldavSearcher) Expand(expand bool) *CaldavSearcher {
	s.expand = expand
	return s
}

func (s *CaldavSearcher) IncludeCompleted(v bool) *CaldavSearcher {
	s.includeCompleted = v
	return s
}

func (s *CaldavSearcher) SplitExpanded(v bool) *CaldavSearcher {
	s.splitExpanded = v
	return s
}

func (s *CaldavSearcher) PostFilter(v bool) *CaldavSearcher {
	s.postFilter = v
	return s
}

func (s *CaldavSearcher) SortKeys(keys ...string) *CaldavSearcher {
	s.sortKeys = keys
	return s
}

func toDavFilters(filters []PropertyFilter) []dav.PropFilter {
	out := make([]dav.PropFilter, 0, len(filters))
	for _, f := range filters {
		pf := dav.PropFilter{Name: f.Name}
		switch f.Op {
		case FilterIsDefined:
			pf.Op = dav.OpIsDefined
		case FilterIsNotDefined:
			pf.Op = dav.OpIsNotDefined
		default:
			if f.Op == FilterEquals {
				pf.Op = dav.OpEquals
			} else {
				pf.Op = dav.OpContains
			}
			pf.TextMatch = &dav.TextMatch{Value: f.Pattern, Negate: f.Negate, CaseSensitive: f.CaseSensitive}
		}
		out = append(out, pf)
	}
	return out
}

// Do executes the search: builds and sends the calendar-query, optionally
// re-evaluates the same predicates client-side, optionally expands
// recurrences into one result per occurrence, and sorts by SortKeys.
func (s *CaldavSearcher) Do() ([]*CalendarObject, error) {
	cd := dav.CalendarDataRequest{}
	serverExpand := s.expand && !s.start.IsZero() && !s.cal.client.quirks.ExpandUnsupported
	if serverExpand {
		cd.ExpandStart, cd.ExpandEnd = s.start, s.end
	}

	req := s.cal.client.engine.CalendarQueryRequest(s.cal.url, dav.CompFilterQuery{
		ComponentType: s.component,
		Start:         s.start,
		End:           s.end,
		PropFilters:   toDavFilters(s.filters),
	}, cd, 1)
	resp, err := s.cal.client.do(req)
	if err != nil {
		return nil, err
	}
	results, err := s.cal.client.engine.ParseCalendarQuery(resp)
	if err != nil {
		return nil, &ResponseError{URL: s.cal.url, Reason: err.Error()}
	}

	objs := make([]*CalendarObject, 0, len(results))
	for _, r := range results {
		if r.Status.Code == 404 {
			continue
		}
		obj := newCalendarObject(s.cal.client, s.cal.url)
		obj.objectURL = NormalizeHref(r.Href, s.cal.client.quirks.DoubleEncodedHrefs)
		obj.etag = r.ETag
		obj.SetData(r.Data)
		objs = append(objs, obj)
	}

	if !s.includeCompleted && s.component == ical.CompToDo {
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

	if s.postFilter {
		filtered := objs[:0]
		for _, o := range objs {
			comp, err := o.component()
			if err != nil {
				continue
			}
			if evaluatePredicates(comp, s.filters) {
				filtered = append(filtered, o)
			}
		}
		objs = filtered
	}

	// A caller asking for expansion that the server can't honor still gets
	// it, computed locally from the raw recurrence data.
	clientSideExpand := s.splitExpanded || (s.expand && !serverExpand)
	if clientSideExpand {
		objs, err = splitExpandedObjects(objs, s.cal.client, s.start, s.end)
		if err != nil {
			return nil, err
		}
	}

	sortObjectsByKeys(objs, s.sortKeys)
	return objs, nil
}

func evaluatePredicates(comp *ical.Component, filters []PropertyFilter) bool {
	for _, f := range filters {
		p := comp.Props.Get(f.Name)
		defined := p != nil
		ok := false
		switch f.Op {
		case FilterIsDefined:
			ok = defined
		case FilterIsNotDefined:
			ok = !defined
		case FilterEquals:
			ok = defined && matchText(p.Value, f.Pattern, f.CaseSensitive)
		default:
			ok = defined && matchContains(p.Value, f.Pattern, f.CaseSensitive)
		}
		if f.Negate {
			ok = !ok
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchText(value, pattern string, caseSensitive bool) bool {
	if caseSensitive {
		return value == pattern
	}
	return strings.EqualFold(value, pattern)
}

func matchContains(value, pattern string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(value, pattern)
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

// splitExpandedObjects expands each object's recurrence within [start, end),
// computed locally via the codec from the master's RRULE/RDATE, into one
// CalendarObject per occurrence, preserving any VTIMEZONE sibling from the
// source calendar. An object whose master carries no RRULE/RDATE (including
// calendar-data the server already expanded) is passed through unsplit.
func splitExpandedObjects(objs []*CalendarObject, client *Client, start, end time.Time) ([]*CalendarObject, error) {
	var out []*CalendarObject
	for _, o := range objs {
		cal, err := o.ICalendar()
		if err != nil {
			return nil, err
		}
		master, err := o.component()
		if err != nil {
			return nil, err
		}
		rec := client.codec.Recurrence(master)
		if !rec.HasRecurrence() {
			out = append(out, o)
			continue
		}
		masterStart, err := master.Props.DateTime(ical.PropDateTimeStart, nil)
		if err != nil {
			out = append(out, o)
			continue
		}
		occurrences, err := client.codec.ExpandOccurrences(masterStart, rec, start, end, 0)
		if err != nil {
			return nil, err
		}
		for _, occ := range occurrences {
			clone := newCalendarObject(client, o.collectionURL)
			clone.objectURL = o.objectURL
			clone.etag = o.etag

			occCal := ical.NewCalendar()
			for name, props := range cal.Props {
				occCal.Props[name] = append([]ical.Prop(nil), props...)
			}
			for _, c := range cal.Children {
				if c.Name == ical.CompTimezone {
					occCal.Children = append(occCal.Children, c)
				}
			}
			occComp := ical.NewComponent(master.Name)
			for name, props := range master.Props {
				occComp.Props[name] = append([]ical.Prop(nil), props...)
			}
			occComp.Props.SetDateTime(ical.PropDateTimeStart, occ)
			occCal.Children = append(occCal.Children, occComp)
			clone.SetICalendar(occCal)
			out = append(out, clone)
		}
	}
	return out, nil
}
