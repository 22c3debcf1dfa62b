package caldav

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/calendrierhub/caldav/internal/dav"
)

// objState is the CalendarObject data-state machine position. Only one
// representation is authoritative at a time; a transition invalidates any
// previously-handed-out structured reference.
type objState int

const (
	stateEmpty objState = iota
	stateRaw
	stateParsed
)

// CalendarObject is a single calendar resource (an event, todo, journal, or
// free-busy report) identified by a URL within a Calendar. It may hold both
// raw iCalendar bytes and a parsed *ical.Calendar, but only the one named by
// its state is authoritative.
type CalendarObject struct {
	client        *Client
	collectionURL string
	objectURL     string
	etag          string
	scheduleTag   string

	state objState
	raw   []byte
	cal   *ical.Calendar
}

func newCalendarObject(c *Client, collectionURL string) *CalendarObject {
	return &CalendarObject{client: c, collectionURL: collectionURL, state: stateEmpty}
}

// URL returns the object's resource URL, empty until Save or SetURL.
func (o *CalendarObject) URL() string { return o.objectURL }

// ETag returns the last known etag (set after Load/Save).
func (o *CalendarObject) ETag() string { return o.etag }

// SetData loads raw iCalendar bytes, transitioning to Raw.
func (o *CalendarObject) SetData(raw []byte) {
	o.raw = raw
	o.cal = nil
	o.state = stateRaw
}

// SetICalendar adopts an already-parsed calendar, transitioning to Parsed.
func (o *CalendarObject) SetICalendar(cal *ical.Calendar) {
	o.cal = cal
	o.raw = nil
	o.state = stateParsed
}

// Data returns the object's serialized iCalendar bytes, reserializing from
// the parsed form if necessary (Parsed -> Raw).
func (o *CalendarObject) Data() ([]byte, error) {
	switch o.state {
	case stateRaw:
		return o.raw, nil
	case stateParsed:
		b, err := o.client.codec.Encode(o.cal)
		if err != nil {
			return nil, fmt.Errorf("caldav: encode calendar object: %w", err)
		}
		o.raw = b
		o.state = stateRaw
		return b, nil
	default:
		return nil, fmt.Errorf("caldav: calendar object has no data (state Empty)")
	}
}

// ICalendar returns the object's parsed calendar, parsing from raw bytes if
// necessary (Raw -> Parsed).
func (o *CalendarObject) ICalendar() (*ical.Calendar, error) {
	switch o.state {
	case stateParsed:
		return o.cal, nil
	case stateRaw:
		cal, err := o.client.codec.Decode(o.raw)
		if err != nil {
			return nil, fmt.Errorf("caldav: decode calendar object: %w", err)
		}
		o.cal = cal
		o.state = stateParsed
		return cal, nil
	default:
		return nil, fmt.Errorf("caldav: calendar object has no data (state Empty)")
	}
}

// component returns the first non-VTIMEZONE child component, which is the
// master (or sole) VEVENT/VTODO/VJOURNAL/VFREEBUSY this object wraps.
func (o *CalendarObject) component() (*ical.Component, error) {
	cal, err := o.ICalendar()
	if err != nil {
		return nil, err
	}
	for _, c := range cal.Children {
		if c.Name != ical.CompTimezone {
			return c, nil
		}
	}
	return nil, fmt.Errorf("caldav: calendar object has no event/todo/journal component")
}

// Load issues a GET for the object's URL, populating its data, etag, and
// schedule-tag. On any transport error it falls back to a calendar-multiget
// REPORT against its own URL. A 404 raises NotFoundError. If onlyIfUnloaded
// is true and the object is already non-Empty, Load is a no-op.
func (o *CalendarObject) Load(onlyIfUnloaded bool) error {
	if onlyIfUnloaded && o.state != stateEmpty {
		return nil
	}
	req := o.client.engine.GetRequest(o.objectURL)
	resp, err := o.client.do(req)
	if err != nil {
		return o.loadViaMultiget()
	}
	if resp.Status == 404 {
		return &NotFoundError{URL: o.objectURL}
	}
	if !resp.OK() {
		return o.loadViaMultiget()
	}
	o.SetData(resp.Body)
	o.etag = resp.Headers.Get("ETag")
	o.scheduleTag = resp.Headers.Get("Schedule-Tag")
	return nil
}

func (o *CalendarObject) loadViaMultiget() error {
	req := o.client.engine.CalendarMultigetRequest(o.collectionURL, []string{o.objectURL})
	resp, err := o.client.do(req)
	if err != nil {
		return err
	}
	results, err := o.client.engine.ParseCalendarMultiget(resp)
	if err != nil {
		return &ResponseError{URL: o.objectURL, Reason: err.Error()}
	}
	for _, r := range results {
		if r.Status.Code == 404 {
			return &NotFoundError{URL: o.objectURL}
		}
		o.SetData(r.Data)
		o.etag = r.ETag
		return nil
	}
	return &NotFoundError{URL: o.objectURL}
}

// SaveOptions controls the conditional headers of CalendarObject.Save.
// OnlyThisRecurrence and AllRecurrences are only checked against each
// other; Save PUTs the whole calendar as held and does not rewrite
// recurrence overrides.
type SaveOptions struct {
	NoOverwrite        bool
	NoCreate           bool
	IfScheduleTagMatch bool
	OnlyThisRecurrence bool
	AllRecurrences     bool
	IncreaseSeqno      bool // not defaulted: the zero value leaves SEQUENCE unchanged
}

// Save PUTs the object, deriving conditional headers from the cached
// etag/schedule-tag and opts. It bumps SEQUENCE when IncreaseSeqno is set
// and a SEQUENCE property already exists, generates a URL/UID via the
// operations layer when absent, and rejects OnlyThisRecurrence+
// AllRecurrences both set as ConsistencyError.
func (o *CalendarObject) Save(opts SaveOptions) error {
	if opts.OnlyThisRecurrence && opts.AllRecurrences {
		return &ConsistencyError{Reason: "only_this_recurrence and all_recurrences cannot both be set"}
	}
	if !opts.OnlyThisRecurrence && !opts.AllRecurrences {
		opts.OnlyThisRecurrence = true
	}

	comp, err := o.component()
	if err != nil {
		return err
	}

	existingUID := ""
	if p := comp.Props.Get(ical.PropUID); p != nil {
		existingUID = p.Value
	}
	uid := FindIDAndPath(comp, "", o.objectURL, existingUID)

	if o.objectURL == "" {
		u, err := GenerateObjectURL(o.collectionURL, uid)
		if err != nil {
			return err
		}
		o.objectURL = u
	}

	if opts.IncreaseSeqno {
		if p := comp.Props.Get(ical.PropSequence); p != nil {
			n, _ := strconv.Atoi(p.Value)
			comp.Props.SetText(ical.PropSequence, strconv.Itoa(n+1))
		}
	}

	data, err := o.Data()
	if err != nil {
		return err
	}

	etag := o.etag
	if opts.NoCreate && etag == "" {
		return &ConsistencyError{Reason: "no_create set but object has never been saved"}
	}
	req := o.client.engine.PutRequest(o.objectURL, data, etag, opts.NoOverwrite)
	if opts.IfScheduleTagMatch && o.scheduleTag != "" {
		req = req.WithHeader("If-Schedule-Tag-Match", fmt.Sprintf("%q", o.scheduleTag))
	}

	resp, err := o.client.do(req)
	if err != nil {
		return err
	}
	if resp.Status != 200 && resp.Status != 201 && resp.Status != 204 {
		return &PutError{URL: o.objectURL, Status: resp.Status}
	}

	if newEtag := resp.Headers.Get("ETag"); newEtag != "" {
		o.etag = newEtag
	} else if o.client.quirks.EtagMissingAfterPUT {
		if v, err := o.refreshEtag(); err == nil {
			o.etag = v
		}
	}
	if st := resp.Headers.Get("Schedule-Tag"); st != "" {
		o.scheduleTag = st
	}
	return nil
}

func (o *CalendarObject) refreshEtag() (string, error) {
	obj := newDavObject(o.client, o.objectURL)
	v, err := obj.GetProperty(dav.QGetETag, false)
	if err != nil {
		return "", err
	}
	return v.AsText(), nil
}

// Delete removes this object, tolerating 200/204/404.
func (o *CalendarObject) Delete() error {
	req := o.client.engine.DeleteRequest(o.objectURL, o.etag)
	resp, err := o.client.do(req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case 200, 204, 404:
		return nil
	default:
		return &DeleteError{URL: o.objectURL, Status: resp.Status}
	}
}

// Copy produces a new unsaved CalendarObject under newParent (or this
// object's own collection if newParent is empty) carrying the same data. A
// fresh UID is generated unless keepUID is true.
func (o *CalendarObject) Copy(keepUID bool, newParent string) (*CalendarObject, error) {
	data, err := o.Data()
	if err != nil {
		return nil, err
	}
	parent := newParent
	if parent == "" {
		parent = o.collectionURL
	}
	clone := newCalendarObject(o.client, parent)
	clone.SetData(append([]byte(nil), data...))

	if !keepUID {
		comp, err := clone.component()
		if err != nil {
			return nil, err
		}
		delete(comp.Props, ical.PropUID)
		FindIDAndPath(comp, "", "", "")
	}
	return clone, nil
}

// AttendeeInput is the accepted shapes for AddAttendee: exactly one of
// these fields should be set.
type AttendeeInput struct {
	Principal  *Principal
	RawAddress string
	CommonName string
	Email      string
}

func (a AttendeeInput) resolve() (address string, cn string, err error) {
	switch {
	case a.Principal != nil:
		addr, params, err := a.Principal.GetVCalAddress()
		if err != nil {
			return "", "", err
		}
		return addr, params["CN"], nil
	case a.RawAddress != "":
		return a.RawAddress, "", nil
	case a.CommonName != "" && a.Email != "":
		return mailtoOf(a.Email), a.CommonName, nil
	case a.Email != "":
		return mailtoOf(a.Email), "", nil
	default:
		return "", "", fmt.Errorf("caldav: attendee input is empty")
	}
}

func mailtoOf(email string) string {
	if strings.HasPrefix(strings.ToLower(email), "mailto:") {
		return email
	}
	return "mailto:" + email
}

// AddAttendee appends an ATTENDEE property built from attendee, applying
// defaultParams for any parameter not present in params, and — absent any
// override — PARTSTAT=NEEDS-ACTION, CUTYPE=UNKNOWN, RSVP=TRUE,
// ROLE=REQ-PARTICIPANT.
func (o *CalendarObject) AddAttendee(attendee AttendeeInput, defaultParams map[string]string, params map[string]string) error {
	comp, err := o.component()
	if err != nil {
		return err
	}
	addr, cn, err := attendee.resolve()
	if err != nil {
		return err
	}

	merged := map[string]string{
		"PARTSTAT": "NEEDS-ACTION",
		"RSVP":     "TRUE",
		"ROLE":     "REQ-PARTICIPANT",
	}
	if cn != "" {
		merged["CN"] = cn
	}
	for k, v := range defaultParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	if _, ok := merged["CUTYPE"]; !ok {
		merged["CUTYPE"] = "UNKNOWN"
	}

	prop := ical.NewProp(ical.PropAttendee)
	prop.Value = addr
	for k, v := range merged {
		prop.Params.Set(k, v)
	}
	comp.Props.Add(prop)
	return nil
}

// AddOrganizer sets ORGANIZER from the client's principal vcal address.
func (o *CalendarObject) AddOrganizer() error {
	comp, err := o.component()
	if err != nil {
		return err
	}
	principal, err := o.client.Principal("")
	if err != nil {
		return err
	}
	addr, params, err := principal.GetVCalAddress()
	if err != nil {
		return err
	}
	prop := ical.NewProp(ical.PropOrganizer)
	prop.Value = addr
	for k, v := range params {
		prop.Params.Set(k, v)
	}
	comp.Props.Add(prop)
	return nil
}

// GetDuration delegates to the operations layer, selecting the end
// property by component kind (DTEND for events, DUE for todos).
func (o *CalendarObject) GetDuration() (time.Duration, error) {
	comp, err := o.component()
	if err != nil {
		return 0, err
	}
	return GetDuration(comp, o.endPropertyName())
}

// GetDue returns the todo's DUE time, computed from DTSTART+DURATION if DUE
// itself is absent.
func (o *CalendarObject) GetDue() (time.Time, error) {
	comp, err := o.component()
	if err != nil {
		return time.Time{}, err
	}
	if due, err := comp.Props.DateTime(ical.PropDue, nil); err == nil {
		return due, nil
	}
	start, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("caldav: todo has neither DUE nor DTSTART")
	}
	d, err := GetDuration(comp, ical.PropDue)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(d), nil
}

func (o *CalendarObject) endPropertyName() string {
	cal, err := o.ICalendar()
	if err != nil {
		return ical.PropDateTimeEnd
	}
	for _, c := range cal.Children {
		if c.Name == ical.CompToDo {
			return ical.PropDue
		}
	}
	return ical.PropDateTimeEnd
}

// Complete marks a recurring or non-recurring VTODO done. For a recurring
// task with handleRRule set, rruleMode selects between "safe" (the default:
// reduce the master's RRULE COUNT by one and add a RECURRENCE-ID override
// for the next occurrence, within the same resource) and "this-and-future"
// (reduce the RRULE's COUNT by one, mark the master COMPLETED, and drop the
// RRULE once COUNT is exhausted, with no override added).
func (o *CalendarObject) Complete(timestamp *time.Time, handleRRule bool, rruleMode string) error {
	comp, err := o.component()
	if err != nil {
		return err
	}
	if !handleRRule || comp.Props.Get(ical.PropRecurrenceRule) == nil {
		MarkTaskCompleted(comp, timestamp)
		return o.Save(SaveOptions{IncreaseSeqno: true})
	}

	if rruleMode == "" {
		rruleMode = "safe"
	}

	switch rruleMode {
	case "this-and-future":
		open := ReduceRRuleCount(comp, o.client.codec.ReduceCount)
		MarkTaskCompleted(comp, timestamp)
		if !open {
			delete(comp.Props, ical.PropRecurrenceRule)
		}
		return o.Save(SaveOptions{IncreaseSeqno: true})
	case "safe":
		return o.completeSafe(comp, timestamp)
	default:
		return &ConsistencyError{Reason: "unknown rrule_mode: " + rruleMode}
	}
}

// completeSafe implements the "safe" completion mode: the master's RRULE
// COUNT is reduced by one and the master itself is marked COMPLETED, and if
// a next occurrence exists, a RECURRENCE-ID override sharing the master's
// UID is added to the same VCALENDAR resource, with DTSTART and (if
// present) DUE shifted by the occurrence delta and STATUS NEEDS-ACTION so
// that occurrence remains actionable.
func (o *CalendarObject) completeSafe(comp *ical.Component, timestamp *time.Time) error {
	rec := o.client.codec.Recurrence(comp)
	start, startErr := comp.Props.DateTime(ical.PropDateTimeStart, nil)

	var next *ical.Component
	if rec.RRULE != "" && startErr == nil {
		occurrences, err := o.client.codec.ExpandOccurrences(start, rec, start.Add(time.Second), start.AddDate(10, 0, 0), 1)
		if err == nil && len(occurrences) > 0 {
			next = buildRecurrenceOverride(comp, start, occurrences[0])
		}
	}

	ReduceRRuleCount(comp, o.client.codec.ReduceCount)
	MarkTaskCompleted(comp, timestamp)

	if next != nil {
		cal, err := o.ICalendar()
		if err != nil {
			return err
		}
		cal.Children = append(cal.Children, next)
		o.SetICalendar(cal)
	}

	return o.Save(SaveOptions{IncreaseSeqno: true})
}

// buildRecurrenceOverride clones master into a RECURRENCE-ID override for
// occStart: DTSTART and (if present) DUE are shifted by occStart's delta
// from master's own DTSTART, COMPLETED is cleared, and STATUS is reset to
// NEEDS-ACTION.
func buildRecurrenceOverride(master *ical.Component, masterStart, occStart time.Time) *ical.Component {
	delta := occStart.Sub(masterStart)

	override := ical.NewComponent(master.Name)
	for name, props := range master.Props {
		override.Props[name] = append([]ical.Prop(nil), props...)
	}
	override.Props.SetDateTime(ical.PropDateTimeStart, occStart)
	override.Props.SetDateTime(ical.PropRecurrenceID, occStart)
	if due, err := master.Props.DateTime(ical.PropDue, nil); err == nil {
		override.Props.SetDateTime(ical.PropDue, due.Add(delta))
	}
	delete(override.Props, ical.PropCompleted)
	delete(override.Props, ical.PropRecurrenceRule)
	override.Props.SetText(ical.PropStatus, statusNeedsAction)
	return override
}
