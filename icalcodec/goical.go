package icalcodec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const icalTimeFormat = "20060102T150405Z"

// GoICalCodec is the default Codec, backed by emersion/go-ical for parsing
// and serialization and teambition/rrule-go for recurrence expansion.
type GoICalCodec struct{}

func NewGoICalCodec() *GoICalCodec { return &GoICalCodec{} }

func (GoICalCodec) Decode(raw []byte) (*ical.Calendar, error) {
	dec := ical.NewDecoder(bytes.NewReader(raw))
	cal, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("icalcodec: decode: %w", err)
	}
	return cal, nil
}

func (GoICalCodec) Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	if err := enc.Encode(cal); err != nil {
		return nil, fmt.Errorf("icalcodec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (GoICalCodec) Kind(comp *ical.Component) ComponentKind {
	switch comp.Name {
	case ical.CompEvent:
		return KindEvent
	case ical.CompToDo:
		return KindTodo
	case ical.CompJournal:
		return KindJournal
	case "VFREEBUSY":
		return KindFreeBusy
	default:
		return KindUnknown
	}
}

func (GoICalCodec) UID(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropUID); p != nil {
		return p.Value
	}
	return ""
}

// TimeSpan resolves a component's effective start/end following RFC 5545:
// DTEND if present, else start+DURATION, else a default that depends on
// whether the component is an all-day (DATE-valued) event; VTODO folds in
// DUE as described in server/recurrence/ical_integration.go.
func (GoICalCodec) TimeSpan(comp *ical.Component) (TimeSpan, bool) {
	dtstart, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
	hasStart := err == nil

	var start, end time.Time
	allDay := false
	if hasStart {
		start = dtstart
		allDay = isAllDayDate(comp, ical.PropDateTimeStart, start)

		if dtend, err := comp.Props.DateTime(ical.PropDateTimeEnd, nil); err == nil {
			end = dtend
			sy, sm, sd := start.Date()
			ey, em, ed := end.Date()
			if allDay && sy == ey && sm == em && sd == ed {
				end = start.AddDate(0, 0, 1)
			}
		} else if durProp := comp.Props.Get(ical.PropDuration); durProp != nil {
			dur, derr := durProp.Duration()
			if derr != nil {
				return TimeSpan{}, false
			}
			end = start.Add(dur)
		} else if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			end = start
		}
	}

	if comp.Name == ical.CompToDo {
		if due, err := comp.Props.DateTime(ical.PropDue, nil); err == nil {
			if !hasStart {
				start, end, hasStart = due, due, true
			} else if due.After(end) {
				end = due
			}
		}
	}

	if !hasStart {
		return TimeSpan{}, false
	}
	return TimeSpan{Start: start, End: end, AllDay: allDay}, true
}

func isAllDayDate(comp *ical.Component, name string, t time.Time) bool {
	if p := comp.Props.Get(name); p != nil {
		if strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE") {
			return true
		}
	}
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

func (GoICalCodec) Recurrence(comp *ical.Component) RecurrenceInfo {
	var info RecurrenceInfo
	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil && p.Value != "" {
		info.RRULE = p.Value
	}
	if p := comp.Props.Get(ical.PropRecurrenceDates); p != nil && p.Value != "" {
		info.RDATE = parseDateList(p.Value, p.Params)
	}
	if p := comp.Props.Get(ical.PropExceptionDates); p != nil && p.Value != "" {
		info.EXDATE = parseDateList(p.Value, p.Params)
	}
	if p := comp.Props.Get("RECURRENCE-ID"); p != nil && p.Value != "" {
		if t, err := parseICalInstant(p.Value, p.Params); err == nil {
			info.RecurrenceID = &t
		}
	}
	return info
}

func parseDateList(value string, params ical.Params) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := parseICalInstant(part, params); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func parseICalInstant(value string, params ical.Params) (time.Time, error) {
	if strings.EqualFold(params.Get(ical.ParamValue), "DATE") {
		t, err := time.Parse("20060102", value)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if t, err := time.Parse(icalTimeFormat, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("20060102", value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func (c GoICalCodec) ExpandOccurrences(masterStart time.Time, rec RecurrenceInfo, rangeStart, rangeEnd time.Time, maxOccurrences int) ([]time.Time, error) {
	var occurrences []time.Time

	if rec.RRULE != "" {
		ruleSet, err := c.buildRuleSet(masterStart, rec.RRULE)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, ruleSet.Between(rangeStart, rangeEnd, true)...)
	} else if !masterStart.Before(rangeStart) && masterStart.Before(rangeEnd) {
		occurrences = append(occurrences, masterStart)
	}

	for _, rdate := range rec.RDATE {
		if !rdate.Before(rangeStart) && rdate.Before(rangeEnd) {
			occurrences = append(occurrences, rdate)
		}
	}

	filtered := occurrences[:0]
	for _, o := range occurrences {
		if !isExcluded(o, rec.EXDATE) {
			filtered = append(filtered, o)
		}
	}
	occurrences = filtered

	sortTimes(occurrences)
	if maxOccurrences > 0 && len(occurrences) > maxOccurrences {
		occurrences = occurrences[:maxOccurrences]
	}
	return occurrences, nil
}

func (c GoICalCodec) HasOccurrenceInRange(masterStart, masterEnd time.Time, rec RecurrenceInfo, rangeStart, rangeEnd time.Time) (bool, error) {
	if !masterStart.After(rangeEnd) && !masterEnd.Before(rangeStart) && !isExcluded(masterStart, rec.EXDATE) {
		return true, nil
	}

	if rec.RRULE != "" {
		limitedEnd := rangeEnd
		if rangeEnd.Sub(rangeStart) > 90*24*time.Hour {
			limitedEnd = rangeStart.Add(90 * 24 * time.Hour)
		}
		occurrences, err := c.ExpandOccurrences(masterStart, RecurrenceInfo{RRULE: rec.RRULE, EXDATE: rec.EXDATE}, rangeStart, limitedEnd, 0)
		if err != nil {
			return false, err
		}
		if len(occurrences) > 0 {
			return true, nil
		}
		if limitedEnd.Before(rangeEnd) {
			full, err := c.ExpandOccurrences(masterStart, RecurrenceInfo{RRULE: rec.RRULE, EXDATE: rec.EXDATE}, rangeStart, rangeEnd, 100)
			if err != nil {
				return false, err
			}
			if len(full) > 0 {
				return true, nil
			}
		}
	}

	duration := masterEnd.Sub(masterStart)
	for _, rdate := range rec.RDATE {
		rdateEnd := rdate.Add(duration)
		if !rdate.After(rangeEnd) && !rdateEnd.Before(rangeStart) && !isExcluded(rdate, rec.EXDATE) {
			return true, nil
		}
	}
	return false, nil
}

func (GoICalCodec) ReduceCount(rruleStr string, consumed int) (string, bool) {
	parts := strings.Split(rruleStr, ";")
	for i, p := range parts {
		if !strings.HasPrefix(strings.ToUpper(p), "COUNT=") {
			continue
		}
		eq := strings.IndexByte(p, '=')
		n, err := strconv.Atoi(p[eq+1:])
		if err != nil {
			return "", false
		}
		remaining := n - consumed
		if remaining < 0 {
			remaining = 0
		}
		parts[i] = "COUNT=" + strconv.Itoa(remaining)
		return strings.Join(parts, ";"), true
	}
	return "", false
}

func (GoICalCodec) buildRuleSet(masterStart time.Time, rruleStr string) (*rrule.Set, error) {
	dtstart := masterStart.UTC().Format(icalTimeFormat)
	full := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)
	ruleSet, err := rrule.StrToRRuleSet(full)
	if err != nil {
		return nil, fmt.Errorf("icalcodec: parse RRULE %q: %w", rruleStr, err)
	}
	return ruleSet, nil
}

func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if t.Equal(ex) {
			return true
		}
		if ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 && ex.Location() == time.UTC {
			midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			if midnight.Equal(ex) {
				return true
			}
		}
	}
	return false
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}
