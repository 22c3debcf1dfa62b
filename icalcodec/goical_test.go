package icalcodec

import (
	"strings"
	"testing"
	"time"
)

const sampleEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1@example.com\r\n" +
	"DTSTART:20260115T090000Z\r\n" +
	"DTEND:20260115T100000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestGoICalCodec_DecodeEncodeRoundTrip(t *testing.T) {
	codec := NewGoICalCodec()
	cal, err := codec.Decode([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cal.Children) != 1 {
		t.Fatalf("expected 1 child component, got %d", len(cal.Children))
	}
	comp := cal.Children[0]
	if codec.UID(comp) != "event-1@example.com" {
		t.Fatalf("UID = %q", codec.UID(comp))
	}
	if codec.Kind(comp) != KindEvent {
		t.Fatalf("Kind = %v", codec.Kind(comp))
	}

	raw, err := codec.Encode(cal)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), "UID:event-1@example.com") {
		t.Fatalf("encoded output missing UID: %s", raw)
	}
}

func TestGoICalCodec_TimeSpan_DTEnd(t *testing.T) {
	codec := NewGoICalCodec()
	cal, err := codec.Decode([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	span, ok := codec.TimeSpan(cal.Children[0])
	if !ok {
		t.Fatal("TimeSpan returned ok=false")
	}
	wantStart := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !span.Start.Equal(wantStart) || !span.End.Equal(wantEnd) {
		t.Fatalf("TimeSpan = %+v", span)
	}
	if span.AllDay {
		t.Fatal("expected non-all-day event")
	}
}

func TestGoICalCodec_Recurrence(t *testing.T) {
	codec := NewGoICalCodec()
	cal, err := codec.Decode([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rec := codec.Recurrence(cal.Children[0])
	if rec.RRULE != "FREQ=DAILY;COUNT=5" {
		t.Fatalf("RRULE = %q", rec.RRULE)
	}
	if !rec.HasRecurrence() {
		t.Fatal("HasRecurrence() = false")
	}
}

func TestGoICalCodec_ExpandOccurrences(t *testing.T) {
	codec := NewGoICalCodec()
	cal, err := codec.Decode([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rec := codec.Recurrence(cal.Children[0])
	masterStart := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	rangeStart := masterStart
	rangeEnd := masterStart.AddDate(0, 0, 10)

	occurrences, err := codec.ExpandOccurrences(masterStart, rec, rangeStart, rangeEnd, 0)
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	if len(occurrences) != 5 {
		t.Fatalf("expected 5 occurrences (COUNT=5), got %d", len(occurrences))
	}
	for i, occ := range occurrences {
		want := masterStart.AddDate(0, 0, i)
		if !occ.Equal(want) {
			t.Fatalf("occurrence %d = %v, want %v", i, occ, want)
		}
	}
}

func TestGoICalCodec_ExpandOccurrences_ExcludesEXDATE(t *testing.T) {
	codec := NewGoICalCodec()
	masterStart := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	rec := RecurrenceInfo{
		RRULE:  "FREQ=DAILY;COUNT=5",
		EXDATE: []time.Time{masterStart.AddDate(0, 0, 2)},
	}
	occurrences, err := codec.ExpandOccurrences(masterStart, rec, masterStart, masterStart.AddDate(0, 0, 10), 0)
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	if len(occurrences) != 4 {
		t.Fatalf("expected 4 occurrences after EXDATE, got %d", len(occurrences))
	}
}

func TestGoICalCodec_ReduceCount(t *testing.T) {
	codec := NewGoICalCodec()
	reduced, ok := codec.ReduceCount("FREQ=DAILY;COUNT=5", 2)
	if !ok {
		t.Fatal("ReduceCount returned ok=false")
	}
	if reduced != "FREQ=DAILY;COUNT=3" {
		t.Fatalf("reduced = %q", reduced)
	}

	_, ok = codec.ReduceCount("FREQ=DAILY;UNTIL=20260201T000000Z", 2)
	if ok {
		t.Fatal("ReduceCount should fail for a rule with no COUNT")
	}
}

func TestGoICalCodec_HasOccurrenceInRange(t *testing.T) {
	codec := NewGoICalCodec()
	masterStart := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	masterEnd := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	rec := RecurrenceInfo{RRULE: "FREQ=DAILY;COUNT=5"}

	ok, err := codec.HasOccurrenceInRange(masterStart, masterEnd, rec, masterStart.AddDate(0, 0, 3), masterStart.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("HasOccurrenceInRange: %v", err)
	}
	if !ok {
		t.Fatal("expected an occurrence in range")
	}

	ok, err = codec.HasOccurrenceInRange(masterStart, masterEnd, rec, masterStart.AddDate(0, 1, 0), masterStart.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("HasOccurrenceInRange: %v", err)
	}
	if ok {
		t.Fatal("expected no occurrence far outside the series")
	}
}
