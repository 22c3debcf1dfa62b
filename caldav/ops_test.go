package caldav

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/calendrierhub/caldav/internal/dav"
)

func propResult(name string, v dav.PropValue) map[string]dav.PropResult {
	return map[string]dav.PropResult{name: mo.Ok(v)}
}

func TestResolveChildren_ExcludesParentAndFiltersType(t *testing.T) {
	results := []dav.PropfindResult{
		{
			Href: "/calendars/alice/",
			Properties: propResult(dav.QName(dav.QResourcetype), dav.PropValue{
				Kind:       dav.PropKindComponentList,
				Components: []string{dav.QName(dav.QCollection)},
			}),
		},
		{
			Href: "/calendars/alice/work/",
			Properties: mergeProps(
				propResult(dav.QName(dav.QResourcetype), dav.PropValue{
					Kind:       dav.PropKindComponentList,
					Components: []string{dav.QName(dav.QCollection), dav.QName(dav.QCalendar)},
				}),
				propResult(dav.QName(dav.QDisplayName), dav.PropValue{Kind: dav.PropKindText, Text: "Work"}),
			),
		},
		{
			Href:       "/calendars/alice/home.vcf",
			Properties: propResult(dav.QName(dav.QResourcetype), dav.PropValue{Kind: dav.PropKindComponentList}),
		},
	}

	children, err := ResolveChildren(results, "/calendars/alice/", dav.QName(dav.QCalendar))
	if err != nil {
		t.Fatalf("ResolveChildren: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected 1 calendar child, got %d: %+v", len(children), children)
	}
	if children[0].DisplayName != "Work" {
		t.Fatalf("DisplayName = %q", children[0].DisplayName)
	}
}

func mergeProps(maps ...map[string]dav.PropResult) map[string]dav.PropResult {
	out := map[string]dav.PropResult{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestFindObjectProperties_TrailingSlashTolerant(t *testing.T) {
	results := []dav.PropfindResult{
		{Href: "/calendars/alice/work/1.ics/"},
	}
	_, ok := FindObjectProperties(results, "/calendars/alice/work/1.ics")
	if !ok {
		t.Fatal("expected a match despite trailing slash mismatch")
	}
}

func TestFindObjectProperties_SingleResultFallback(t *testing.T) {
	results := []dav.PropfindResult{
		{Href: "/unrelated/path"},
	}
	r, ok := FindObjectProperties(results, "/calendars/alice/work/1.ics")
	if !ok {
		t.Fatal("expected single-result fallback to match")
	}
	if r.Href != "/unrelated/path" {
		t.Fatalf("Href = %q", r.Href)
	}
}

func TestGenerateObjectURL(t *testing.T) {
	url, err := GenerateObjectURL("https://example.com/calendars/alice/work/", "event/with slash")
	if err != nil {
		t.Fatalf("GenerateObjectURL: %v", err)
	}
	want := "https://example.com/calendars/alice/work/event%2Fwith%20slash.ics"
	if url != want {
		t.Fatalf("GenerateObjectURL() = %q, want %q", url, want)
	}
}

func TestExtractUIDFromPath(t *testing.T) {
	if got := ExtractUIDFromPath("/calendars/alice/work/event-1.ics"); got != "event-1" {
		t.Fatalf("ExtractUIDFromPath() = %q", got)
	}
}

func TestFindIDAndPath_Precedence(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, "from-prop")

	if id := FindIDAndPath(comp, "given", "", "existing"); id != "given" {
		t.Fatalf("given ID should win, got %q", id)
	}
	if id := FindIDAndPath(comp, "", "", "existing"); id != "existing" {
		t.Fatalf("existing ID should win over prop/path, got %q", id)
	}

	comp2 := ical.NewComponent(ical.CompEvent)
	comp2.Props.SetText(ical.PropUID, "from-prop")
	if id := FindIDAndPath(comp2, "", "", ""); id != "from-prop" {
		t.Fatalf("component UID should win over path/generated, got %q", id)
	}

	comp3 := ical.NewComponent(ical.CompEvent)
	if id := FindIDAndPath(comp3, "", "/cal/from-path.ics", ""); id != "from-path" {
		t.Fatalf("path-derived ID should be used, got %q", id)
	}
	if comp3.Props.Get(ical.PropUID).Value != "from-path" {
		t.Fatal("FindIDAndPath must write the resolved UID back onto the component")
	}
}

func TestGetDuration_ExplicitDuration(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropDuration, "PT1H30M")
	d, err := GetDuration(comp, ical.PropDateTimeEnd)
	if err != nil {
		t.Fatalf("GetDuration: %v", err)
	}
	if d != 90*time.Minute {
		t.Fatalf("GetDuration() = %v", d)
	}
}

func TestGetDuration_FromEndProperty(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	comp.Props.SetDateTime(ical.PropDateTimeStart, start)
	comp.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(2*time.Hour))
	d, err := GetDuration(comp, ical.PropDateTimeEnd)
	if err != nil {
		t.Fatalf("GetDuration: %v", err)
	}
	if d != 2*time.Hour {
		t.Fatalf("GetDuration() = %v", d)
	}
}

func TestSetDuration(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	comp.Props.SetDateTime(ical.PropDateTimeStart, start)
	if err := SetDuration(comp, time.Hour, ical.PropDateTimeEnd, false); err != nil {
		t.Fatalf("SetDuration: %v", err)
	}
	end, err := comp.Props.DateTime(ical.PropDateTimeEnd, nil)
	if err != nil {
		t.Fatalf("DTEND missing after SetDuration: %v", err)
	}
	if !end.Equal(start.Add(time.Hour)) {
		t.Fatalf("DTEND = %v", end)
	}
}

func TestIsTaskPending(t *testing.T) {
	comp := ical.NewComponent(ical.CompToDo)
	if !IsTaskPending(comp) {
		t.Fatal("a bare VTODO should be pending")
	}
	MarkTaskCompleted(comp, nil)
	if IsTaskPending(comp) {
		t.Fatal("expected not-pending after MarkTaskCompleted")
	}
	MarkTaskUncompleted(comp)
	if !IsTaskPending(comp) {
		t.Fatal("expected pending after MarkTaskUncompleted")
	}
}

func TestReduceRRuleCount(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=1")

	reduce := func(rrule string, consumed int) (string, bool) {
		return "FREQ=DAILY;COUNT=0", true
	}
	ongoing := ReduceRRuleCount(comp, reduce)
	if ongoing {
		t.Fatal("expected false (series closed) when COUNT reaches zero")
	}
}

func TestReduceRRuleCount_NoCount(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;UNTIL=20260201T000000Z")
	reduce := func(rrule string, consumed int) (string, bool) { return "", false }
	if !ReduceRRuleCount(comp, reduce) {
		t.Fatal("an RRULE without COUNT should leave the series ongoing")
	}
}

func TestReverseRelType(t *testing.T) {
	v, ok := ReverseRelType("parent")
	if !ok || v != "CHILD" {
		t.Fatalf("ReverseRelType(parent) = %q, %v", v, ok)
	}
	if _, ok := ReverseRelType("UNKNOWN-REL"); ok {
		t.Fatal("expected ok=false for an unrecognized RELTYPE")
	}
}

func TestSanitizeCalendarHomeSetURL(t *testing.T) {
	if got := SanitizeCalendarHomeSetURL("/remote.php/dav/calendars/user@example.com/"); got != "/remote.php/dav/calendars/user%40example.com/" {
		t.Fatalf("SanitizeCalendarHomeSetURL() = %q", got)
	}
	abs := "https://example.com/dav/alice@example.com/"
	if got := SanitizeCalendarHomeSetURL(abs); got != abs {
		t.Fatal("an absolute URL should be left untouched")
	}
}

func TestGenerateFakeSyncToken_OrderIndependent(t *testing.T) {
	a := []SyncEntry{{URL: "/cal/1.ics", ETag: `"1"`}, {URL: "/cal/2.ics", ETag: `"2"`}}
	b := []SyncEntry{{URL: "/cal/2.ics", ETag: `"2"`}, {URL: "/cal/1.ics", ETag: `"1"`}}
	if GenerateFakeSyncToken(a) != GenerateFakeSyncToken(b) {
		t.Fatal("token must not depend on entry order")
	}
}

func TestGenerateFakeSyncToken_ChangesWithEtag(t *testing.T) {
	a := []SyncEntry{{URL: "/cal/1.ics", ETag: `"1"`}}
	b := []SyncEntry{{URL: "/cal/1.ics", ETag: `"2"`}}
	if GenerateFakeSyncToken(a) == GenerateFakeSyncToken(b) {
		t.Fatal("token must change when an etag changes")
	}
}
