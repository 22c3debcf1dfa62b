package dav

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, body []byte) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(body))
	return doc
}

func TestBuildPropfindBody_AllProp(t *testing.T) {
	body := BuildPropfindBody(nil)
	doc := parseDoc(t, body)
	root := doc.Root()
	require.Equal(t, "propfind", root.Tag)
	require.NotNil(t, findChild(root, QAllprop))
}

func TestBuildPropfindBody_NamedProps(t *testing.T) {
	body := BuildPropfindBody([]xml.Name{QDisplayName, QResourcetype})
	doc := parseDoc(t, body)
	prop := findChild(doc.Root(), QProp)
	require.NotNil(t, prop)
	assert.NotNil(t, findChild(prop, QDisplayName))
	assert.NotNil(t, findChild(prop, QResourcetype))
}

func TestBuildProppatchBody_SetAndRemove(t *testing.T) {
	body := BuildProppatchBody(SetRemoveProps{
		Set:    map[xml.Name]string{QDisplayName: "Work"},
		Remove: []xml.Name{QCalendarColor},
	})
	doc := parseDoc(t, body)
	root := doc.Root()
	require.Equal(t, "propertyupdate", root.Tag)

	setEl := findChild(root, QSet)
	require.NotNil(t, setEl)
	dn := findChild(findChild(setEl, QProp), QDisplayName)
	require.NotNil(t, dn)
	assert.Equal(t, "Work", dn.Text())

	removeEl := findChild(root, QRemove)
	require.NotNil(t, removeEl)
	assert.NotNil(t, findChild(findChild(removeEl, QProp), QCalendarColor))
}

func TestBuildCalendarQueryBody_TimeRangeAndPropFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	body := BuildCalendarQueryBody(CompFilterQuery{
		ComponentType: "VEVENT",
		Start:         start,
		End:           end,
		PropFilters: []PropFilter{
			{Name: "SUMMARY", TextMatch: &TextMatch{Value: "standup"}},
		},
	}, CalendarDataRequest{})

	doc := parseDoc(t, body)
	root := doc.Root()
	assert.Equal(t, "calendar-query", root.Tag)

	filter := findChild(root, QFilter)
	require.NotNil(t, filter)
	outer := findChild(filter, QCompFilter)
	require.NotNil(t, outer)
	assert.Equal(t, "VCALENDAR", outer.SelectAttrValue("name", ""))
	inner := findChild(outer, QCompFilter)
	require.NotNil(t, inner)
	assert.Equal(t, "VEVENT", inner.SelectAttrValue("name", ""))

	tr := findChild(inner, QTimeRange)
	require.NotNil(t, tr)
	assert.Equal(t, "20260101T000000Z", tr.SelectAttrValue("start", ""))
	assert.Equal(t, "20260201T000000Z", tr.SelectAttrValue("end", ""))

	pf := findChild(inner, QPropFilter)
	require.NotNil(t, pf)
	assert.Equal(t, "SUMMARY", pf.SelectAttrValue("name", ""))
	tm := findChild(pf, QTextMatch)
	require.NotNil(t, tm)
	assert.Equal(t, "standup", tm.Text())
	assert.Equal(t, "i;ascii-casemap", tm.SelectAttrValue("collation", ""))
}

func TestBuildCalendarQueryBody_ExpandAttributes(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	body := BuildCalendarQueryBody(CompFilterQuery{ComponentType: "VEVENT"}, CalendarDataRequest{
		ExpandStart: start,
		ExpandEnd:   end,
	})
	doc := parseDoc(t, body)
	cd := findChild(findChild(doc.Root(), QProp), QCalendarData)
	require.NotNil(t, cd)
	exp := findChild(cd, QExpand)
	require.NotNil(t, exp)
	assert.Equal(t, "20260101T000000Z", exp.SelectAttrValue("start", ""))
}

func TestBuildFreeBusyQueryBody(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	body := BuildFreeBusyQueryBody(start, end)
	doc := parseDoc(t, body)
	assert.Equal(t, "free-busy-query", doc.Root().Tag)
	tr := findChild(doc.Root(), QTimeRange)
	require.NotNil(t, tr)
	assert.Equal(t, "20260301T090000Z", tr.SelectAttrValue("start", ""))
}

func TestBuildMkcalendarBody(t *testing.T) {
	body := BuildMkcalendarBody(MkcalendarRequest{
		DisplayName:         "Team",
		SupportedComponents: []string{"VEVENT", "VTODO"},
	})
	doc := parseDoc(t, body)
	set := findChild(doc.Root(), QSet)
	require.NotNil(t, set)
	prop := findChild(set, QProp)
	dn := findChild(prop, QDisplayName)
	require.NotNil(t, dn)
	assert.Equal(t, "Team", dn.Text())
	scs := findChild(prop, QSupportedComponentSet)
	require.NotNil(t, scs)
	assert.Len(t, findChildren(scs, QComp), 2)
}
