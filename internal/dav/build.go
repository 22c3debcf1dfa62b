package dav

import (
	"encoding/xml"
	"time"

	"github.com/beevik/etree"
)

const timeFormat = "20060102T150405Z"

// prefixFor returns the conventional prefix for a namespace URI, using a
// fixed D:/C:/CS:/A: prefix map. Prefixes are cosmetic; every parser in
// this package matches on qualified name, never prefix.
func prefixFor(ns string) string {
	switch ns {
	case NSDAV:
		return prefixDAV
	case NSCalDAV:
		return prefixCalDAV
	case NSCalendarServer:
		return prefixCS
	case NSAppleICal:
		return prefixApple
	default:
		return ""
	}
}

func declareNS(el *etree.Element, ns string) {
	p := prefixFor(ns)
	if p == "" {
		return
	}
	attr := "xmlns:" + p
	for _, a := range el.Attr {
		if a.Key == attr {
			return
		}
	}
	el.CreateAttr(attr, ns)
}

// newRequestDoc creates a document with an XML declaration and a root
// element qualified by name, declaring the DAV namespace plus any extras.
func newRequestDoc(name xml.Name, extraNS ...string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	el := doc.CreateElement(prefixFor(name.Space) + ":" + name.Local)
	declareNS(el, NSDAV)
	for _, ns := range extraNS {
		declareNS(el, ns)
	}
	return doc, el
}

func addChild(parent *etree.Element, name xml.Name) *etree.Element {
	p := prefixFor(name.Space)
	local := name.Local
	if p != "" {
		local = p + ":" + local
	}
	return parent.CreateElement(local)
}

func addChildText(parent *etree.Element, name xml.Name, text string) *etree.Element {
	el := addChild(parent, name)
	el.SetText(text)
	return el
}

func docBytes(doc *etree.Document) []byte {
	doc.Indent(0)
	b, _ := doc.WriteToBytes()
	return b
}

// BuildPropfindBody emits <propfind><prop>...</prop></propfind>, or
// <propfind><allprop/></propfind> when names is empty.
func BuildPropfindBody(names []xml.Name) []byte {
	doc, root := newRequestDoc(QPropfind, NSCalDAV, NSCalendarServer, NSAppleICal)
	if len(names) == 0 {
		addChild(root, QAllprop)
	} else {
		prop := addChild(root, QProp)
		for _, n := range names {
			addChild(prop, n)
		}
	}
	return docBytes(doc)
}

// SetRemoveProps is the input to BuildProppatchBody: properties to set
// (name -> text value) and properties to remove (by name).
type SetRemoveProps struct {
	Set    map[xml.Name]string
	Remove []xml.Name
}

// BuildProppatchBody emits <propertyupdate><set>...</set><remove>...</remove></propertyupdate>.
func BuildProppatchBody(p SetRemoveProps) []byte {
	doc, root := newRequestDoc(QPropertyUpdate, NSCalDAV, NSAppleICal)
	if len(p.Set) > 0 {
		setEl := addChild(root, QSet)
		prop := addChild(setEl, QProp)
		for n, v := range p.Set {
			addChildText(prop, n, v)
		}
	}
	if len(p.Remove) > 0 {
		removeEl := addChild(root, QRemove)
		prop := addChild(removeEl, QProp)
		for _, n := range p.Remove {
			addChild(prop, n)
		}
	}
	return docBytes(doc)
}

// TextMatchOp is a CalDAV prop-filter/param-filter operator.
type TextMatchOp int

const (
	OpContains TextMatchOp = iota
	OpEquals
	OpIsDefined
	OpIsNotDefined
)

// TextMatch describes a single text-match element.
type TextMatch struct {
	Value         string
	Negate        bool
	CaseSensitive bool // false -> collation i;ascii-casemap, true -> i;octet
}

func (t TextMatch) collation() string {
	if t.CaseSensitive {
		return "i;octet"
	}
	return "i;ascii-casemap"
}

// ParamFilter is a parameter-level filter nested under a PropFilter (used
// for ATTENDEE/ORGANIZER parameter matching).
type ParamFilter struct {
	Name         string
	TextMatch    *TextMatch
	IsNotDefined bool
}

// PropFilter is one <prop-filter> entry.
type PropFilter struct {
	Name      string
	Op        TextMatchOp
	TextMatch *TextMatch
	Params    []ParamFilter
}

// CompFilterQuery describes the nested comp-filter tree used by
// calendar-query: an outer VCALENDAR filter wrapping one component filter.
type CompFilterQuery struct {
	ComponentType string // VEVENT, VTODO, VJOURNAL
	Start, End    time.Time
	PropFilters   []PropFilter
}

func (c CompFilterQuery) hasTimeRange() bool {
	return !c.Start.IsZero() || !c.End.IsZero()
}

func buildTimeRange(parent *etree.Element, start, end time.Time) {
	tr := addChild(parent, QTimeRange)
	if !start.IsZero() {
		tr.CreateAttr("start", start.UTC().Format(timeFormat))
	}
	if !end.IsZero() {
		tr.CreateAttr("end", end.UTC().Format(timeFormat))
	}
}

func buildTextMatch(parent *etree.Element, tm TextMatch) {
	el := addChild(parent, QTextMatch)
	el.CreateAttr("collation", tm.collation())
	if tm.Negate {
		el.CreateAttr("negate-condition", "yes")
	}
	el.SetText(tm.Value)
}

func buildPropFilter(parent *etree.Element, pf PropFilter) {
	el := addChild(parent, QPropFilter)
	el.CreateAttr("name", pf.Name)
	switch pf.Op {
	case OpIsDefined:
		addChild(el, QIsDefined)
	case OpIsNotDefined:
		addChild(el, QIsNotDefined)
	default:
		if pf.TextMatch != nil {
			buildTextMatch(el, *pf.TextMatch)
		}
	}
	for _, p := range pf.Params {
		pEl := addChild(el, QParamFilter)
		pEl.CreateAttr("name", p.Name)
		if p.IsNotDefined {
			addChild(pEl, QIsNotDefined)
		} else if p.TextMatch != nil {
			buildTextMatch(pEl, *p.TextMatch)
		}
	}
}

// CalendarDataRequest describes the <calendar-data> prop request, with an
// optional server-side <expand>.
type CalendarDataRequest struct {
	ExpandStart, ExpandEnd time.Time
}

func (c CalendarDataRequest) expand() bool {
	return !c.ExpandStart.IsZero() || !c.ExpandEnd.IsZero()
}

// BuildCalendarQueryBody emits a <calendar-query> REPORT body.
func BuildCalendarQueryBody(q CompFilterQuery, calData CalendarDataRequest) []byte {
	doc, root := newRequestDoc(QCalendarQuery, NSCalDAV)
	prop := addChild(root, QProp)
	cd := addChild(prop, QCalendarData)
	if calData.expand() {
		exp := addChild(cd, QExpand)
		if !calData.ExpandStart.IsZero() {
			exp.CreateAttr("start", calData.ExpandStart.UTC().Format(timeFormat))
		}
		if !calData.ExpandEnd.IsZero() {
			exp.CreateAttr("end", calData.ExpandEnd.UTC().Format(timeFormat))
		}
	}
	addChild(prop, QGetETag)

	filter := addChild(root, QFilter)
	outer := addChild(filter, QCompFilter)
	outer.CreateAttr("name", "VCALENDAR")
	inner := addChild(outer, QCompFilter)
	inner.CreateAttr("name", q.ComponentType)
	if q.hasTimeRange() {
		buildTimeRange(inner, q.Start, q.End)
	}
	for _, pf := range q.PropFilters {
		buildPropFilter(inner, pf)
	}
	return docBytes(doc)
}

// BuildCalendarMultigetBody emits a <calendar-multiget> REPORT body.
func BuildCalendarMultigetBody(hrefs []string) []byte {
	doc, root := newRequestDoc(QCalendarMultiget, NSCalDAV)
	prop := addChild(root, QProp)
	addChild(prop, QGetETag)
	addChild(prop, QCalendarData)
	for _, h := range hrefs {
		addChildText(root, QHref, h)
	}
	return docBytes(doc)
}

// BuildSyncCollectionBody emits a <sync-collection> REPORT body. An empty
// syncToken requests an initial sync.
func BuildSyncCollectionBody(syncToken string, names []xml.Name, infinite bool) []byte {
	doc, root := newRequestDoc(QSyncCollection, NSCalDAV)
	addChildText(root, QSyncToken, syncToken)
	if !infinite {
		addChildText(root, QSyncLevel, "1")
	} else {
		addChildText(root, QSyncLevel, "infinite")
	}
	prop := addChild(root, QProp)
	for _, n := range names {
		addChild(prop, n)
	}
	return docBytes(doc)
}

// BuildFreeBusyQueryBody emits a <free-busy-query> REPORT body.
func BuildFreeBusyQueryBody(start, end time.Time) []byte {
	doc, root := newRequestDoc(QFreeBusyQuery, NSCalDAV)
	buildTimeRange(root, start, end)
	return docBytes(doc)
}

// MkcalendarRequest is the input to BuildMkcalendarBody.
type MkcalendarRequest struct {
	DisplayName         string
	Description         string
	SupportedComponents []string
	Timezone            string
	Color               string
}

// BuildMkcalendarBody emits <mkcalendar><set><prop>...</prop></set></mkcalendar>.
func BuildMkcalendarBody(r MkcalendarRequest) []byte {
	doc, root := newRequestDoc(QMkcalendar, NSCalDAV, NSAppleICal)
	set := addChild(root, QSet)
	prop := addChild(set, QProp)
	if r.DisplayName != "" {
		addChildText(prop, QDisplayName, r.DisplayName)
	}
	if r.Description != "" {
		addChildText(prop, QCalendarDescription, r.Description)
	}
	if r.Timezone != "" {
		addChildText(prop, QCalendarTimezone, r.Timezone)
	}
	if r.Color != "" {
		addChildText(prop, QCalendarColor, r.Color)
	}
	if len(r.SupportedComponents) > 0 {
		scs := addChild(prop, QSupportedComponentSet)
		for _, c := range r.SupportedComponents {
			comp := addChild(scs, QComp)
			comp.CreateAttr("name", c)
		}
	}
	return docBytes(doc)
}

// BuildMkcolBody emits a plain WebDAV <mkcol><set><prop>...</prop></set></mkcol>,
// used for plain (non-calendar) collection creation.
func BuildMkcolBody(displayName string) []byte {
	doc, root := newRequestDoc(QMkcol)
	set := addChild(root, QSet)
	prop := addChild(set, QProp)
	if displayName != "" {
		addChildText(prop, QDisplayName, displayName)
	}
	return docBytes(doc)
}
