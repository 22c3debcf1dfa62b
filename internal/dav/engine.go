package dav

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Engine is the stateless Sans-I/O protocol facade: it knows how to turn
// typed inputs into DavRequest values and typed DavResponse values back
// into results, but it never touches the network itself (see
// internal/transport for the I/O shell that does).
type Engine struct{}

const contentTypeXML = "application/xml; charset=utf-8"
const contentTypeICal = "text/calendar; charset=utf-8"

func newHeader(pairs ...string) *Header {
	h := &Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (Engine) PropfindRequest(path string, props []xml.Name, depth int) DavRequest {
	return DavRequest{
		Method: MethodPropfind,
		URL:    path,
		Headers: newHeader(
			"Content-Type", contentTypeXML,
			"Depth", fmt.Sprintf("%d", depth),
			"Accept", "text/xml, text/calendar",
		),
		Body: BuildPropfindBody(props),
	}
}

func (Engine) ProppatchRequest(path string, p SetRemoveProps) DavRequest {
	return DavRequest{
		Method:  MethodProppatch,
		URL:     path,
		Headers: newHeader("Content-Type", contentTypeXML),
		Body:    BuildProppatchBody(p),
	}
}

func (Engine) CalendarQueryRequest(path string, q CompFilterQuery, cd CalendarDataRequest, depth int) DavRequest {
	return DavRequest{
		Method:  MethodReport,
		URL:     path,
		Headers: newHeader("Content-Type", contentTypeXML, "Depth", fmt.Sprintf("%d", depth)),
		Body:    BuildCalendarQueryBody(q, cd),
	}
}

func (Engine) CalendarMultigetRequest(path string, hrefs []string) DavRequest {
	return DavRequest{
		Method:  MethodReport,
		URL:     path,
		Headers: newHeader("Content-Type", contentTypeXML, "Depth", "1"),
		Body:    BuildCalendarMultigetBody(hrefs),
	}
}

func (Engine) SyncCollectionRequest(path, syncToken string, props []xml.Name, infinite bool) DavRequest {
	return DavRequest{
		Method:  MethodReport,
		URL:     path,
		Headers: newHeader("Content-Type", contentTypeXML, "Depth", "0"),
		Body:    BuildSyncCollectionBody(syncToken, props, infinite),
	}
}

func (Engine) FreeBusyRequest(path string, start, end time.Time) DavRequest {
	return DavRequest{
		Method:  MethodReport,
		URL:     path,
		Headers: newHeader("Content-Type", contentTypeXML, "Depth", "0"),
		Body:    BuildFreeBusyQueryBody(start, end),
	}
}

// ScheduleRequest builds an RFC 6638 §3.6 scheduling POST: an iTIP
// VCALENDAR (plain text/calendar, no XML envelope) is posted directly to
// the schedule-outbox, with the originator identified via the
// Originator/Recipient headers the CalDAV scheduling extension mandates.
func (Engine) ScheduleRequest(path string, originator string, recipients []string, body []byte) DavRequest {
	h := newHeader("Content-Type", contentTypeICal, "Originator", originator)
	for _, r := range recipients {
		h.Add("Recipient", r)
	}
	return DavRequest{Method: MethodPost, URL: path, Headers: h, Body: body}
}

func (Engine) MkcalendarRequest(path string, r MkcalendarRequest) DavRequest {
	return DavRequest{
		Method:  MethodMkcalendar,
		URL:     path,
		Headers: newHeader("Content-Type", "application/xml"),
		Body:    BuildMkcalendarBody(r),
	}
}

func (Engine) MkcolRequest(path, displayName string) DavRequest {
	return DavRequest{
		Method:  MethodMkcol,
		URL:     path,
		Headers: newHeader("Content-Type", "application/xml"),
		Body:    BuildMkcolBody(displayName),
	}
}

func (Engine) GetRequest(path string) DavRequest {
	return DavRequest{Method: MethodGet, URL: path, Headers: newHeader("Accept", "text/calendar")}
}

// PutRequest builds a PUT request. An empty etag means no conditional
// header; noOverwrite requests If-None-Match: * instead of If-Match.
func (Engine) PutRequest(path string, body []byte, etag string, noOverwrite bool) DavRequest {
	h := newHeader("Content-Type", contentTypeICal)
	if noOverwrite {
		h.Set("If-None-Match", "*")
	} else if etag != "" {
		h.Set("If-Match", fmt.Sprintf("%q", etag))
	}
	return DavRequest{Method: MethodPut, URL: path, Headers: h, Body: body}
}

func (Engine) DeleteRequest(path, etag string) DavRequest {
	h := &Header{}
	if etag != "" {
		h.Set("If-Match", fmt.Sprintf("%q", etag))
	}
	return DavRequest{Method: MethodDelete, URL: path, Headers: h}
}

func (Engine) OptionsRequest(path string) DavRequest {
	return DavRequest{Method: MethodOptions, URL: path, Headers: &Header{}}
}

// Parse* mirrors the Build* side, consuming a DavResponse.

func (Engine) ParsePropfind(resp DavResponse) ([]PropfindResult, error) {
	return ParsePropfindResponse(resp.Body, resp.Status)
}

func (Engine) ParseCalendarQuery(resp DavResponse) ([]CalendarQueryResult, error) {
	return ParseCalendarQueryResponse(resp.Body, resp.Status)
}

func (Engine) ParseCalendarMultiget(resp DavResponse) ([]CalendarQueryResult, error) {
	return ParseCalendarMultigetResponse(resp.Body, resp.Status)
}

func (Engine) ParseSyncCollection(resp DavResponse) (SyncCollectionResult, error) {
	return ParseSyncCollectionResponse(resp.Body, resp.Status)
}

func (Engine) ParseSchedule(resp DavResponse) ([]ScheduleRecipientResult, error) {
	return ParseScheduleResponse(resp.Body, resp.Status)
}
