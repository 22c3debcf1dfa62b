package dav

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// ErrMalformedResponse is returned when a multistatus body violates the
// shape invariants in spec.md §6.1/§8 (bad status line, missing root, etc).
type ErrMalformedResponse struct {
	Reason string
}

func (e *ErrMalformedResponse) Error() string {
	return "dav: malformed response: " + e.Reason
}

func findChild(el *etree.Element, name xml.Name) *etree.Element {
	return el.FindElement(fmt.Sprintf("{%s}%s", name.Space, name.Local))
}

func findChildren(el *etree.Element, name xml.Name) []*etree.Element {
	return el.FindElements(fmt.Sprintf("{%s}%s", name.Space, name.Local))
}

// qualifiedName renders an etree element's resolved tag as "{ns}local"
// using the element's own Space if etree has already resolved it, falling
// back to the bare tag for unprefixed/default-namespace elements (which
// etree reports with Space == "").
func qualifiedName(el *etree.Element, fallbackNS string) string {
	if el.Space != "" {
		return "{" + el.NamespaceURI() + "}" + el.Tag
	}
	if ns := el.NamespaceURI(); ns != "" {
		return "{" + ns + "}" + el.Tag
	}
	return "{" + fallbackNS + "}" + el.Tag
}

// normalizeHref fixes up href oddities seen in the wild: percent-decoding
// double-encoded "@" (some servers emit %2540 for a literal %40), and
// reducing any absolute URL to its path (plus query, if any); the scheme
// and host are dropped and the raw form is not kept.
func normalizeHref(raw string) string {
	h := strings.ReplaceAll(raw, "%2540", "%40")
	if u, err := url.Parse(h); err == nil && u.IsAbs() {
		if u.RawQuery != "" {
			return u.Path + "?" + u.RawQuery
		}
		return u.Path
	}
	return h
}

func parseStatusLine(line string) (ResourceStatus, error) {
	if line == "" {
		return ResourceStatus{}, nil
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return ResourceStatus{}, &ErrMalformedResponse{Reason: "bad status line: " + line}
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return ResourceStatus{}, &ErrMalformedResponse{Reason: "bad status code in: " + line}
	}
	switch code {
	case 200, 201, 207, 404:
	default:
		return ResourceStatus{}, &ErrMalformedResponse{Reason: fmt.Sprintf("unexpected per-resource status %d", code)}
	}
	return ResourceStatus{Line: line, Code: code}, nil
}

// rawResponse is the intermediate per-<response> parse result before
// reduction to the caller-specific record types.
type rawResponse struct {
	href       string
	status     ResourceStatus
	properties map[string]PropResult
}

// parseMultistatusDoc walks <multistatus><response>* and returns the raw
// per-response records plus the top-level sync-token, if present. It
// tolerates an enclosing <xml> wrapper some servers add.
func parseMultistatusDoc(body []byte) ([]rawResponse, string, error) {
	if len(body) == 0 {
		return nil, "", nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, "", fmt.Errorf("dav: parse xml: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, "", nil
	}
	if root.Tag == "xml" {
		if inner := root.ChildElements(); len(inner) == 1 {
			root = inner[0]
		}
	}
	if qualifiedName(root, NSDAV) != qname(QMultistatus) {
		return nil, "", &ErrMalformedResponse{Reason: "root is not multistatus: " + root.Tag}
	}

	var out []rawResponse
	for _, respEl := range findChildren(root, QResponse) {
		hrefEl := findChild(respEl, QHref)
		if hrefEl == nil {
			continue
		}
		rr := rawResponse{
			href:       normalizeHref(strings.TrimSpace(hrefEl.Text())),
			properties: map[string]PropResult{},
		}

		if statusEl := findChild(respEl, QStatus); statusEl != nil {
			st, err := parseStatusLine(strings.TrimSpace(statusEl.Text()))
			if err != nil {
				return nil, "", err
			}
			rr.status = st
		}

		for _, propstatEl := range findChildren(respEl, QPropstat) {
			statusEl := findChild(propstatEl, QStatus)
			st, err := parseStatusLine(strings.TrimSpace(statusElText(statusEl)))
			if err != nil {
				return nil, "", err
			}
			propEl := findChild(propstatEl, QProp)
			if propEl == nil {
				continue
			}
			for _, p := range propEl.ChildElements() {
				name := qualifiedName(p, NSDAV)
				if st.Code == 404 {
					rr.properties[name] = mo.Err[PropValue](fmt.Errorf("dav: property not found: %s", st.Line))
					continue
				}
				rr.properties[name] = mo.Ok(extractPropValue(p))
			}
		}

		out = append(out, rr)
	}

	syncToken := ""
	if tok := findChild(root, QSyncToken); tok != nil {
		syncToken = strings.TrimSpace(tok.Text())
	}
	return out, syncToken, nil
}

func statusElText(el *etree.Element) string {
	if el == nil {
		return "HTTP/1.1 200 OK"
	}
	return el.Text()
}

// extractPropValue coerces a <prop> child element into a typed PropValue,
// per the shapes enumerated in spec.md §4.3.
func extractPropValue(el *etree.Element) PropValue {
	name := qualifiedName(el, NSDAV)
	switch name {
	case qname(QResourcetype):
		var types []string
		for _, c := range el.ChildElements() {
			types = append(types, qualifiedName(c, NSDAV))
		}
		return PropValue{Kind: PropKindComponentList, Components: types}
	case qname(QCalendarHomeSet), qname(QCurrentUserPrincipal), qname(QPrincipalURL),
		qname(QScheduleInboxURL), qname(QScheduleOutboxURL):
		if h := findChild(el, QHref); h != nil {
			return PropValue{Kind: PropKindHref, Href: strings.TrimSpace(h.Text())}
		}
		return PropValue{Kind: PropKindText, Text: strings.TrimSpace(el.Text())}
	case qname(QCalendarUserAddressSet):
		var hrefs []string
		for _, h := range findChildren(el, QHref) {
			hrefs = append(hrefs, strings.TrimSpace(h.Text()))
		}
		return PropValue{Kind: PropKindHrefList, HrefList: hrefs}
	case qname(QSupportedComponentSet):
		var comps []string
		for _, c := range findChildren(el, QComp) {
			comps = append(comps, c.SelectAttrValue("name", ""))
		}
		return PropValue{Kind: PropKindStringList, Strings: comps}
	case qname(QSupportedReportSet):
		var reports []string
		for _, sr := range el.ChildElements() {
			for _, r := range sr.ChildElements() {
				for _, rep := range r.ChildElements() {
					reports = append(reports, qualifiedName(rep, NSCalDAV))
				}
			}
		}
		return PropValue{Kind: PropKindStringList, Strings: reports}
	case qname(QCurrentUserPrivSet):
		var privs []string
		for _, pr := range findChildren(el, QPrivilege) {
			for _, c := range pr.ChildElements() {
				privs = append(privs, qualifiedName(c, NSDAV))
			}
		}
		return PropValue{Kind: PropKindStringList, Strings: privs}
	default:
		if len(el.ChildElements()) == 0 {
			return PropValue{Kind: PropKindText, Text: el.Text()}
		}
		doc := etree.NewDocument()
		doc.SetRoot(el.Copy())
		raw, _ := doc.WriteToString()
		return PropValue{Kind: PropKindRaw, RawXML: raw}
	}
}

// ParsePropfindResponse parses a PROPFIND (or REPORT) multistatus body into
// typed PropfindResult records. A 404 top-level status yields an empty
// result set rather than an error.
func ParsePropfindResponse(body []byte, httpStatus int) ([]PropfindResult, error) {
	if httpStatus == 404 {
		return nil, nil
	}
	raws, _, err := parseMultistatusDoc(body)
	if err != nil {
		return nil, err
	}
	out := make([]PropfindResult, 0, len(raws))
	for _, r := range raws {
		out = append(out, PropfindResult{Href: r.href, Properties: r.properties, Status: r.status})
	}
	return out, nil
}

// ParseCalendarQueryResponse and ParseCalendarMultigetResponse share the
// same shape: {DAV:}getetag + {urn:ietf:params:xml:ns:caldav}calendar-data
// per href.
func ParseCalendarQueryResponse(body []byte, httpStatus int) ([]CalendarQueryResult, error) {
	return parseCalendarDataResults(body, httpStatus)
}

func ParseCalendarMultigetResponse(body []byte, httpStatus int) ([]CalendarQueryResult, error) {
	return parseCalendarDataResults(body, httpStatus)
}

func parseCalendarDataResults(body []byte, httpStatus int) ([]CalendarQueryResult, error) {
	if httpStatus == 404 {
		return nil, nil
	}
	raws, _, err := parseMultistatusDoc(body)
	if err != nil {
		return nil, err
	}
	out := make([]CalendarQueryResult, 0, len(raws))
	for _, r := range raws {
		res := CalendarQueryResult{Href: r.href, Status: r.status}
		if v, ok := r.properties[qname(QGetETag)]; ok && !v.IsError() {
			res.ETag = v.MustGet().AsText()
		}
		if v, ok := r.properties[qname(QCalendarData)]; ok && !v.IsError() {
			res.Data = []byte(v.MustGet().AsText())
		}
		out = append(out, res)
	}
	return out, nil
}

// ParseScheduleResponse parses an RFC 6638 §3.6 schedule-response body (the
// reply to a scheduling POST to a schedule-outbox): one ScheduleRecipientResult
// per <C:response>, carrying the polled recipient, its request-status, and
// any calendar-data (e.g. a VFREEBUSY) it returned.
func ParseScheduleResponse(body []byte, httpStatus int) ([]ScheduleRecipientResult, error) {
	if httpStatus == 404 {
		return nil, nil
	}
	if len(body) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("dav: parse xml: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, nil
	}
	if qualifiedName(root, NSCalDAV) != qname(QScheduleResponse) {
		return nil, &ErrMalformedResponse{Reason: "root is not schedule-response: " + root.Tag}
	}

	var out []ScheduleRecipientResult
	for _, respEl := range findChildren(root, QScheduleResponseItem) {
		res := ScheduleRecipientResult{}
		if recEl := findChild(respEl, QRecipient); recEl != nil {
			if h := findChild(recEl, QHref); h != nil {
				res.Recipient = strings.TrimSpace(h.Text())
			} else {
				res.Recipient = strings.TrimSpace(recEl.Text())
			}
		}
		if rsEl := findChild(respEl, QRequestStatus); rsEl != nil {
			res.RequestStatus = strings.TrimSpace(rsEl.Text())
		}
		if cdEl := findChild(respEl, QCalendarData); cdEl != nil {
			res.CalendarData = []byte(cdEl.Text())
		}
		out = append(out, res)
	}
	return out, nil
}

// ParseSyncCollectionResponse parses a sync-collection REPORT response:
// per-resource 404 entries become deletions, others become changes, and the
// top-level <sync-token> becomes the new token.
func ParseSyncCollectionResponse(body []byte, httpStatus int) (SyncCollectionResult, error) {
	raws, token, err := parseMultistatusDoc(body)
	if err != nil {
		return SyncCollectionResult{}, err
	}
	var result SyncCollectionResult
	result.SyncToken = token
	for _, r := range raws {
		if r.status.Code == 404 {
			result.Deleted = append(result.Deleted, r.href)
			continue
		}
		cq := CalendarQueryResult{Href: r.href, Status: r.status}
		if v, ok := r.properties[qname(QGetETag)]; ok && !v.IsError() {
			cq.ETag = v.MustGet().AsText()
		}
		if v, ok := r.properties[qname(QCalendarData)]; ok && !v.IsError() {
			cq.Data = []byte(v.MustGet().AsText())
		}
		result.Changed = append(result.Changed, cq)
	}
	return result, nil
}
