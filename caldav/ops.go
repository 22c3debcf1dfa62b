package caldav

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/calendrierhub/caldav/internal/dav"
)

// ChildRef is one entry returned by resolve_children: a child resource's
// URL, DAV resourcetypes, and display name.
type ChildRef struct {
	URL           string
	ResourceTypes []string
	DisplayName   string
}

// ResolveChildren reduces a depth-1 PROPFIND result set to the children of
// parentURL, excluding the parent's own entry (compared with and without a
// trailing slash, since servers are inconsistent about which form they
// echo back). filterType, when non-empty, is a DAV resourcetype qualified
// name ("{urn:ietf:params:xml:ns:caldav}calendar") that every returned
// child must carry.
func ResolveChildren(results []dav.PropfindResult, parentURL string, filterType string) ([]ChildRef, error) {
	parent, err := ParseURL(parentURL)
	if err != nil {
		return nil, err
	}

	var out []ChildRef
	for _, r := range results {
		href, err := ParseURL(r.Href)
		if err != nil {
			continue
		}
		if href.EqualIgnoringTrailingSlash(parent) {
			continue
		}
		var types []string
		if v, ok := r.Get(dav.QName(dav.QResourcetype)); ok {
			types = v.Components
		}
		if filterType != "" && !containsString(types, filterType) {
			continue
		}
		name := ""
		if v, ok := r.Get(dav.QName(dav.QDisplayName)); ok {
			name = v.AsText()
		}
		out = append(out, ChildRef{URL: r.Href, ResourceTypes: types, DisplayName: name})
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// FindObjectProperties locates the PropfindResult entry for objectURL
// inside results, tolerating trailing-slash mismatches, absolute-vs-path
// hrefs, double-slash bugs, and iCloud's "/principal/" aliasing. When
// exactly one result is present, it is assumed to be the match (a server
// quirk where depth-0 PROPFIND against a collection still returns just one
// entry with an unrelated-looking href).
func FindObjectProperties(results []dav.PropfindResult, objectURL string) (dav.PropfindResult, bool) {
	target, err := ParseURL(objectURL)
	if err != nil {
		return dav.PropfindResult{}, false
	}
	targetCanon := target.Canonicalize().StripTrailingSlash().String()

	for _, r := range results {
		href, err := ParseURL(r.Href)
		if err != nil {
			continue
		}
		if href.Canonicalize().StripTrailingSlash().String() == targetCanon {
			return r, true
		}
		if dedupDoubleSlashes(href.Path()) == dedupDoubleSlashes(target.Path()) {
			return r, true
		}
		if aliasPrincipalPath(href.Path()) == aliasPrincipalPath(target.Path()) {
			return r, true
		}
	}
	if len(results) == 1 {
		return results[0], true
	}
	return dav.PropfindResult{}, false
}

func dedupDoubleSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimSuffix(p, "/")
}

// aliasPrincipalPath normalizes iCloud's two interchangeable spellings of
// a principal path ("/principal/" vs "/principals/").
func aliasPrincipalPath(p string) string {
	p = strings.Replace(p, "/principal/", "/principals/", 1)
	return strings.TrimSuffix(p, "/")
}

// GenerateObjectURL builds a new object's URL from its parent collection
// and UID: "<parent>/<uid>.ics", with any "/" in the UID percent-encoded so
// it cannot be mistaken for a path separator.
func GenerateObjectURL(parentURL, uid string) (string, error) {
	parent, err := ParseURL(parentURL)
	if err != nil {
		return "", err
	}
	escaped := url.PathEscape(uid)
	base := parent.StripTrailingSlash().String()
	return base + "/" + escaped + ".ics", nil
}

// ExtractUIDFromPath returns a URL path's basename with a trailing ".ics"
// removed.
func ExtractUIDFromPath(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".ics")
}

// FindIDAndPath resolves the UID to use for comp, in precedence order:
// an explicitly given ID, an existing (previously known) ID, the
// component's own UID property, a UID extracted from a given path, or a
// freshly generated UUID. It mutates comp's UID property to match.
func FindIDAndPath(comp *ical.Component, givenID, givenPath, existingID string) string {
	id := givenID
	if id == "" {
		id = existingID
	}
	if id == "" {
		if p := comp.Props.Get(ical.PropUID); p != nil && p.Value != "" {
			id = p.Value
		}
	}
	if id == "" && givenPath != "" {
		id = ExtractUIDFromPath(givenPath)
	}
	if id == "" {
		id = uuid.New().String()
	}
	comp.Props.SetText(ical.PropUID, id)
	return id
}

// GetDuration returns comp's effective duration: DURATION if present, else
// DTSTART..(DTEND|DUE) named by endProperty, else one day for a date-only
// DTSTART, else zero.
func GetDuration(comp *ical.Component, endProperty string) (time.Duration, error) {
	if p := comp.Props.Get(ical.PropDuration); p != nil {
		return p.Duration()
	}
	start, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
	if err != nil {
		return 0, nil
	}
	if end, err := comp.Props.DateTime(endProperty, nil); err == nil {
		return end.Sub(start), nil
	}
	if isDateOnlyProp(comp, ical.PropDateTimeStart) {
		return 24 * time.Hour, nil
	}
	return 0, nil
}

func isDateOnlyProp(comp *ical.Component, name string) bool {
	p := comp.Props.Get(name)
	return p != nil && strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE")
}

// SetDuration sets or recomputes comp's end property to hold duration
// relative to DTSTART. movable controls whether DTSTART itself may move
// when only the end property is known beforehand — for this operation
// DTSTART is always treated as the anchor, so movable is reserved for
// future asymmetric policies and currently only affects the zero-duration
// corner case (movable means "leave a zero duration as DTEND == DTSTART"
// rather than omitting DTEND).
func SetDuration(comp *ical.Component, duration time.Duration, endProperty string, movable bool) error {
	start, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
	if err != nil {
		return fmt.Errorf("caldav: set_duration: component has no DTSTART: %w", err)
	}
	if duration == 0 && !movable {
		delete(comp.Props, endProperty)
		return nil
	}
	comp.Props.SetDateTime(endProperty, start.Add(duration))
	return nil
}

const (
	statusNeedsAction = "NEEDS-ACTION"
	statusInProcess   = "IN-PROCESS"
	statusCompleted   = "COMPLETED"
	statusCancelled   = "CANCELLED"
)

// IsTaskPending reports whether a VTODO is not yet completed: true when
// STATUS is NEEDS-ACTION, IN-PROCESS, or absent and no COMPLETED property
// is set; false when COMPLETED is present or STATUS is COMPLETED/CANCELLED.
func IsTaskPending(comp *ical.Component) bool {
	if comp.Props.Get(ical.PropCompleted) != nil {
		return false
	}
	status := ""
	if p := comp.Props.Get(ical.PropStatus); p != nil {
		status = strings.ToUpper(p.Value)
	}
	switch status {
	case statusCompleted, statusCancelled:
		return false
	default:
		return true
	}
}

// MarkTaskCompleted sets STATUS:COMPLETED and a COMPLETED timestamp
// (defaulting to now). Idempotent.
func MarkTaskCompleted(comp *ical.Component, timestamp *time.Time) {
	ts := time.Now().UTC()
	if timestamp != nil {
		ts = timestamp.UTC()
	}
	comp.Props.SetText(ical.PropStatus, statusCompleted)
	comp.Props.SetDateTime(ical.PropCompleted, ts)
}

// MarkTaskUncompleted clears COMPLETED, and STATUS when it is COMPLETED.
// Idempotent.
func MarkTaskUncompleted(comp *ical.Component) {
	delete(comp.Props, ical.PropCompleted)
	if p := comp.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, statusCompleted) {
		delete(comp.Props, ical.PropStatus)
	}
}

// ReduceRRuleCount decrements an RRULE's COUNT by one in place on comp.
// Returns false (caller should end the series) when COUNT has reached
// zero, or true if the RRULE has no COUNT (nothing to reduce).
func ReduceRRuleCount(comp *ical.Component, reduce func(rrule string, consumed int) (string, bool)) bool {
	p := comp.Props.Get(ical.PropRecurrenceRule)
	if p == nil || p.Value == "" {
		return true
	}
	reduced, ok := reduce(p.Value, 1)
	if !ok {
		return true
	}
	for _, part := range strings.Split(reduced, ";") {
		if strings.HasPrefix(strings.ToUpper(part), "COUNT=") {
			n, _ := strconv.Atoi(part[len("COUNT="):])
			if n <= 0 {
				return false
			}
		}
	}
	comp.Props.SetText(ical.PropRecurrenceRule, reduced)
	return true
}

var reltypeReverse = map[string]string{
	"PARENT":        "CHILD",
	"CHILD":         "PARENT",
	"SIBLING":       "SIBLING",
	"DEPENDS-ON":    "FINISHTOSTART",
	"FINISHTOSTART": "DEPENDENT",
}

// ReverseRelType looks up the fixed reciprocal-relationship table from the
// RELATED-TO RELTYPE parameter.
func ReverseRelType(s string) (string, bool) {
	v, ok := reltypeReverse[strings.ToUpper(s)]
	return v, ok
}

// NormalizeHref undoes accidental double percent-encoding some servers
// apply to hrefs (e.g. iCloud emitting "%2540" for a literal "@"). Only
// active when doubleEncoded is set, since unescaping an already-correct
// href can corrupt legitimate "%25" sequences.
func NormalizeHref(href string, doubleEncoded bool) string {
	if !doubleEncoded {
		return href
	}
	if decoded, err := url.QueryUnescape(href); err == nil {
		return decoded
	}
	return href
}

// SanitizeCalendarHomeSetURL percent-encodes an unquoted "@" in a relative
// path — some ownCloud/Nextcloud deployments emit calendar-home-set hrefs
// with a literal "@" from the username, which a strict URL parser chokes
// on downstream.
func SanitizeCalendarHomeSetURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return strings.ReplaceAll(raw, "@", "%40")
}

// SyncEntry is one (url, etag) pair fed to GenerateFakeSyncToken.
type SyncEntry struct {
	URL  string
	ETag string
}

// GenerateFakeSyncToken computes a deterministic, order-independent digest
// over a set of (canonical URL, etag) pairs, for servers that don't
// support RFC 6578 sync-collection.
func GenerateFakeSyncToken(entries []SyncEntry) string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		canon := e.URL
		if u, err := ParseURL(e.URL); err == nil {
			canon = u.Canonicalize().StripTrailingSlash().String()
		}
		keys = append(keys, canon+"\x00"+e.ETag)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return "fake-" + hex.EncodeToString(h.Sum(nil))
}
