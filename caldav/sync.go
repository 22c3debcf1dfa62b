package caldav

import (
	"encoding/xml"
	"time"

	"github.com/emersion/go-ical"

	"github.com/calendrierhub/caldav/internal/dav"
)

// SyncResult is the outcome of Calendar.GetObjectsBySyncToken: objects
// added/changed since the previous token, hrefs of objects deleted since
// then, and the new token to pass on the next call.
type SyncResult struct {
	Changed   []*CalendarObject
	Deleted   []string
	SyncToken string
}

// syncCalendar implements §4.10: try RFC 6578 sync-collection first: if the
// server returns a 403/409/412 (sync-token not supported/invalid), or the
// quirks profile pins FakeSyncTokenOnly, fall back to the deterministic
// digest scheme.
func syncCalendar(c *Calendar, token string, loadObjects bool) (SyncResult, error) {
	if !c.client.quirks.FakeSyncTokenOnly {
		result, ok, err := trySyncCollection(c, token, loadObjects)
		if err != nil {
			return SyncResult{}, err
		}
		if ok {
			return result, nil
		}
	}
	return fakeTokenSync(c, token, loadObjects)
}

func trySyncCollection(c *Calendar, token string, loadObjects bool) (SyncResult, bool, error) {
	props := []xml.Name{dav.QGetETag}
	if loadObjects {
		props = append(props, dav.QCalendarData)
	}
	req := c.client.engine.SyncCollectionRequest(c.url, token, props, false)
	resp, err := c.client.do(req)
	if err != nil {
		return SyncResult{}, false, err
	}
	if resp.Status == 403 || resp.Status == 409 || resp.Status == 412 {
		return SyncResult{}, false, nil
	}
	parsed, err := c.client.engine.ParseSyncCollection(resp)
	if err != nil {
		return SyncResult{}, false, &ResponseError{URL: c.url, Reason: err.Error()}
	}

	result := SyncResult{SyncToken: parsed.SyncToken, Deleted: parsed.Deleted}
	for _, ch := range parsed.Changed {
		obj := newCalendarObject(c.client, c.url)
		obj.objectURL = NormalizeHref(ch.Href, c.client.quirks.DoubleEncodedHrefs)
		obj.etag = ch.ETag
		if len(ch.Data) > 0 {
			obj.SetData(ch.Data)
		}
		result.Changed = append(result.Changed, obj)
	}
	return result, true, nil
}

// fakeTokenSync enumerates every object via an untimed calendar-query
// (which requests getetag and calendar-data), fetching etags separately if the server omitted
// them, computes a deterministic digest, and compares it to the previous
// token: a match means nothing changed; a mismatch returns the full
// enumeration as "changed" since the fallback cannot localize deltas.
func fakeTokenSync(c *Calendar, token string, loadObjects bool) (SyncResult, error) {
	hrefEtag, err := enumerateWithEtags(c)
	if err != nil {
		return SyncResult{}, err
	}

	entries := make([]SyncEntry, 0, len(hrefEtag))
	for href, etag := range hrefEtag {
		entries = append(entries, SyncEntry{URL: href, ETag: etag})
	}
	newToken := GenerateFakeSyncToken(entries)

	if token != "" && token == newToken {
		return SyncResult{SyncToken: newToken}, nil
	}

	result := SyncResult{SyncToken: newToken}
	for href := range hrefEtag {
		obj := newCalendarObject(c.client, c.url)
		obj.objectURL = href
		obj.etag = hrefEtag[href]
		if loadObjects {
			if err := obj.Load(false); err != nil {
				continue
			}
		}
		result.Changed = append(result.Changed, obj)
	}
	return result, nil
}

func enumerateWithEtags(c *Calendar) (map[string]string, error) {
	out := make(map[string]string)
	missing := 0
	for _, kind := range []string{ical.CompEvent, ical.CompToDo, ical.CompJournal} {
		results, err := c.query(kind, time.Time{}, time.Time{}, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			out[r.objectURL] = r.etag
			if r.etag == "" {
				missing++
			}
		}
	}
	if missing == 0 {
		return out, nil
	}

	children, err := c.Children("")
	if err != nil {
		return out, nil
	}
	for _, child := range children {
		if _, ok := out[child.URL]; !ok {
			continue
		}
		obj := newDavObject(c.client, child.URL)
		v, err := obj.GetProperty(dav.QGetETag, false)
		if err == nil {
			out[child.URL] = v.AsText()
		}
	}
	return out, nil
}
