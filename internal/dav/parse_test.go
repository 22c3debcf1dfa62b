package dav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const propfindMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/calendars/alice/work/</D:href>
    <D:propstat>
      <D:prop>
        <D:displayname>Work</D:displayname>
        <D:resourcetype><D:collection/><C:calendar/></D:resourcetype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
    <D:propstat>
      <D:prop>
        <D:getcontenttype/>
      </D:prop>
      <D:status>HTTP/1.1 404 Not Found</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestParsePropfindResponse(t *testing.T) {
	results, err := ParsePropfindResponse([]byte(propfindMultistatus), 207)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "/calendars/alice/work/", r.Href)

	dn, ok := r.Get(qname(QDisplayName))
	require.True(t, ok)
	assert.Equal(t, "Work", dn.AsText())

	rt, ok := r.Get(qname(QResourcetype))
	require.True(t, ok)
	assert.Contains(t, rt.Components, qname(QCollection))
	assert.Contains(t, rt.Components, qname(QCalendar))

	_, ok = r.Get(qname(QGetContentType))
	assert.False(t, ok, "404 propstat entries must not surface as present")
}

func TestParsePropfindResponse_404Status(t *testing.T) {
	results, err := ParsePropfindResponse([]byte(propfindMultistatus), 404)
	require.NoError(t, err)
	assert.Nil(t, results)
}

const calendarQueryMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/calendars/alice/work/1.ics</D:href>
    <D:propstat>
      <D:prop>
        <D:getetag>"abc123"</D:getetag>
        <C:calendar-data>BEGIN:VCALENDAR&#13;&#10;END:VCALENDAR&#13;&#10;</C:calendar-data>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/calendars/alice/work/2.ics</D:href>
    <D:status>HTTP/1.1 404 Not Found</D:status>
  </D:response>
</D:multistatus>`

func TestParseCalendarQueryResponse(t *testing.T) {
	results, err := ParseCalendarQueryResponse([]byte(calendarQueryMultistatus), 207)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "/calendars/alice/work/1.ics", results[0].Href)
	assert.Equal(t, `"abc123"`, results[0].ETag)
	assert.Contains(t, string(results[0].Data), "BEGIN:VCALENDAR")

	assert.Equal(t, 404, results[1].Status.Code)
}

const syncCollectionMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/calendars/alice/work/1.ics</D:href>
    <D:propstat>
      <D:prop><D:getetag>"rev2"</D:getetag></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/calendars/alice/work/deleted.ics</D:href>
    <D:status>HTTP/1.1 404 Not Found</D:status>
  </D:response>
  <D:sync-token>http://example.com/sync/123</D:sync-token>
</D:multistatus>`

func TestParseSyncCollectionResponse(t *testing.T) {
	result, err := ParseSyncCollectionResponse([]byte(syncCollectionMultistatus), 207)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/sync/123", result.SyncToken)
	require.Len(t, result.Changed, 1)
	assert.Equal(t, "/calendars/alice/work/1.ics", result.Changed[0].Href)
	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "/calendars/alice/work/deleted.ics", result.Deleted[0])
}

func TestParsePropfindResponse_MalformedStatusLine(t *testing.T) {
	body := `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/x</D:href>
    <D:status>garbage</D:status>
  </D:response>
</D:multistatus>`
	_, err := ParsePropfindResponse([]byte(body), 207)
	require.Error(t, err)
	var malformed *ErrMalformedResponse
	assert.ErrorAs(t, err, &malformed)
}
