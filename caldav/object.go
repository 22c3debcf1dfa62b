package caldav

import (
	"encoding/xml"

	"github.com/calendrierhub/caldav/internal/dav"
)

// DavObject is the shared base behavior every resource-model node embeds:
// a URL, a lazily-populated property cache, and the PROPFIND/PROPPATCH/
// DELETE operations common to all of them.
type DavObject struct {
	client *Client
	url    string
	props  map[string]dav.PropValue
}

func newDavObject(c *Client, u string) DavObject {
	return DavObject{client: c, url: u, props: map[string]dav.PropValue{}}
}

// URL returns the object's URL.
func (o *DavObject) URL() string { return o.url }

// GetProperties issues a PROPFIND for propNames at the given depth (0 for
// self, 1 for children), runs the result through FindObjectProperties, and
// merges the resolved values into the property cache before returning a
// snapshot of it. useCached, when true and every requested name is already
// cached, skips the network call.
func (o *DavObject) GetProperties(propNames []xml.Name, depth int, useCached bool) (map[string]dav.PropValue, error) {
	if useCached && o.allCached(propNames) {
		return o.propsSnapshot(), nil
	}

	req := o.client.engine.PropfindRequest(o.url, propNames, depth)
	resp, err := o.client.do(req)
	if err != nil {
		return nil, err
	}
	if resp.Status == 404 {
		return nil, &NotFoundError{URL: o.url}
	}

	results, err := o.client.engine.ParsePropfind(resp)
	if err != nil {
		return nil, &ResponseError{URL: o.url, Reason: err.Error()}
	}
	result, ok := FindObjectProperties(results, o.url)
	if !ok {
		return o.propsSnapshot(), nil
	}
	for name, pr := range result.Properties {
		if !pr.IsError() {
			o.props[name] = pr.MustGet()
		}
	}
	return o.propsSnapshot(), nil
}

func (o *DavObject) allCached(names []xml.Name) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if _, ok := o.props[dav.QName(n)]; !ok {
			return false
		}
	}
	return true
}

func (o *DavObject) propsSnapshot() map[string]dav.PropValue {
	out := make(map[string]dav.PropValue, len(o.props))
	for k, v := range o.props {
		out[k] = v
	}
	return out
}

// GetProperty is a convenience accessor over GetProperties for a single
// name.
func (o *DavObject) GetProperty(name xml.Name, useCached bool) (dav.PropValue, error) {
	props, err := o.GetProperties([]xml.Name{name}, 0, useCached)
	if err != nil {
		return dav.PropValue{}, err
	}
	v, ok := props[dav.QName(name)]
	if !ok {
		return dav.PropValue{}, nil
	}
	return v, nil
}

// GetDisplayName is a convenience wrapper over GetProperty(displayname).
func (o *DavObject) GetDisplayName() (string, error) {
	v, err := o.GetProperty(dav.QDisplayName, true)
	if err != nil {
		return "", err
	}
	return v.AsText(), nil
}

// SetProperties issues a PROPPATCH; a per-resource <response> status for
// this object other than 200 or 207 (an absent status passes) fails the
// whole call with PropsetError, and a propstat status the parser does not
// accept fails it with ResponseError.
func (o *DavObject) SetProperties(set map[xml.Name]string, remove []xml.Name) error {
	req := o.client.engine.ProppatchRequest(o.url, dav.SetRemoveProps{Set: set, Remove: remove})
	resp, err := o.client.do(req)
	if err != nil {
		return err
	}
	results, err := o.client.engine.ParsePropfind(resp)
	if err != nil {
		return &ResponseError{URL: o.url, Reason: err.Error()}
	}
	result, ok := FindObjectProperties(results, o.url)
	if ok && result.Status.Code != 0 && result.Status.Code != 200 && result.Status.Code != 207 {
		return &PropsetError{URL: o.url, Status: result.Status.Line}
	}
	for name := range set {
		delete(o.props, dav.QName(name))
	}
	for _, name := range remove {
		delete(o.props, dav.QName(name))
	}
	return nil
}

// Children issues a depth-1 PROPFIND and resolves the result through
// ResolveChildren, optionally filtered to a single DAV resourcetype.
func (o *DavObject) Children(filterType string) ([]ChildRef, error) {
	req := o.client.engine.PropfindRequest(o.url, []xml.Name{dav.QResourcetype, dav.QDisplayName}, 1)
	resp, err := o.client.do(req)
	if err != nil {
		return nil, err
	}
	results, err := o.client.engine.ParsePropfind(resp)
	if err != nil {
		return nil, &ResponseError{URL: o.url, Reason: err.Error()}
	}
	children, err := ResolveChildren(results, o.url, filterType)
	if err != nil {
		return nil, err
	}
	if o.client.quirks.DoubleEncodedHrefs {
		for i := range children {
			children[i].URL = NormalizeHref(children[i].URL, true)
		}
	}
	return children, nil
}

// Delete issues a DELETE, tolerating 200/204/404.
func (o *DavObject) Delete() error {
	req := o.client.engine.DeleteRequest(o.url, "")
	resp, err := o.client.do(req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case 200, 204, 404:
		return nil
	default:
		return &DeleteError{URL: o.url, Status: resp.Status}
	}
}
