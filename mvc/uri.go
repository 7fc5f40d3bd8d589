package mvc

import (
	"net/url"
	"strings"
)

// RequestURI is a parsed route uri of the form
// route-key/p1/v1/p2/v2?x=y. Path params win over query params.
type RequestURI struct {
	raw    string
	path   string
	query  string
	route  string
	params map[string]interface{}
}

// ParseURI parses raw. A trailing path key without a value gets "".
func ParseURI(raw string) *RequestURI {
	raw = strings.TrimSpace(raw)
	u := &RequestURI{raw: raw, params: make(map[string]interface{})}

	path, query, _ := strings.Cut(raw, "?")
	if frag := strings.IndexByte(query, '#'); frag >= 0 {
		query = query[:frag]
	}
	u.path = strings.Trim(path, "/")
	u.query = query

	if values, err := url.ParseQuery(query); err == nil {
		for k, v := range values {
			if k == "" {
				continue
			}
			if len(v) == 1 {
				u.params[k] = v[0]
			} else {
				u.params[k] = v
			}
		}
	}

	var segments []string
	for _, s := range strings.Split(u.path, "/") {
		if s == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		segments = append(segments, s)
	}
	if len(segments) == 0 {
		return u
	}

	u.route = segments[0]
	rest := segments[1:]
	for i := 0; i < len(rest); i += 2 {
		value := ""
		if i+1 < len(rest) {
			value = rest[i+1]
		}
		u.params[rest[i]] = value
	}
	return u
}

func (u *RequestURI) String() string { return u.raw }

func (u *RequestURI) Path() string { return u.path }

// RouteKey is the first path segment
func (u *RequestURI) RouteKey() string { return u.route }

// ParamString is the raw query string
func (u *RequestURI) ParamString() string { return u.query }

// Params returns a copy of the path and query params
func (u *RequestURI) Params() map[string]interface{} {
	out := make(map[string]interface{}, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}
