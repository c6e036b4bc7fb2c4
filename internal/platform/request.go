package platform

import (
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// Param is a single request parameter. Parameter order is significant for
// some platforms' canonical form, so requests carry a slice rather than a map.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RequestInput is the mutable description a Request is built from.
type RequestInput struct {
	Method string
	// URI is the target path or absolute URL. A query string, if present,
	// contributes parameters ahead of Params.
	URI        string
	Params     []Param
	BodyDigest string
	// Cookies is the raw Cookie header the caller will send.
	Cookies string
	Context map[string]string
	// Timestamp pins the signing time. Zero uses the current time.
	Timestamp time.Time
}

// Request is an immutable description of the outbound call to be signed. The
// zero value is not useful; construct with NewRequest.
type Request struct {
	platform   Platform
	method     string
	host       string
	path       string
	params     []Param
	query      string
	bodyDigest string
	cookies    map[string]string
	rawCookies string
	context    map[string]string
	timestamp  time.Time
}

// NewRequest validates and freezes the input. All slices and maps are copied,
// so later changes to input do not affect the request.
func NewRequest(p Platform, input RequestInput) (Request, error) {
	if input.URI == "" {
		return Request{}, sigerr.New(sigerr.KindInvalidRequest, "uri is required")
	}

	u, err := url.Parse(input.URI)
	if err != nil {
		return Request{}, sigerr.Wrap(sigerr.KindInvalidRequest, err, "uri is malformed")
	}

	params, err := parseOrderedQuery(u.RawQuery)
	if err != nil {
		return Request{}, sigerr.Wrap(sigerr.KindInvalidRequest, err, "uri query is malformed")
	}
	params = append(params, input.Params...)

	// the caller's own query is signed exactly as it will be sent
	query := u.RawQuery
	if extra := EncodeParams(input.Params); extra != "" {
		if query != "" {
			query += "&"
		}
		query += extra
	}

	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}

	ts := input.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return Request{
		platform:   p,
		method:     method,
		host:       u.Host,
		path:       path,
		params:     params,
		query:      query,
		bodyDigest: input.BodyDigest,
		cookies:    ParseCookies(input.Cookies),
		rawCookies: input.Cookies,
		context:    maps.Clone(input.Context),
		timestamp:  ts.UTC(),
	}, nil
}

func parseOrderedQuery(raw string) ([]Param, error) {
	var params []Param
	for part := range strings.SplitSeq(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params, nil
}

func (r Request) Platform() Platform   { return r.platform }
func (r Request) Method() string       { return r.method }
func (r Request) Host() string         { return r.host }
func (r Request) Path() string         { return r.path }
func (r Request) BodyDigest() string   { return r.bodyDigest }
func (r Request) RawCookies() string   { return r.rawCookies }
func (r Request) Timestamp() time.Time { return r.timestamp }

// Params returns a copy of the ordered parameters.
func (r Request) Params() []Param {
	return slices.Clone(r.params)
}

// Param returns the first value for key.
func (r Request) Param(key string) (string, bool) {
	for _, p := range r.params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Cookie returns the named cookie value, or "" when absent.
func (r Request) Cookie(name string) string {
	return r.cookies[name]
}

// Context returns a caller-supplied context value, or "" when absent.
func (r Request) Context(key string) string {
	return r.context[key]
}

// EncodedQuery is the query the caller sends: the URI's query verbatim,
// followed by the separately supplied params encoded in order.
func (r Request) EncodedQuery() string {
	return r.query
}

// PathWithQuery is the path followed by the ordered query, the form most
// platforms sign.
func (r Request) PathWithQuery() string {
	q := r.EncodedQuery()
	if q == "" {
		return r.path
	}
	return r.path + "?" + q
}

// EncodeParams renders params as a query string without reordering.
func EncodeParams(params []Param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

// SortedParams returns a copy of params ordered by key, keeping the relative
// order of duplicate keys.
func SortedParams(params []Param) []Param {
	sorted := slices.Clone(params)
	slices.SortStableFunc(sorted, func(a, b Param) int {
		return strings.Compare(a.Key, b.Key)
	})
	return sorted
}
