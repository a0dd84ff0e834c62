package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/jerrymouse/internal/attrs"
	"github.com/ggoodman/jerrymouse/internal/charset"
	"github.com/ggoodman/jerrymouse/internal/headers"
	"github.com/ggoodman/jerrymouse/internal/logctx"
	"github.com/ggoodman/jerrymouse/internal/params"
	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/ggoodman/jerrymouse/sessions"
	"github.com/google/uuid"
	"golang.org/x/text/language"
)

var _ servlet.Request = (*Request)(nil)

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyStream
	bodyReader
)

// Request adapts an *http.Request to servlet.Request. It is confined to the
// goroutine serving the exchange.
type Request struct {
	sc   *Context
	r    *http.Request
	resp *Response
	ctx  context.Context

	headers  *headers.Store
	attrs    attrs.Store
	params   *params.Parameters
	encoding string

	body         bodyKind
	stream       io.Reader
	reader       *bufio.Reader
	formConsumed bool

	session *sessions.Session
}

// NewRequest wraps r. resp is the response of the same exchange; it receives
// the session cookie when a session is created.
func (c *Context) NewRequest(r *http.Request, resp *Response) *Request {
	q := &Request{
		sc:      c,
		r:       r,
		resp:    resp,
		ctx:     r.Context(),
		headers: headers.From(r.Header),
		attrs:   attrs.NewOrdered(),
	}
	q.encoding = c.cfg.RequestEncoding
	if mt, err := contenttype.GetMediaType(r); err == nil {
		if cs, ok := mt.Parameters["charset"]; ok && cs != "" {
			q.encoding = cs
		}
	}
	if q.encoding == "" {
		q.encoding = "UTF-8"
	}
	q.params = params.New(r.URL.RawQuery, q.readForm, q.encoding)
	return q
}

func (q *Request) Context() context.Context { return q.ctx }

func (q *Request) Method() string { return q.r.Method }

func (q *Request) RequestURI() string { return q.r.URL.Path }

func (q *Request) QueryString() string { return q.r.URL.RawQuery }

func (q *Request) Protocol() string { return "HTTP/1.1" }

// Scheme honors the configured forwarded-proto header.
func (q *Request) Scheme() string {
	if v := q.forwarded(q.sc.cfg.ForwardedHeaders.Proto); v != "" {
		return strings.ToLower(v)
	}
	return "http"
}

// ServerName honors the configured forwarded-host header, then the Host
// header, then the local address.
func (q *Request) ServerName() string {
	if v := q.forwarded(q.sc.cfg.ForwardedHeaders.Host); v != "" {
		host, _ := splitHostPort(v)
		return host
	}
	if q.r.Host != "" {
		host, _ := splitHostPort(q.r.Host)
		return host
	}
	return q.LocalName()
}

func (q *Request) ServerPort() int {
	if q.r.Host != "" {
		if _, port := splitHostPort(q.r.Host); port > 0 {
			return port
		}
		if q.Scheme() == "https" {
			return 443
		}
		return 80
	}
	return q.LocalPort()
}

// RemoteAddr honors the first entry of the configured forwarded-for header.
func (q *Request) RemoteAddr() string {
	if v := q.forwarded(q.sc.cfg.ForwardedHeaders.For); v != "" {
		return v
	}
	host, _ := splitHostPort(q.r.RemoteAddr)
	return host
}

func (q *Request) RemoteHost() string { return q.RemoteAddr() }

func (q *Request) RemotePort() int {
	_, port := splitHostPort(q.r.RemoteAddr)
	return port
}

func (q *Request) LocalAddr() string {
	host, _ := splitHostPort(q.localAddr())
	return host
}

func (q *Request) LocalName() string { return q.LocalAddr() }

func (q *Request) LocalPort() int {
	_, port := splitHostPort(q.localAddr())
	return port
}

func (q *Request) localAddr() string {
	if a, ok := q.r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && a != nil {
		return a.String()
	}
	return ""
}

// forwarded returns the first comma separated value of header, or "" when
// header is unset or absent from the request.
func (q *Request) forwarded(header string) string {
	if header == "" {
		return ""
	}
	v := q.r.Header.Get(header)
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func (q *Request) ContextPath() string { return "" }

func (q *Request) DispatcherType() servlet.DispatcherType { return servlet.DispatchRequest }

func (q *Request) Header(name string) string { return q.headers.Get(name) }

func (q *Request) Headers(name string) []string { return q.headers.Values(name) }

func (q *Request) HeaderNames() []string { return q.headers.Names() }

func (q *Request) IntHeader(name string) (int, error) { return q.headers.Int(name) }

func (q *Request) DateHeader(name string) (time.Time, error) { return q.headers.Date(name) }

func (q *Request) ContentType() string { return q.r.Header.Get("Content-Type") }

func (q *Request) ContentLength() int64 { return q.r.ContentLength }

func (q *Request) CharacterEncoding() string { return q.encoding }

// SetCharacterEncoding changes the charset used to decode parameters and the
// Reader. It fails once the body has been opened.
func (q *Request) SetCharacterEncoding(enc string) error {
	if q.body != bodyNone {
		return fmt.Errorf("%w: SetCharacterEncoding after the body was opened", servlet.ErrIllegalState)
	}
	if err := q.params.SetCharset(enc); err != nil {
		return err
	}
	q.encoding = enc
	return nil
}

// Locale is the preferred Accept-Language tag, en-US when none is sent.
func (q *Request) Locale() language.Tag { return q.Locales()[0] }

func (q *Request) Locales() []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(q.r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return []language.Tag{language.AmericanEnglish}
	}
	return tags
}

// Cookies parses the Cookie header on every call.
func (q *Request) Cookies() []*http.Cookie {
	var out []*http.Cookie
	for _, line := range q.r.Header.Values("Cookie") {
		for _, part := range strings.FieldsFunc(line, func(r rune) bool { return r == ';' || r == ',' }) {
			part = strings.TrimSpace(part)
			name, value, ok := strings.Cut(part, "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				continue
			}
			out = append(out, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
		}
	}
	return out
}

func (q *Request) Parameter(name string) string { return q.params.Get(name) }

func (q *Request) ParameterValues(name string) []string { return q.params.Values(name) }

func (q *Request) ParameterNames() []string { return q.params.Names() }

func (q *Request) ParameterMap() map[string][]string { return q.params.Map() }

// readForm feeds the parameter store with the body of form submissions that
// nobody has opened yet.
func (q *Request) readForm() ([]byte, error) {
	if q.body != bodyNone || q.r.Body == nil || !q.isForm() {
		return nil, nil
	}
	q.formConsumed = true
	return io.ReadAll(q.r.Body)
}

func (q *Request) isForm() bool {
	switch q.r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	mt, err := contenttype.GetMediaType(q.r)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt.Type, "application") && strings.EqualFold(mt.Subtype, "x-www-form-urlencoded")
}

func (q *Request) rawBody() io.Reader {
	if q.r.Body == nil || q.formConsumed {
		return http.NoBody
	}
	return q.r.Body
}

// InputStream returns the raw body. It fails after Reader was called.
func (q *Request) InputStream() (io.Reader, error) {
	switch q.body {
	case bodyStream:
		return q.stream, nil
	case bodyReader:
		return nil, fmt.Errorf("%w: InputStream after Reader", servlet.ErrIllegalState)
	}
	q.stream = q.rawBody()
	q.body = bodyStream
	return q.stream, nil
}

// Reader returns the body decoded from the request character encoding. It
// fails after InputStream was called.
func (q *Request) Reader() (*bufio.Reader, error) {
	switch q.body {
	case bodyReader:
		return q.reader, nil
	case bodyStream:
		return nil, fmt.Errorf("%w: Reader after InputStream", servlet.ErrIllegalState)
	}
	enc, err := charset.Lookup(q.encoding)
	if err != nil {
		return nil, err
	}
	q.reader = bufio.NewReader(charset.NewReader(enc, q.rawBody()))
	q.body = bodyReader
	return q.reader, nil
}

func (q *Request) Attribute(name string) any { return q.attrs.Get(name) }

func (q *Request) AttributeNames() []string { return q.attrs.Names() }

// SetAttribute stores value under name; a nil value removes it.
func (q *Request) SetAttribute(name string, value any) {
	if value == nil {
		q.RemoveAttribute(name)
		return
	}
	if prior := q.attrs.Set(name, value); prior != nil {
		q.sc.fireRequestAttributeReplaced(q, name, value)
	} else {
		q.sc.fireRequestAttributeAdded(q, name, value)
	}
}

func (q *Request) RemoveAttribute(name string) {
	prior := q.attrs.Remove(name)
	q.sc.fireRequestAttributeRemoved(q, name, prior)
}

// Session resolves the session named by the session cookie. Without a cookie
// it returns (nil, nil) unless create is set, in which case it issues a new
// id and queues the cookie on the response.
func (q *Request) Session(create bool) (servlet.Session, error) {
	skipCookie := false
	if q.session != nil {
		if q.session.ID() != "" {
			return q.session, nil
		}
		// Invalidated during this request; the cookie names a dead session.
		q.session = nil
		skipCookie = true
	}

	cookieName := q.sc.cfg.WebApp.SessionCookieName
	if !skipCookie {
		for _, c := range q.Cookies() {
			if c.Name == cookieName && c.Value != "" {
				return q.bindSession(c.Value), nil
			}
		}
	}

	if !create {
		return nil, nil
	}
	if q.resp.IsCommitted() {
		return nil, fmt.Errorf("%w: cannot create a session after the response was committed", servlet.ErrIllegalState)
	}

	id := uuid.NewString()
	if err := q.resp.AddHeader("Set-Cookie", cookieName+"="+id+"; Path=/; SameSite=Strict; HttpOnly"); err != nil {
		return nil, err
	}
	return q.bindSession(id), nil
}

func (q *Request) bindSession(id string) *sessions.Session {
	s := q.sc.sessions.GetOrCreate(q.ctx, id)
	q.session = s
	q.ctx = logctx.WithSessionData(q.ctx, &logctx.SessionData{SessionID: id})
	return s
}

func (q *Request) ServletContext() servlet.Context { return q.sc }

func splitHostPort(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, -1
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return host, -1
	}
	return host, n
}
