package engine

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/jerrymouse/internal/headers"
	"github.com/ggoodman/jerrymouse/servlet"
	"golang.org/x/text/language"
)

const defaultBufferSize = 1024

var _ servlet.Response = (*Response)(nil)

// responseState is the commit state machine: headers may change only while
// the response is open; committing writes the status line and headers; the
// connector closes the response once the exchange is done.
type responseState int

const (
	stateOpen responseState = iota
	stateCommitted
	stateClosed
)

type outputKind int

const (
	outputNone outputKind = iota
	outputBytes
	outputText
)

// Response adapts an http.ResponseWriter to servlet.Response. Headers and
// cookies are held until the first OutputStream or Writer call, SendError,
// SendRedirect or Cleanup, whichever happens first.
type Response struct {
	w   http.ResponseWriter
	log *slog.Logger

	headers     *headers.Store
	cookies     []*http.Cookie
	status      int
	contentType string
	charset     string
	locale      language.Tag
	bufferSize  int

	state responseState
	kind  outputKind
	body  *body
}

// NewResponse wraps w. charset is the initial character encoding reported
// by CharacterEncoding.
func NewResponse(w http.ResponseWriter, charset string, log *slog.Logger) *Response {
	if log == nil {
		log = slog.Default()
	}
	r := &Response{
		w:          w,
		log:        log,
		headers:    headers.New(),
		status:     http.StatusOK,
		charset:    charset,
		locale:     language.AmericanEnglish,
		bufferSize: defaultBufferSize,
	}
	_ = r.SetContentType("text/html")
	return r
}

// NewResponse wraps w using the context's response encoding.
func (c *Context) NewResponse(w http.ResponseWriter) *Response {
	return NewResponse(w, c.cfg.ResponseEncoding, c.log)
}

func (r *Response) Status() int { return r.status }

func (r *Response) SetStatus(code int) error {
	if err := r.checkNotCommitted("SetStatus"); err != nil {
		return err
	}
	r.status = code
	return nil
}

func (r *Response) Header(name string) string { return r.headers.Get(name) }

func (r *Response) Headers(name string) []string { return r.headers.Values(name) }

func (r *Response) HeaderNames() []string { return r.headers.Names() }

func (r *Response) ContainsHeader(name string) bool { return r.headers.Contains(name) }

func (r *Response) SetHeader(name, value string) error {
	if err := r.checkNotCommitted("SetHeader"); err != nil {
		return err
	}
	r.headers.Set(name, value)
	return nil
}

func (r *Response) AddHeader(name, value string) error {
	if err := r.checkNotCommitted("AddHeader"); err != nil {
		return err
	}
	r.headers.Add(name, value)
	return nil
}

func (r *Response) SetDateHeader(name string, t time.Time) error {
	if err := r.checkNotCommitted("SetDateHeader"); err != nil {
		return err
	}
	r.headers.SetDate(name, t)
	return nil
}

func (r *Response) AddDateHeader(name string, t time.Time) error {
	if err := r.checkNotCommitted("AddDateHeader"); err != nil {
		return err
	}
	r.headers.AddDate(name, t)
	return nil
}

func (r *Response) SetIntHeader(name string, v int) error {
	if err := r.checkNotCommitted("SetIntHeader"); err != nil {
		return err
	}
	r.headers.SetInt(name, v)
	return nil
}

func (r *Response) AddIntHeader(name string, v int) error {
	if err := r.checkNotCommitted("AddIntHeader"); err != nil {
		return err
	}
	r.headers.AddInt(name, v)
	return nil
}

func (r *Response) ContentType() string { return r.contentType }

// SetContentType sets the Content-Type header. A charset parameter also
// becomes the response character encoding.
func (r *Response) SetContentType(t string) error {
	if err := r.checkNotCommitted("SetContentType"); err != nil {
		return err
	}
	r.contentType = t
	r.headers.Set("Content-Type", t)
	if mt, err := contenttype.ParseMediaType(t); err == nil {
		if cs, ok := mt.Parameters["charset"]; ok && cs != "" {
			r.charset = cs
		}
	}
	return nil
}

func (r *Response) CharacterEncoding() string { return r.charset }

// SetCharacterEncoding is ignored once the response is committed.
func (r *Response) SetCharacterEncoding(charset string) {
	if r.state != stateOpen {
		return
	}
	r.charset = charset
}

// SetContentLength sets Content-Length; a negative n removes it. It is
// ignored once the response is committed.
func (r *Response) SetContentLength(n int64) {
	if r.state != stateOpen {
		return
	}
	if n < 0 {
		r.headers.Del("Content-Length")
		return
	}
	r.headers.Set("Content-Length", strconv.FormatInt(n, 10))
}

func (r *Response) Locale() language.Tag { return r.locale }

func (r *Response) SetLocale(tag language.Tag) error {
	if err := r.checkNotCommitted("SetLocale"); err != nil {
		return err
	}
	r.locale = tag
	r.headers.Set("Content-Language", tag.String())
	return nil
}

// AddCookie queues c for the Set-Cookie headers. It is ignored once the
// response is committed.
func (r *Response) AddCookie(c *http.Cookie) {
	if c == nil || r.state != stateOpen {
		return
	}
	r.cookies = append(r.cookies, c)
}

func (r *Response) BufferSize() int { return r.bufferSize }

func (r *Response) SetBufferSize(n int) error {
	if r.kind != outputNone {
		return fmt.Errorf("%w: SetBufferSize after the output was opened", servlet.ErrIllegalState)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative buffer size %d", servlet.ErrInvalidArgument, n)
	}
	r.bufferSize = n
	return nil
}

func (r *Response) FlushBuffer() error {
	if r.kind == outputNone {
		return fmt.Errorf("%w: FlushBuffer before the output was opened", servlet.ErrIllegalState)
	}
	return r.body.Flush()
}

// ResetBuffer only checks the state: nothing is buffered before commit.
func (r *Response) ResetBuffer() error {
	return r.checkNotCommitted("ResetBuffer")
}

// Reset restores status 200 and drops every header and cookie.
func (r *Response) Reset() error {
	if err := r.checkNotCommitted("Reset"); err != nil {
		return err
	}
	r.status = http.StatusOK
	r.headers.Clear()
	r.cookies = nil
	r.contentType = ""
	return nil
}

func (r *Response) IsCommitted() bool { return r.state != stateOpen }

func (r *Response) OutputStream() (servlet.OutputStream, error) {
	switch r.kind {
	case outputBytes:
		return r.body, nil
	case outputText:
		return nil, fmt.Errorf("%w: OutputStream after Writer", servlet.ErrIllegalState)
	}
	if err := r.open(outputBytes); err != nil {
		return nil, err
	}
	return r.body, nil
}

// Writer returns the text view of the body. Text is written as UTF-8
// whatever CharacterEncoding reports.
func (r *Response) Writer() (servlet.Writer, error) {
	switch r.kind {
	case outputText:
		return r.body, nil
	case outputBytes:
		return nil, fmt.Errorf("%w: Writer after OutputStream", servlet.ErrIllegalState)
	}
	if err := r.open(outputText); err != nil {
		return nil, err
	}
	return r.body, nil
}

func (r *Response) open(kind outputKind) error {
	if r.state != stateOpen {
		return fmt.Errorf("%w: response already committed", servlet.ErrIllegalState)
	}
	r.commit()
	r.kind = kind
	r.body = newBody(r.w, r.bufferSize)
	return nil
}

// SendError commits the response with status code and no body.
func (r *Response) SendError(code int, msg string) error {
	if err := r.checkNotCommitted("SendError"); err != nil {
		return err
	}
	r.status = code
	r.log.Debug("http.response.error", slog.Int("status", code), slog.String("msg", msg))
	r.commit()
	return nil
}

// SendRedirect commits a 302 pointing at location with no body.
func (r *Response) SendRedirect(location string) error {
	if err := r.checkNotCommitted("SendRedirect"); err != nil {
		return err
	}
	r.status = http.StatusFound
	r.headers.Set("Location", location)
	r.commit()
	return nil
}

func (r *Response) EncodeURL(url string) string { return url }

func (r *Response) EncodeRedirectURL(url string) string { return url }

// Cleanup finishes the exchange: it commits a response nobody wrote to and
// flushes the body. It is safe to call more than once.
func (r *Response) Cleanup() error {
	switch r.state {
	case stateClosed:
		return nil
	case stateOpen:
		r.commit()
	}
	r.state = stateClosed
	if r.body != nil {
		return r.body.close()
	}
	return nil
}

func (r *Response) commit() {
	dst := r.w.Header()
	r.headers.CopyTo(dst)
	for _, c := range r.cookies {
		if v := c.String(); v != "" {
			dst.Add("Set-Cookie", v)
		}
	}
	r.w.WriteHeader(r.status)
	r.state = stateCommitted
}

func (r *Response) checkNotCommitted(op string) error {
	if r.state != stateOpen {
		return fmt.Errorf("%w: %s on a committed response", servlet.ErrIllegalState, op)
	}
	return nil
}

// body is both the byte and the text view of a committed response.
type body struct {
	w      http.ResponseWriter
	out    io.Writer
	buf    *bufio.Writer
	closed bool
}

func newBody(w http.ResponseWriter, size int) *body {
	b := &body{w: w, out: w}
	if size > 0 {
		b.buf = bufio.NewWriterSize(w, size)
		b.out = b.buf
	}
	return b
}

func (b *body) Write(p []byte) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("%w: write after close", servlet.ErrIllegalState)
	}
	return b.out.Write(p)
}

func (b *body) WriteString(s string) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("%w: write after close", servlet.ErrIllegalState)
	}
	return io.WriteString(b.out, s)
}

func (b *body) Flush() error {
	if b.closed {
		return nil
	}
	if b.buf != nil {
		if err := b.buf.Flush(); err != nil {
			return err
		}
	}
	if f, ok := b.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (b *body) close() error {
	if b.closed {
		return nil
	}
	var err error
	if b.buf != nil {
		err = b.buf.Flush()
	}
	b.closed = true
	return err
}
