package servlet

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/text/language"
)

// Request is the servlet view of one HTTP exchange. A Request is confined to
// the goroutine serving it.
type Request interface {
	Context() context.Context

	Method() string
	// RequestURI is the request path without the query string.
	RequestURI() string
	// QueryString is the raw, undecoded query string.
	QueryString() string
	Protocol() string
	Scheme() string
	ServerName() string
	ServerPort() int
	RemoteAddr() string
	RemoteHost() string
	RemotePort() int
	LocalAddr() string
	LocalName() string
	LocalPort() int
	ContextPath() string
	DispatcherType() DispatcherType

	Header(name string) string
	Headers(name string) []string
	HeaderNames() []string
	// IntHeader returns -1 when the header is absent.
	IntHeader(name string) (int, error)
	// DateHeader returns the zero time when the header is absent.
	DateHeader(name string) (time.Time, error)

	ContentType() string
	// ContentLength returns -1 when unknown.
	ContentLength() int64
	CharacterEncoding() string
	SetCharacterEncoding(enc string) error
	Locale() language.Tag
	Locales() []language.Tag

	Cookies() []*http.Cookie

	Parameter(name string) string
	ParameterValues(name string) []string
	ParameterNames() []string
	ParameterMap() map[string][]string

	// InputStream and Reader are mutually exclusive views of the body.
	InputStream() (io.Reader, error)
	Reader() (*bufio.Reader, error)

	Attribute(name string) any
	AttributeNames() []string
	SetAttribute(name string, value any)
	RemoveAttribute(name string)

	// Session returns the session bound to this request. With create=false
	// and no session cookie it returns (nil, nil).
	Session(create bool) (Session, error)

	ServletContext() Context
}

// OutputStream is the byte view of a response body.
type OutputStream interface {
	io.Writer
	Flush() error
}

// Writer is the text view of a response body. It always encodes UTF-8.
type Writer interface {
	io.Writer
	io.StringWriter
	Flush() error
}

// Response is the servlet view of the reply to one HTTP exchange. Status,
// headers and cookies may change until the response is committed. After that
// the error-returning mutators return ErrIllegalState, while
// SetCharacterEncoding, SetContentLength and AddCookie are silently ignored.
type Response interface {
	Status() int
	SetStatus(code int) error

	Header(name string) string
	Headers(name string) []string
	HeaderNames() []string
	ContainsHeader(name string) bool
	SetHeader(name, value string) error
	AddHeader(name, value string) error
	SetDateHeader(name string, t time.Time) error
	AddDateHeader(name string, t time.Time) error
	SetIntHeader(name string, v int) error
	AddIntHeader(name string, v int) error

	ContentType() string
	SetContentType(t string) error
	CharacterEncoding() string
	SetCharacterEncoding(charset string)
	SetContentLength(n int64)
	Locale() language.Tag
	SetLocale(tag language.Tag) error

	AddCookie(c *http.Cookie)

	BufferSize() int
	SetBufferSize(n int) error
	FlushBuffer() error
	ResetBuffer() error
	Reset() error
	IsCommitted() bool

	// OutputStream and Writer commit the headers on first use and are
	// mutually exclusive.
	OutputStream() (OutputStream, error)
	Writer() (Writer, error)

	SendError(code int, msg string) error
	SendRedirect(location string) error

	EncodeURL(url string) string
	EncodeRedirectURL(url string) string
}

// Session is server-side state shared by the requests of one client.
type Session interface {
	ID() string
	CreationTime() time.Time
	LastAccessedTime() time.Time
	MaxInactiveInterval() time.Duration
	SetMaxInactiveInterval(d time.Duration)
	IsNew() (bool, error)

	Attribute(name string) (any, error)
	AttributeNames() ([]string, error)
	SetAttribute(name string, value any) error
	RemoveAttribute(name string) error

	Invalidate() error

	ServletContext() Context
}
