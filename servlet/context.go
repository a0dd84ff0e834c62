package servlet

import "time"

// Context is the root object of one running web application.
type Context interface {
	ContextPath() string
	MajorVersion() int
	MinorVersion() int
	ServerInfo() string
	ServletContextName() string
	VirtualServerName() string
	MimeType(file string) string
	// RealPath maps a context-relative path into the web root. It returns ""
	// for paths escaping the root.
	RealPath(path string) string
	InitParameter(name string) string
	InitParameterNames() []string

	Attribute(name string) any
	AttributeNames() []string
	SetAttribute(name string, value any)
	RemoveAttribute(name string)

	// AddServlet, AddFilter and AddListener are only valid before the
	// context finishes initializing.
	AddServlet(name string, s Servlet) (ServletRegistration, error)
	AddFilter(name string, f Filter) (FilterRegistration, error)
	AddListener(l any) error

	ServletRegistration(name string) (ServletRegistration, bool)
	ServletRegistrations() map[string]ServletRegistration
	FilterRegistration(name string) (FilterRegistration, bool)
	FilterRegistrations() map[string]FilterRegistration

	SessionTimeout() (time.Duration, error)
	SetSessionTimeout(d time.Duration) error

	Log(msg string, args ...any)
}

// Registration is the part shared by servlet and filter registrations. All
// mutators return ErrIllegalState once the component has been initialized.
type Registration interface {
	Name() string
	ClassName() string
	InitParameter(name string) string
	SetInitParameter(name, value string) (bool, error)
	// SetInitParameters returns the names that were already set and left
	// untouched.
	SetInitParameters(params map[string]string) ([]string, error)
	InitParameters() map[string]string
}

type ServletRegistration interface {
	Registration
	AddMapping(patterns ...string) error
	Mappings() []string
}

type FilterRegistration interface {
	Registration
	AddMappingForURLPatterns(types []DispatcherType, isMatchAfter bool, patterns ...string) error
	URLPatternMappings() []string
	DispatcherTypes() []DispatcherType
}
