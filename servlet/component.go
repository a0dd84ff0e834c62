package servlet

import (
	"fmt"
	"sync"
)

// WebServlet is the registration metadata of a servlet component.
type WebServlet struct {
	// Name defaults to the component type name.
	Name        string
	URLPatterns []string
	InitParams  map[string]string
}

// WebFilter is the registration metadata of a filter component.
type WebFilter struct {
	Name        string
	URLPatterns []string
	// DispatcherTypes defaults to DispatchRequest.
	DispatcherTypes []DispatcherType
	InitParams      map[string]string
}

// WebListener marks a listener component.
type WebListener struct {
	Description string
}

// Component describes one deployable unit of a web application: a factory
// plus the metadata telling the container what the produced value is. At
// most one of Servlet and Filter should be set; Listener may accompany
// either.
type Component struct {
	// Type is a stable, human readable identifier used in logs and as the
	// default registration name.
	Type string
	New  func() any

	Servlet  *WebServlet
	Filter   *WebFilter
	Listener *WebListener
}

var (
	registryMu sync.Mutex
	registry   []Component
)

// Register makes a component available to every container started in this
// process. It is meant to be called from init functions of web application
// packages linked into the binary.
func Register(c Component) {
	if c.New == nil {
		panic(fmt.Sprintf("servlet: Register of %q with nil factory", c.Type))
	}
	if c.Servlet == nil && c.Filter == nil && c.Listener == nil {
		panic(fmt.Sprintf("servlet: Register of %q without servlet, filter or listener metadata", c.Type))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, c)
}

// Registered returns the registered components in registration order.
func Registered() []Component {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Component, len(registry))
	copy(out, registry)
	return out
}
