package servlet

// Listener interfaces are grouped by event category. A single value may
// implement several of them and is then notified for each category.
// Callbacks run synchronously on the goroutine that caused the event; a
// panicking listener is recovered and logged without affecting the others.

type ContextListener interface {
	ContextInitialized(ev ContextEvent)
	ContextDestroyed(ev ContextEvent)
}

type ContextAttributeListener interface {
	ContextAttributeAdded(ev ContextAttributeEvent)
	ContextAttributeRemoved(ev ContextAttributeEvent)
	ContextAttributeReplaced(ev ContextAttributeEvent)
}

type RequestListener interface {
	RequestInitialized(ev RequestEvent)
	RequestDestroyed(ev RequestEvent)
}

type RequestAttributeListener interface {
	RequestAttributeAdded(ev RequestAttributeEvent)
	RequestAttributeRemoved(ev RequestAttributeEvent)
	RequestAttributeReplaced(ev RequestAttributeEvent)
}

type SessionListener interface {
	SessionCreated(ev SessionEvent)
	SessionDestroyed(ev SessionEvent)
}

type SessionAttributeListener interface {
	SessionAttributeAdded(ev SessionAttributeEvent)
	SessionAttributeRemoved(ev SessionAttributeEvent)
	SessionAttributeReplaced(ev SessionAttributeEvent)
}

type ContextEvent struct {
	Context Context
}

// ContextAttributeEvent carries the new value for added and replaced events
// and the prior value for removed events.
type ContextAttributeEvent struct {
	Context Context
	Name    string
	Value   any
}

type RequestEvent struct {
	Context Context
	Request Request
}

type RequestAttributeEvent struct {
	Context Context
	Request Request
	Name    string
	Value   any
}

type SessionEvent struct {
	Session Session
}

type SessionAttributeEvent struct {
	Session Session
	Name    string
	Value   any
}
