package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/ggoodman/jerrymouse/sessions"
)

// listeners holds one slice per event category. The slices are only appended
// to before the context is initialized.
type listeners struct {
	context     []servlet.ContextListener
	contextAttr []servlet.ContextAttributeListener
	request     []servlet.RequestListener
	requestAttr []servlet.RequestAttributeListener
	session     []servlet.SessionListener
	sessionAttr []servlet.SessionAttributeListener
}

// add registers l under every category it implements and reports whether it
// implemented any.
func (ls *listeners) add(l any) bool {
	matched := false
	if v, ok := l.(servlet.ContextListener); ok {
		ls.context = append(ls.context, v)
		matched = true
	}
	if v, ok := l.(servlet.ContextAttributeListener); ok {
		ls.contextAttr = append(ls.contextAttr, v)
		matched = true
	}
	if v, ok := l.(servlet.RequestListener); ok {
		ls.request = append(ls.request, v)
		matched = true
	}
	if v, ok := l.(servlet.RequestAttributeListener); ok {
		ls.requestAttr = append(ls.requestAttr, v)
		matched = true
	}
	if v, ok := l.(servlet.SessionListener); ok {
		ls.session = append(ls.session, v)
		matched = true
	}
	if v, ok := l.(servlet.SessionAttributeListener); ok {
		ls.sessionAttr = append(ls.sessionAttr, v)
		matched = true
	}
	return matched
}

// notify calls fn for each listener, recovering and logging a panic from any
// one of them so the rest still run.
func notify[L any](ctx context.Context, log *slog.Logger, event string, ls []L, fn func(L)) {
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.ErrorContext(ctx, "listener.panic",
						slog.String("event", event),
						slog.String("listener", fmt.Sprintf("%T", l)),
						slog.Any("panic", r),
					)
				}
			}()
			fn(l)
		}()
	}
}

func (c *Context) fireContextInitialized(ctx context.Context) {
	ev := servlet.ContextEvent{Context: c}
	notify(ctx, c.log, "context.initialized", c.listeners.context, func(l servlet.ContextListener) { l.ContextInitialized(ev) })
}

func (c *Context) fireContextDestroyed(ctx context.Context) {
	ev := servlet.ContextEvent{Context: c}
	notify(ctx, c.log, "context.destroyed", c.listeners.context, func(l servlet.ContextListener) { l.ContextDestroyed(ev) })
}

func (c *Context) fireContextAttributeAdded(name string, value any) {
	ev := servlet.ContextAttributeEvent{Context: c, Name: name, Value: value}
	notify(context.Background(), c.log, "context.attribute.added", c.listeners.contextAttr, func(l servlet.ContextAttributeListener) { l.ContextAttributeAdded(ev) })
}

func (c *Context) fireContextAttributeRemoved(name string, value any) {
	ev := servlet.ContextAttributeEvent{Context: c, Name: name, Value: value}
	notify(context.Background(), c.log, "context.attribute.removed", c.listeners.contextAttr, func(l servlet.ContextAttributeListener) { l.ContextAttributeRemoved(ev) })
}

func (c *Context) fireContextAttributeReplaced(name string, value any) {
	ev := servlet.ContextAttributeEvent{Context: c, Name: name, Value: value}
	notify(context.Background(), c.log, "context.attribute.replaced", c.listeners.contextAttr, func(l servlet.ContextAttributeListener) { l.ContextAttributeReplaced(ev) })
}

func (c *Context) fireRequestInitialized(req *Request) {
	ev := servlet.RequestEvent{Context: c, Request: req}
	notify(req.Context(), c.log, "request.initialized", c.listeners.request, func(l servlet.RequestListener) { l.RequestInitialized(ev) })
}

func (c *Context) fireRequestDestroyed(req *Request) {
	ev := servlet.RequestEvent{Context: c, Request: req}
	notify(req.Context(), c.log, "request.destroyed", c.listeners.request, func(l servlet.RequestListener) { l.RequestDestroyed(ev) })
}

func (c *Context) fireRequestAttributeAdded(req *Request, name string, value any) {
	ev := servlet.RequestAttributeEvent{Context: c, Request: req, Name: name, Value: value}
	notify(req.Context(), c.log, "request.attribute.added", c.listeners.requestAttr, func(l servlet.RequestAttributeListener) { l.RequestAttributeAdded(ev) })
}

func (c *Context) fireRequestAttributeRemoved(req *Request, name string, value any) {
	ev := servlet.RequestAttributeEvent{Context: c, Request: req, Name: name, Value: value}
	notify(req.Context(), c.log, "request.attribute.removed", c.listeners.requestAttr, func(l servlet.RequestAttributeListener) { l.RequestAttributeRemoved(ev) })
}

func (c *Context) fireRequestAttributeReplaced(req *Request, name string, value any) {
	ev := servlet.RequestAttributeEvent{Context: c, Request: req, Name: name, Value: value}
	notify(req.Context(), c.log, "request.attribute.replaced", c.listeners.requestAttr, func(l servlet.RequestAttributeListener) { l.RequestAttributeReplaced(ev) })
}

// sessionEvents adapts the context to sessions.Notifier.
type sessionEvents struct {
	c *Context
}

var _ sessions.Notifier = sessionEvents{}

func (n sessionEvents) ServletContext() servlet.Context { return n.c }

func (n sessionEvents) SessionCreated(ctx context.Context, s *sessions.Session) {
	ev := servlet.SessionEvent{Session: s}
	notify(ctx, n.c.log, "session.created", n.c.listeners.session, func(l servlet.SessionListener) { l.SessionCreated(ev) })
}

func (n sessionEvents) SessionDestroyed(ctx context.Context, s *sessions.Session) {
	ev := servlet.SessionEvent{Session: s}
	notify(ctx, n.c.log, "session.destroyed", n.c.listeners.session, func(l servlet.SessionListener) { l.SessionDestroyed(ev) })
}

func (n sessionEvents) SessionAttributeAdded(s *sessions.Session, name string, value any) {
	ev := servlet.SessionAttributeEvent{Session: s, Name: name, Value: value}
	notify(context.Background(), n.c.log, "session.attribute.added", n.c.listeners.sessionAttr, func(l servlet.SessionAttributeListener) { l.SessionAttributeAdded(ev) })
}

func (n sessionEvents) SessionAttributeRemoved(s *sessions.Session, name string, value any) {
	ev := servlet.SessionAttributeEvent{Session: s, Name: name, Value: value}
	notify(context.Background(), n.c.log, "session.attribute.removed", n.c.listeners.sessionAttr, func(l servlet.SessionAttributeListener) { l.SessionAttributeRemoved(ev) })
}

func (n sessionEvents) SessionAttributeReplaced(s *sessions.Session, name string, value any) {
	ev := servlet.SessionAttributeEvent{Session: s, Name: name, Value: value}
	notify(context.Background(), n.c.log, "session.attribute.replaced", n.c.listeners.sessionAttr, func(l servlet.SessionAttributeListener) { l.SessionAttributeReplaced(ev) })
}
