package realtime

import (
	"log/slog"
	"sync"
)

// registry routes inbound frames and lifecycle events to subscribers.
// Multiple handlers per message type are permitted; all are invoked,
// order not significant. Each invocation is individually fault
// isolated: a panicking handler is logged and the rest still run.
type registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   HandlerID
	handlers map[string]map[HandlerID]Handler
	events   map[EventKind]map[HandlerID]EventHandler
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		logger:   logger,
		handlers: make(map[string]map[HandlerID]Handler),
		events:   make(map[EventKind]map[HandlerID]EventHandler),
	}
}

func (r *registry) on(msgType string, h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.handlers[msgType]
	if !ok {
		set = make(map[HandlerID]Handler)
		r.handlers[msgType] = set
	}
	set[id] = h
	return id
}

func (r *registry) off(msgType string, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[msgType]
	if !ok {
		return
	}
	delete(set, id)
	// Drop the type entry with the last handler so churn cannot grow
	// the map without bound.
	if len(set) == 0 {
		delete(r.handlers, msgType)
	}
}

func (r *registry) onEvent(kind EventKind, h EventHandler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.events[kind]
	if !ok {
		set = make(map[HandlerID]EventHandler)
		r.events[kind] = set
	}
	set[id] = h
	return id
}

func (r *registry) offEvent(kind EventKind, id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.events[kind]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.events, kind)
	}
}

// clear drops every registration. Called on forced disconnect; a torn
// down client requires full re-subscription.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]map[HandlerID]Handler)
	r.events = make(map[EventKind]map[HandlerID]EventHandler)
}

// dispatch invokes every handler registered for the frame's exact type.
func (r *registry) dispatch(f Frame) {
	r.mu.Lock()
	set := r.handlers[f.Type]
	hs := make([]Handler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	for _, h := range hs {
		r.invoke(f, h)
	}
}

// emit invokes every subscriber for the event's kind.
func (r *registry) emit(ev Event) {
	r.mu.Lock()
	set := r.events[ev.Kind]
	hs := make([]EventHandler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	for _, h := range hs {
		r.invokeEvent(ev, h)
	}
}

func (r *registry) invoke(f Frame, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic",
				"type", f.Type,
				"panic", rec,
			)
		}
	}()
	h(f)
}

func (r *registry) invokeEvent(ev Event, h EventHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panic",
				"event", ev.Kind.String(),
				"panic", rec,
			)
		}
	}()
	h(ev)
}
