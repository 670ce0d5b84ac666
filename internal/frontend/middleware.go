package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"
)

// MiddlewareFunc is one layer of request handling. A layer must call
// next for the request to proceed; skipping next after writing an error
// response is how a layer rejects a request.
type MiddlewareFunc func(w http.ResponseWriter, r *http.Request, next http.HandlerFunc)

// Middleware wraps a final handler in layers, outermost first.
type Middleware struct {
	layers []MiddlewareFunc
}

// NewMiddleware returns a Middleware running the given layers in order.
func NewMiddleware(layers ...MiddlewareFunc) *Middleware {
	return &Middleware{layers: layers}
}

// Handler composes the layers around handler. Register the result on a
// ServeMux pattern when a layer needs path wildcards: those only bind
// after pattern multiplexing, so pre-mux layers never see them.
func (m *Middleware) Handler(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(m.layers) - 1; i >= 0; i-- {
		layer := m.layers[i]
		next := wrapped.ServeHTTP
		wrapped = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			layer(w, r, next)
		})
	}
	return wrapped
}

// HandlerFunc is Handler for a bare handler function.
func (m *Middleware) HandlerFunc(handler func(http.ResponseWriter, *http.Request)) http.Handler {
	return m.Handler(http.HandlerFunc(handler))
}

// MiddlewareMux runs its layers before pattern multiplexing, so they
// see every request, including ones no registered pattern matches.
type MiddlewareMux struct {
	http.ServeMux
	middleware Middleware
}

// NewMiddlewareMux returns a mux whose layers run ahead of routing.
func NewMiddlewareMux(layers ...MiddlewareFunc) *MiddlewareMux {
	return &MiddlewareMux{middleware: Middleware{layers: layers}}
}

// ServeHTTP seeds the context with a slot for the matched route
// pattern, runs the layers, then multiplexes. Pre-mux layers cannot
// read r.Pattern themselves: a later layer may swap the request, in
// which case the original's Pattern stays empty. The slot is filled
// once the routed handler returns; handling is sequential, so the
// write does not race the readers.
func (mux *MiddlewareMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matched := new(string)
	r = r.WithContext(ContextWithPattern(r.Context(), matched))

	mux.middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeMux.ServeHTTP(w, r)
		*matched = r.Pattern
	})).ServeHTTP(w, r)
}
