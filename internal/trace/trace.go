// Package trace adds golang.org/x/net/trace annotations to a context's
// in-flight trace event, when one is present.
//
// Grounded on dwarri-gazette's consumer/service.go addTrace helper, which
// this package generalizes to an exported name. No other package in this
// repository imports it.
package trace

import (
	"context"

	"golang.org/x/net/trace"
)

// Add annotates ctx's trace event (if any) with a lazily-formatted message.
func Add(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}

// NewSpan starts a new trace.Trace of the given family/title and attaches it
// to the returned context, for use where Add's caller wants its own span
// rather than relying on one already present higher up the call stack.
func NewSpan(ctx context.Context, family, title string) (context.Context, *traceHandle) {
	var tr = trace.New(family, title)
	return trace.NewContext(ctx, tr), &traceHandle{tr: tr}
}

// traceHandle wraps a trace.Trace so callers can Finish it without importing
// golang.org/x/net/trace themselves.
type traceHandle struct{ tr trace.Trace }

// Finish ends the span.
func (h *traceHandle) Finish() { h.tr.Finish() }

// SetError marks the span as having observed an error, matching
// trace.Trace.SetError's use in request-handling code that wants failed
// spans to stand out in the /debug/requests view.
func (h *traceHandle) SetError() { h.tr.SetError() }
