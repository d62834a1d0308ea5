// Package cid carries request correlation ids through contexts and headers.
package cid

import (
	"context"

	"github.com/segmentio/ksuid"
)

type contextKey struct{}

// HeaderName carries the correlation id. Incoming values are preserved.
const HeaderName = "X-Relay-CID"

// AttributeName is the span attribute holding the correlation id.
const AttributeName = "relay.cid"

// New returns a fresh, time-sortable correlation id.
func New() string {
	return ksuid.New().String()
}

func WithCID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the correlation id, or "" when none is set.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}
