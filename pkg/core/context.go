// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type batchIDKey struct{}
type invocationIDKey struct{}
type toolNameKey struct{}

// WithBatchID attaches a batch id to the context.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchID returns the batch id if present.
func BatchID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(batchIDKey{}).(string)
	return id, ok
}

// WithInvocationID attaches an invocation id to the context.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationID returns the invocation id if present.
func InvocationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationIDKey{}).(string)
	return id, ok
}

// WithToolName attaches the executing tool's name to the context.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

// ToolName returns the executing tool's name if present.
func ToolName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(toolNameKey{}).(string)
	return name, ok
}

// NewBatchID generates a batch identifier.
func NewBatchID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "batch-unknown"
	}
	return "batch-" + hex.EncodeToString(buf)
}
