package tenant

import (
	"context"
	"errors"
)

// Key for tenant values in context
type contextKey string

const (
	workspaceIDKey contextKey = "workspaceID"
	requestIDKey   contextKey = "requestID"
	callIDKey      contextKey = "callID"
)

// ErrWorkspaceIDNotFound is returned when no workspace ID is found in context
var ErrWorkspaceIDNotFound = errors.New("workspace ID not found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// ErrNoCallIDInContext is returned when no external call ID is found in context
var ErrNoCallIDInContext = errors.New("no call ID found in context")

// WithWorkspaceID adds the resolved workspace ID to the context
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// FromContext extracts the workspace ID from the context
func FromContext(ctx context.Context) (string, error) {
	workspaceID, ok := ctx.Value(workspaceIDKey).(string)
	if !ok || workspaceID == "" {
		return "", ErrWorkspaceIDNotFound
	}
	return workspaceID, nil
}

// WorkspaceOrUnknown returns the workspace ID or "unknown" for metric labels.
func WorkspaceOrUnknown(ctx context.Context) string {
	workspaceID, err := FromContext(ctx)
	if err != nil {
		return "unknown"
	}
	return workspaceID
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithCallID adds the external call ID being processed to the context
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// FromCallIDContext extracts the external call ID from the context
func FromCallIDContext(ctx context.Context) (string, error) {
	callID, ok := ctx.Value(callIDKey).(string)
	if !ok || callID == "" {
		return "", ErrNoCallIDInContext
	}
	return callID, nil
}
