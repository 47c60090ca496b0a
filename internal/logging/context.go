// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	connectionKey contextKey = "connection_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateConnectionID returns a short identifier for a websocket connection.
// Only the first 8 characters of a UUID are kept; it is a log correlation aid, not a key.
func GenerateConnectionID() string {
	return uuid.New().String()[:8]
}

// ContextWithRequestID returns a copy of ctx carrying the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "" if none is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithConnectionID returns a copy of ctx carrying a websocket connection ID.
func ContextWithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionKey, id)
}

// ConnectionIDFromContext returns the connection ID, or "" if none is set.
func ConnectionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(connectionKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger enriched with the request and connection IDs found in ctx.
//
//	logging.Ctx(ctx).Info().Msg("Observer attached")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("request_id", id)
	}
	if id := ConnectionIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("connection_id", id)
	}
	l := logCtx.Logger()
	return &l
}

// WithComponent creates a child logger with a component field.
//
//	log := logging.WithComponent("checkpointer")
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
