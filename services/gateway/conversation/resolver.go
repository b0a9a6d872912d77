// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation assembles the message context for a completion.
//
// # Description
//
// This package resolves the full conversational context passed to the
// language model: stored history from earlier turns in the session,
// followed by the messages supplied in the current request. Requests
// without a session id skip history entirely and run stateless.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package conversation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

var tracer = otel.Tracer("stellarserve.gateway.conversation")

// HistoryProvider supplies the stored messages of a session in append
// order.
type HistoryProvider interface {
	Messages(ctx context.Context, sessionID string) ([]datatypes.Message, error)
}

// Resolver builds the ordered message context for a completion.
//
// # Description
//
// Resolver prepends a session's stored history to the incoming request
// messages. History retrieval failures degrade gracefully: the resolver
// logs a warning and continues with the request messages alone, so a
// storage hiccup never blocks a completion.
type Resolver struct {
	history HistoryProvider
	logger  *slog.Logger
}

// NewResolver creates a resolver backed by the given history provider.
// A nil logger falls back to slog.Default().
func NewResolver(history HistoryProvider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{history: history, logger: logger}
}

// Resolve returns the message context for a request: stored history
// first, then the incoming messages, both in their original order.
//
// An empty sessionID yields the incoming messages unchanged. Unknown
// sessions resolve to empty history rather than an error.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, incoming []datatypes.Message) []datatypes.Message {
	ctx, span := tracer.Start(ctx, "conversation.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("request.messages", len(incoming)),
	)

	if sessionID == "" {
		return incoming
	}

	history, err := r.history.Messages(ctx, sessionID)
	if err != nil {
		r.logger.Warn("history retrieval failed, continuing without it",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return incoming
	}
	span.SetAttributes(attribute.Int("history.messages", len(history)))

	if len(history) == 0 {
		return incoming
	}

	resolved := make([]datatypes.Message, 0, len(history)+len(incoming))
	resolved = append(resolved, history...)
	resolved = append(resolved, incoming...)
	return resolved
}
