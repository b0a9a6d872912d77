// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's HTTP and WebSocket
// surfaces: the OpenAI-compatible chat completion endpoints, session
// CRUD, API key administration, and model listing.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarbyte/stellarserve/services/gateway/completion"
	"github.com/stellarbyte/stellarserve/services/gateway/conversation"
	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
	"github.com/stellarbyte/stellarserve/services/gateway/observability"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
	"github.com/stellarbyte/stellarserve/services/llm"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeServer         = "server_error"

	finishReasonStop = "stop"
)

// ChatHandler serves the OpenAI-compatible completion endpoints.
//
// # Description
//
// ChatHandler binds and validates completion requests, resolves the
// session context, runs the completion core, and frames the result for
// the requested transport (atomic JSON or SSE chunks). Both paths
// share the same validation and persistence logic.
//
// # Thread Safety
//
// Safe for concurrent use; all mutable state lives in the stores.
type ChatHandler struct {
	orchestrator *completion.Orchestrator
	resolver     *conversation.Resolver
	sessions     *store.SessionStore
	turns        *store.TurnStore
	metrics      *observability.Metrics
	modelID      string
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewChatHandler creates a chat handler serving the given model id.
func NewChatHandler(
	orchestrator *completion.Orchestrator,
	resolver *conversation.Resolver,
	sessions *store.SessionStore,
	turns *store.TurnStore,
	metrics *observability.Metrics,
	modelID string,
	logger *slog.Logger,
) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		resolver:     resolver,
		sessions:     sessions,
		turns:        turns,
		metrics:      metrics,
		modelID:      modelID,
		logger:       logger,
		tracer:       otel.Tracer("stellarserve.gateway.handlers.chat"),
	}
}

// HandleChatCompletions handles POST /v1/chat/completions.
//
// The stream flag in the request body selects between a single JSON
// response and SSE chunk streaming. An optional session_id query
// parameter attaches the exchange to a stored session.
func (h *ChatHandler) HandleChatCompletions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatCompletions")
	defer span.End()

	var req datatypes.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("failed to parse chat completion request", "error", err)
		span.SetStatus(codes.Error, "bind failed")
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(
			errTypeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.Warn("chat completion request failed validation", "error", err)
		span.SetStatus(codes.Error, "validation failed")
		h.metrics.ErrorsTotal.WithLabelValues(
			string(observability.EndpointChatCompletions),
			string(observability.ErrorCodeValidation)).Inc()
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(
			errTypeInvalidRequest, err.Error()))
		return
	}

	if req.Model != h.modelID {
		h.metrics.ErrorsTotal.WithLabelValues(
			string(observability.EndpointChatCompletions),
			string(observability.ErrorCodeModelNotFound)).Inc()
		c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(
			errTypeInvalidRequest,
			"The model '"+req.Model+"' does not exist or you do not have access to it."))
		return
	}

	sessionID := c.Query("session_id")
	span.SetAttributes(
		attribute.String("model", req.Model),
		attribute.Bool("stream", req.Stream),
		attribute.String("session.id", sessionID),
	)

	messages := h.resolver.Resolve(ctx, sessionID, req.Messages)
	params := generationParams(&req)

	if req.Stream {
		h.streamCompletion(c, ctx, &req, messages, params, sessionID)
		return
	}
	h.atomicCompletion(c, ctx, &req, messages, params, sessionID)
}

func (h *ChatHandler) atomicCompletion(
	c *gin.Context,
	ctx context.Context,
	req *datatypes.ChatCompletionRequest,
	messages []datatypes.Message,
	params llm.GenerationParams,
	sessionID string,
) {
	endpoint := string(observability.EndpointChatCompletions)

	result, err := h.orchestrator.Complete(ctx, messages, params)
	if err != nil {
		h.logger.Error("completion failed", "error", err, "session_id", sessionID)
		h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		h.metrics.ErrorsTotal.WithLabelValues(endpoint, string(observability.ErrorCodeLLMError)).Inc()
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(
			errTypeServer, "model backend unavailable"))
		return
	}

	finish := finishReasonStop
	resp := datatypes.ChatCompletionResponse{
		ID:      result.ID,
		Object:  "chat.completion",
		Created: result.Created,
		Model:   h.modelID,
		Choices: []datatypes.Choice{{
			Index: 0,
			Message: datatypes.Message{
				Role:    datatypes.RoleAssistant,
				Content: datatypes.TextContent(result.Text),
			},
			FinishReason: &finish,
		}},
		Usage: result.Usage,
	}

	h.recordUsage(result.Usage)
	h.metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	h.persistExchange(ctx, sessionID, req.Messages, result.Text, result.Usage)

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) streamCompletion(
	c *gin.Context,
	ctx context.Context,
	req *datatypes.ChatCompletionRequest,
	messages []datatypes.Message,
	params llm.GenerationParams,
	sessionID string,
) {
	endpoint := string(observability.EndpointChatStream)
	start := time.Now()

	stream, err := h.orchestrator.StartStream(ctx, messages, params)
	if err != nil {
		h.logger.Error("failed to start completion stream", "error", err, "session_id", sessionID)
		h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		h.metrics.ErrorsTotal.WithLabelValues(endpoint, string(observability.ErrorCodeLLMError)).Inc()
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(
			errTypeServer, "model backend unavailable"))
		return
	}
	defer stream.Close()

	SetSSEHeaders(c.Writer)
	writer, err := NewChunkWriter(c.Writer, stream.ID, stream.Created, h.modelID)
	if err != nil {
		h.logger.Error("failed to create chunk writer", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(
			errTypeServer, "streaming not supported"))
		return
	}

	h.metrics.ActiveStreams.WithLabelValues(endpoint).Inc()
	defer h.metrics.ActiveStreams.WithLabelValues(endpoint).Dec()

	if err := writer.WriteRole(); err != nil {
		h.logger.Error("failed to write role chunk", "error", err)
		h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return
	}

	firstToken := true
	for {
		fragment, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			h.logger.Error("completion stream failed mid-flight",
				"error", recvErr, "session_id", sessionID,
				"fragments", stream.Fragments())
			h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			h.metrics.ErrorsTotal.WithLabelValues(endpoint, string(observability.ErrorCodeLLMError)).Inc()
			// Status is already committed; surface the failure in-band.
			if werr := writer.WriteErrorEvent(errTypeServer, "generation failed"); werr != nil {
				h.logger.Debug("failed to write error event", "error", werr)
			}
			_ = writer.WriteDone()
			return
		}

		if firstToken {
			h.metrics.TimeToFirstTokenSeconds.WithLabelValues(endpoint).
				Observe(time.Since(start).Seconds())
			firstToken = false
		}

		if werr := writer.WriteContent(fragment); werr != nil {
			h.logger.Warn("client disconnected during stream",
				"error", werr, "session_id", sessionID)
			h.metrics.ClientDisconnectsTotal.WithLabelValues(endpoint).Inc()
			h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return
		}
	}

	if err := writer.WriteFinish(finishReasonStop); err != nil {
		h.logger.Warn("failed to write finish chunk", "error", err)
	}
	if err := writer.WriteDone(); err != nil {
		h.logger.Warn("failed to write done sentinel", "error", err)
	}

	usage := stream.Usage()
	h.recordUsage(usage)
	h.metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	h.metrics.StreamDurationSeconds.WithLabelValues(endpoint, "success").
		Observe(time.Since(start).Seconds())

	h.persistExchange(ctx, sessionID, req.Messages, stream.Text(), usage)
}

// persistExchange stores the request's user messages and the assistant
// reply as turns. Persistence failures are logged, never surfaced; the
// client already has its completion.
func (h *ChatHandler) persistExchange(
	ctx context.Context,
	sessionID string,
	requestMessages []datatypes.Message,
	reply string,
	usage datatypes.Usage,
) {
	if sessionID == "" {
		return
	}

	if _, err := h.sessions.Ensure(ctx, sessionID); err != nil {
		h.logger.Warn("failed to ensure session, exchange not persisted",
			"session_id", sessionID, "error", err)
		return
	}

	for _, msg := range requestMessages {
		text := msg.Content.Text()
		if _, err := h.turns.Append(ctx, sessionID, msg.Role, text,
			completion.CountTokens(text), nil); err != nil {
			h.logger.Warn("failed to persist request turn",
				"session_id", sessionID, "error", err)
		}
	}
	if _, err := h.turns.Append(ctx, sessionID, datatypes.RoleAssistant, reply,
		usage.CompletionTokens, nil); err != nil {
		h.logger.Warn("failed to persist assistant turn",
			"session_id", sessionID, "error", err)
	}

	if err := h.sessions.Touch(ctx, sessionID); err != nil &&
		!errors.Is(err, store.ErrSessionNotFound) {
		h.logger.Warn("failed to touch session", "session_id", sessionID, "error", err)
	}
}

func (h *ChatHandler) recordUsage(usage datatypes.Usage) {
	h.metrics.TokensTotal.WithLabelValues("prompt", h.modelID).
		Add(float64(usage.PromptTokens))
	h.metrics.TokensTotal.WithLabelValues("completion", h.modelID).
		Add(float64(usage.CompletionTokens))
}

func generationParams(req *datatypes.ChatCompletionRequest) llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        []string(req.Stop),
	}
}
