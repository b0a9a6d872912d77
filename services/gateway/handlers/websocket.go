// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
	"github.com/stellarbyte/stellarserve/services/gateway/observability"
	"github.com/stellarbyte/stellarserve/services/llm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

func sendEvent(ws *websocket.Conn, event datatypes.WSEvent) error {
	err := ws.WriteJSON(event)
	if err != nil {
		slog.Warn("failed to write websocket event", "event", event.Event, "error", err)
	}
	return err
}

// HandleChatWebSocket handles GET /v1/chat/ws.
//
// Each connection is bound to one session. The session id comes from
// the session_id query parameter, or a fresh UUID when absent, and is
// announced once via a session_start event. Every inbound chat.message
// frame runs one streamed completion against the session's history and
// emits the content block lifecycle:
//
//	content_block_start, content_block_delta*, content_block_stop,
//	message_delta, message_stop
//
// Generation failures produce an error event; the connection stays
// open for further turns.
func (h *ChatHandler) HandleChatWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	h.logger.Info("websocket session started", "session_id", sessionID)

	if err := sendEvent(ws, datatypes.NewSessionStartEvent(sessionID)); err != nil {
		return
	}

	for {
		var msg datatypes.ChatWSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				websocket.IsUnexpectedCloseError(err) {
				h.logger.Info("websocket client disconnected", "session_id", sessionID)
				return
			}
			// Undecodable frame. Report it and keep the connection.
			h.logger.Warn("undecodable websocket frame", "session_id", sessionID, "error", err)
			if serr := sendEvent(ws, datatypes.NewErrorEvent(
				errTypeInvalidRequest, "malformed frame: expected JSON")); serr != nil {
				return
			}
			continue
		}

		if msg.Type != datatypes.WSMessageTypeChat {
			h.logger.Debug("ignoring websocket frame", "type", msg.Type, "session_id", sessionID)
			continue
		}
		if msg.Content == "" {
			if serr := sendEvent(ws, datatypes.NewErrorEvent(
				errTypeInvalidRequest, "content must not be empty")); serr != nil {
				return
			}
			continue
		}

		if !h.streamTurn(c.Request.Context(), ws, sessionID, msg.Content) {
			return
		}
	}
}

// streamTurn runs one completion over the websocket. Returns false
// when the connection is no longer usable.
func (h *ChatHandler) streamTurn(ctx context.Context, ws *websocket.Conn, sessionID, content string) bool {
	endpoint := string(observability.EndpointChatWS)
	start := time.Now()

	incoming := []datatypes.Message{{
		Role:    datatypes.RoleUser,
		Content: datatypes.TextContent(content),
	}}
	messages := h.resolver.Resolve(ctx, sessionID, incoming)

	stream, err := h.orchestrator.StartStream(ctx, messages, llm.GenerationParams{})
	if err != nil {
		h.logger.Error("failed to start websocket completion", "error", err, "session_id", sessionID)
		h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		h.metrics.ErrorsTotal.WithLabelValues(endpoint, string(observability.ErrorCodeLLMError)).Inc()
		return sendEvent(ws, datatypes.NewErrorEvent(errTypeServer, "model backend unavailable")) == nil
	}
	defer stream.Close()

	h.metrics.ActiveStreams.WithLabelValues(endpoint).Inc()
	defer h.metrics.ActiveStreams.WithLabelValues(endpoint).Dec()

	if sendEvent(ws, datatypes.NewContentBlockStartEvent()) != nil {
		return false
	}

	firstToken := true
	for {
		fragment, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			h.logger.Error("websocket completion failed mid-flight",
				"error", recvErr, "session_id", sessionID, "fragments", stream.Fragments())
			h.metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			h.metrics.ErrorsTotal.WithLabelValues(endpoint, string(observability.ErrorCodeLLMError)).Inc()
			return sendEvent(ws, datatypes.NewErrorEvent(errTypeServer, "generation failed")) == nil
		}

		if firstToken {
			h.metrics.TimeToFirstTokenSeconds.WithLabelValues(endpoint).
				Observe(time.Since(start).Seconds())
			firstToken = false
		}
		if sendEvent(ws, datatypes.NewContentBlockDeltaEvent(fragment)) != nil {
			h.metrics.ClientDisconnectsTotal.WithLabelValues(endpoint).Inc()
			return false
		}
	}

	usage := stream.Usage()
	if sendEvent(ws, datatypes.NewContentBlockStopEvent()) != nil {
		return false
	}
	// output_tokens reports the number of delta events emitted this turn.
	if sendEvent(ws, datatypes.NewMessageDeltaEvent("end_turn", stream.Fragments())) != nil {
		return false
	}
	if sendEvent(ws, datatypes.NewMessageStopEvent()) != nil {
		return false
	}

	h.recordUsage(usage)
	h.metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	h.metrics.StreamDurationSeconds.WithLabelValues(endpoint, "success").
		Observe(time.Since(start).Seconds())

	h.persistExchange(ctx, sessionID, incoming, stream.Text(), usage)
	return true
}
