// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/stellarbyte/stellarserve/services/gateway/completion"
	"github.com/stellarbyte/stellarserve/services/gateway/conversation"
	"github.com/stellarbyte/stellarserve/services/gateway/observability"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
	"github.com/stellarbyte/stellarserve/services/llm"
)

const testModelID = "stellar-byte-llm"

func init() {
	gin.SetMode(gin.TestMode)
}

// streamingMockLLM simulates a model backend for handler tests. It
// emits the configured fragments, then either finishes cleanly or
// fails mid-stream.
type streamingMockLLM struct {
	fragments []string
	failAfter int // fragments emitted before a stream error; -1 disables
	startErr  error
}

func (m *streamingMockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	return strings.Join(m.fragments, ""), nil
}

func (m *streamingMockLLM) GenerateStream(ctx context.Context, prompt string, params llm.GenerationParams) (llm.TokenStream, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.failAfter >= 0 {
		return &failingStream{fragments: m.fragments, failAfter: m.failAfter}, nil
	}
	return llm.NewSliceStream(m.fragments), nil
}

type failingStream struct {
	fragments []string
	failAfter int
	pos       int
}

func (s *failingStream) Recv() (string, error) {
	if s.pos >= s.failAfter {
		return "", errors.New("backend connection lost")
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	fragment := s.fragments[s.pos]
	s.pos++
	return fragment, nil
}

func (s *failingStream) Close() error { return nil }

// testEnv bundles everything a handler test needs.
type testEnv struct {
	router   *gin.Engine
	chat     *ChatHandler
	sessions *store.SessionStore
	turns    *store.TurnStore
	keys     *store.APIKeyStore
}

func newTestEnv(t *testing.T, client llm.LLMClient) *testEnv {
	t.Helper()

	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := store.NewSessionStore(db)
	turns := store.NewTurnStore(db)
	keys := store.NewAPIKeyStore(db)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	orchestrator := completion.NewOrchestrator(client, nil)
	resolver := conversation.NewResolver(turns, nil)
	chat := NewChatHandler(orchestrator, resolver, sessions, turns, metrics, testModelID, nil)

	router := gin.New()
	router.POST("/v1/chat/completions", chat.HandleChatCompletions)
	router.GET("/v1/chat/ws", chat.HandleChatWebSocket)

	sessionHandler := NewSessionHandler(sessions, turns, nil)
	router.POST("/v1/sessions", sessionHandler.HandleCreateSession)
	router.GET("/v1/sessions", sessionHandler.HandleListSessions)
	router.GET("/v1/sessions/:id", sessionHandler.HandleGetSession)
	router.GET("/v1/sessions/:id/history", sessionHandler.HandleGetHistory)
	router.GET("/v1/sessions/:id/messages", sessionHandler.HandleGetMessages)
	router.PATCH("/v1/sessions/:id", sessionHandler.HandleRenameSession)
	router.DELETE("/v1/sessions/:id", sessionHandler.HandleDeleteSession)

	keyHandler := NewAPIKeyHandler(keys, nil)
	router.POST("/v1/keys", keyHandler.HandleCreateKey)
	router.GET("/v1/keys", keyHandler.HandleListKeys)
	router.POST("/v1/keys/:id/activate", keyHandler.HandleActivateKey)
	router.POST("/v1/keys/:id/deactivate", keyHandler.HandleDeactivateKey)
	router.DELETE("/v1/keys/:id", keyHandler.HandleRevokeKey)

	modelHandler := NewModelHandler(testModelID, 1735689600, "stellarbyte")
	router.GET("/v1/models", modelHandler.HandleListModels)
	router.GET("/v1/models/:id", modelHandler.HandleGetModel)

	return &testEnv{
		router:   router,
		chat:     chat,
		sessions: sessions,
		turns:    turns,
		keys:     keys,
	}
}

// parseSSEData extracts the payload of every `data:` line in an SSE
// body, in order.
func parseSSEData(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}
