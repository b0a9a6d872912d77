// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarbyte/stellarserve/services/gateway/completion"
	"github.com/stellarbyte/stellarserve/services/gateway/conversation"
	"github.com/stellarbyte/stellarserve/services/gateway/handlers"
	"github.com/stellarbyte/stellarserve/services/gateway/middleware"
	"github.com/stellarbyte/stellarserve/services/gateway/observability"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
	"github.com/stellarbyte/stellarserve/services/llm"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockLLMClient is a minimal mock for llm.LLMClient
type mockLLMClient struct{}

func (m *mockLLMClient) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "mock response", nil
}

func (m *mockLLMClient) GenerateStream(_ context.Context, _ string, _ llm.GenerationParams) (llm.TokenStream, error) {
	return llm.NewSliceStream([]string{"mock stream"}), nil
}

func newRouter(t *testing.T, opts Options) (*gin.Engine, *store.APIKeyStore) {
	t.Helper()

	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := store.NewSessionStore(db)
	turns := store.NewTurnStore(db)
	keys := store.NewAPIKeyStore(db)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	orchestrator := completion.NewOrchestrator(&mockLLMClient{}, nil)
	resolver := conversation.NewResolver(turns, nil)

	h := Handlers{
		Chat:     handlers.NewChatHandler(orchestrator, resolver, sessions, turns, metrics, "stellar-byte-llm", nil),
		Sessions: handlers.NewSessionHandler(sessions, turns, nil),
		APIKeys:  handlers.NewAPIKeyHandler(keys, nil),
		Models:   handlers.NewModelHandler("stellar-byte-llm", 1735689600, ""),
	}
	if opts.KeyValidator == nil {
		opts.KeyValidator = keys
	}

	router := gin.New()
	SetupRoutes(router, h, opts)
	return router, keys
}

func get(router *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_HealthAndMetricsOpen(t *testing.T) {
	router, _ := newRouter(t, Options{Version: "test"})

	assert.Equal(t, http.StatusOK, get(router, "/health", "").Code)
	assert.Equal(t, http.StatusOK, get(router, "/metrics", "").Code)
}

func TestSetupRoutes_CoreEndpointsRegistered(t *testing.T) {
	router, _ := newRouter(t, Options{})

	// A registered route must not 404; these return method-appropriate
	// statuses instead.
	assert.NotEqual(t, http.StatusNotFound, get(router, "/v1/models", "").Code)
	assert.NotEqual(t, http.StatusNotFound, get(router, "/v1/sessions", "").Code)
	assert.NotEqual(t, http.StatusNotFound, get(router, "/v1/keys", "").Code)
}

func TestSetupRoutes_AuthGatesV1(t *testing.T) {
	router, keys := newRouter(t, Options{AuthEnabled: true})

	// No key: denied.
	assert.Equal(t, http.StatusUnauthorized, get(router, "/v1/models", "").Code)
	// Health stays open.
	assert.Equal(t, http.StatusOK, get(router, "/health", "").Code)

	created, err := keys.Create(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(router, "/v1/models", "Bearer "+created.Key).Code)
}

func TestSetupRoutes_RateLimiterApplied(t *testing.T) {
	router, _ := newRouter(t, Options{
		RateLimiter: middleware.NewRateLimiter(1, 1),
	})

	first := get(router, "/v1/models", "").Code
	second := get(router, "/v1/models", "").Code
	assert.Equal(t, http.StatusOK, first)
	assert.Equal(t, http.StatusTooManyRequests, second)
}
