// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellarbyte/stellarserve/services/gateway/handlers"
	"github.com/stellarbyte/stellarserve/services/gateway/middleware"
)

// Handlers bundles the handler set wired into the router.
type Handlers struct {
	Chat     *handlers.ChatHandler
	Sessions *handlers.SessionHandler
	APIKeys  *handlers.APIKeyHandler
	Models   *handlers.ModelHandler
}

// Options controls cross-cutting route behavior.
type Options struct {
	// Version is reported by the health endpoint.
	Version string

	// KeyValidator gates the /v1 group when AuthEnabled is set.
	KeyValidator middleware.KeyValidator
	AuthEnabled  bool

	// RateLimiter throttles the /v1 group; nil disables throttling.
	RateLimiter *middleware.RateLimiter
}

// SetupRoutes registers all gateway routes.
//
// /health and /metrics are unauthenticated; everything under /v1 goes
// through API key auth and rate limiting.
func SetupRoutes(router *gin.Engine, h Handlers, opts Options) {
	router.GET("/health", handlers.HandleHealth(opts.Version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(opts.KeyValidator, opts.AuthEnabled))
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Middleware())
	}
	{
		v1.POST("/chat/completions", h.Chat.HandleChatCompletions)
		v1.GET("/chat/ws", h.Chat.HandleChatWebSocket)

		v1.GET("/models", h.Models.HandleListModels)
		v1.GET("/models/:id", h.Models.HandleGetModel)

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.Sessions.HandleCreateSession)
			sessions.GET("", h.Sessions.HandleListSessions)
			sessions.GET("/:id", h.Sessions.HandleGetSession)
			sessions.GET("/:id/history", h.Sessions.HandleGetHistory)
			sessions.GET("/:id/messages", h.Sessions.HandleGetMessages)
			sessions.PATCH("/:id", h.Sessions.HandleRenameSession)
			sessions.DELETE("/:id", h.Sessions.HandleDeleteSession)
		}

		// API key administration routes
		keys := v1.Group("/keys")
		{
			keys.POST("", h.APIKeys.HandleCreateKey)
			keys.GET("", h.APIKeys.HandleListKeys)
			keys.POST("/:id/activate", h.APIKeys.HandleActivateKey)
			keys.POST("/:id/deactivate", h.APIKeys.HandleDeactivateKey)
			keys.DELETE("/:id", h.APIKeys.HandleRevokeKey)
		}
	}
}
