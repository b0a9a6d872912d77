// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it against the API key store, and stores the
// resolved key in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	APIKeyAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► validator.Validate(ctx, token)
//	   │
//	   └─► Store APIKey in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAPIKey)
//
// When authentication is disabled in configuration, every request
// passes through with no key attached. This keeps local development
// friction-free while production deployments gate all traffic.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// apiKeyContextKey is the context key for the validated API key.
// A typed key string prevents collisions with other context values.
const apiKeyContextKey = "stellarserve_api_key"

// KeyValidator checks a presented API key value and returns the key
// record when it is valid and active.
type KeyValidator interface {
	Validate(ctx context.Context, value string) (*datatypes.APIKey, error)
}

// SetAPIKey stores the validated API key in the Gin context.
func SetAPIKey(c *gin.Context, key *datatypes.APIKey) {
	c.Set(apiKeyContextKey, key)
}

// GetAPIKey retrieves the validated API key from the Gin context, or
// nil when the request was not authenticated (auth disabled).
func GetAPIKey(c *gin.Context) *datatypes.APIKey {
	if v, exists := c.Get(apiKeyContextKey); exists {
		if key, ok := v.(*datatypes.APIKey); ok {
			return key
		}
	}
	return nil
}

// APIKeyAuth creates a Gin middleware that authenticates requests with
// bearer API keys.
//
// # Description
//
// Extracts the bearer token from the Authorization header and checks
// it against the key store. Missing, unknown, and revoked keys all
// yield the same 401 body so callers cannot probe which keys exist.
// When enabled is false the middleware is a passthrough.
func APIKeyAuth(validator KeyValidator, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.NewErrorResponse(
				"invalid_request_error",
				"You didn't provide an API key. Pass it in the Authorization header as 'Bearer <key>'."))
			return
		}

		key, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.NewErrorResponse(
				"invalid_request_error", "Incorrect API key provided."))
			return
		}

		SetAPIKey(c, key)
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
// The "Bearer" prefix is case-insensitive per RFC 7235. Returns an
// empty string if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
