// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	key *datatypes.APIKey
	err error
}

func (s *stubValidator) Validate(ctx context.Context, value string) (*datatypes.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

func authRouter(validator KeyValidator, enabled bool) *gin.Engine {
	router := gin.New()
	router.Use(APIKeyAuth(validator, enabled))
	router.GET("/probe", func(c *gin.Context) {
		key := GetAPIKey(c)
		if key == nil {
			c.JSON(http.StatusOK, gin.H{"key_id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"key_id": key.ID})
	})
	return router
}

func probe(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	router := authRouter(&stubValidator{key: &datatypes.APIKey{ID: "key-1"}}, true)

	w := probe(router, "Bearer sb-good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "key-1")
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	router := authRouter(&stubValidator{key: &datatypes.APIKey{ID: "key-1"}}, true)

	w := probe(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

func TestAPIKeyAuth_UnknownKey(t *testing.T) {
	router := authRouter(&stubValidator{err: errors.New("not found")}, true)

	w := probe(router, "Bearer sb-bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	router := authRouter(&stubValidator{err: errors.New("should not be called")}, false)

	w := probe(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_CaseInsensitiveBearer(t *testing.T) {
	router := authRouter(&stubValidator{key: &datatypes.APIKey{ID: "key-1"}}, true)

	w := probe(router, "bearer sb-good")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_MalformedHeader(t *testing.T) {
	router := authRouter(&stubValidator{key: &datatypes.APIKey{ID: "key-1"}}, true)

	w := probe(router, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter_Allows(t *testing.T) {
	limiter := NewRateLimiter(100, 10)
	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/probe", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := probe(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Throttles(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/probe", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, probe(router, "").Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}
