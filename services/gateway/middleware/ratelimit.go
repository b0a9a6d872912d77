// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// RateLimiter applies a token-bucket rate limit per caller. Callers
// are keyed by API key id when authenticated, otherwise by client IP.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter allowing rps requests per
// second with the given burst per caller.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[key] = limiter
	}
	return limiter
}

// Middleware returns the Gin middleware enforcing the limit. Requests
// over the limit receive 429 with an OpenAI-style error body.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerKey := c.ClientIP()
		if key := GetAPIKey(c); key != nil {
			callerKey = key.ID
		}

		if !r.limiterFor(callerKey).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.NewErrorResponse(
				"rate_limit_error", "Rate limit reached. Please slow down your requests."))
			return
		}
		c.Next()
	}
}
