// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
)

// APIKeyHandler serves API key administration endpoints. These sit
// behind the same auth middleware as the rest of the API, so an
// existing valid key is required to mint new ones.
type APIKeyHandler struct {
	keys   *store.APIKeyStore
	logger *slog.Logger
}

// NewAPIKeyHandler creates an API key handler.
func NewAPIKeyHandler(keys *store.APIKeyStore, logger *slog.Logger) *APIKeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyHandler{keys: keys, logger: logger}
}

type createAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// HandleCreateKey handles POST /v1/keys. The key value appears only
// in this response.
func (h *APIKeyHandler) HandleCreateKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	key, err := h.keys.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create api key"})
		return
	}
	h.logger.Info("api key created", "key_id", key.ID, "name", key.Name)
	c.JSON(http.StatusCreated, key)
}

// HandleListKeys handles GET /v1/keys. Key values are redacted.
func (h *APIKeyHandler) HandleListKeys(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list api keys"})
		return
	}
	if keys == nil {
		keys = []*datatypes.APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// HandleActivateKey handles POST /v1/keys/:id/activate.
func (h *APIKeyHandler) HandleActivateKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.keys.Activate(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		h.logger.Error("failed to activate api key", "error", err, "key_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate api key"})
		return
	}
	h.logger.Info("api key activated", "key_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "success", "key_id": id})
}

// HandleDeactivateKey handles POST /v1/keys/:id/deactivate. The key
// stops validating but the record remains.
func (h *APIKeyHandler) HandleDeactivateKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.keys.Deactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		h.logger.Error("failed to deactivate api key", "error", err, "key_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate api key"})
		return
	}
	h.logger.Info("api key deactivated", "key_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "success", "key_id": id})
}

// HandleRevokeKey handles DELETE /v1/keys/:id. Revocation deactivates
// the key; the record is kept for auditing.
func (h *APIKeyHandler) HandleRevokeKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.keys.Deactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		h.logger.Error("failed to revoke api key", "error", err, "key_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke api key"})
		return
	}
	h.logger.Info("api key revoked", "key_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "success", "revoked_key_id": id})
}
