// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
	"github.com/stellarbyte/stellarserve/services/gateway/store"
)

// SessionHandler serves session CRUD and history endpoints.
type SessionHandler struct {
	sessions *store.SessionStore
	turns    *store.TurnStore
	logger   *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *store.SessionStore, turns *store.TurnStore, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{sessions: sessions, turns: turns, logger: logger}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type renameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

// HandleCreateSession handles POST /v1/sessions.
func (h *SessionHandler) HandleCreateSession(c *gin.Context) {
	var req createSessionRequest
	// An empty body is fine; anything else must be well-formed JSON.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// HandleListSessions handles GET /v1/sessions.
//
// Query parameters: skip (default 0), limit (default 100) and
// active_only (default true).
func (h *SessionHandler) HandleListSessions(c *gin.Context) {
	opts := store.ListOptions{
		ActiveOnly: queryBool(c, "active_only", true),
		Offset:     queryInt(c, "skip", 0),
		Limit:      queryInt(c, "limit", 100),
	}

	sessions, err := h.sessions.List(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []*datatypes.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// queryInt reads an integer query parameter, falling back on absent or
// unparsable values.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryBool(c *gin.Context, name string, fallback bool) bool {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// HandleGetSession handles GET /v1/sessions/:id.
func (h *SessionHandler) HandleGetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("failed to get session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// HandleGetHistory handles GET /v1/sessions/:id/history.
//
// Returns the session's turns in append order. An existing session
// with no turns yields an empty list.
func (h *SessionHandler) HandleGetHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("failed to get session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}

	turns, err := h.turns.List(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to list turns", "error", err, "session_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if turns == nil {
		turns = []*datatypes.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": turns})
}

// HandleGetMessages handles GET /v1/sessions/:id/messages.
//
// Returns a page of the session's turns in append order. Query
// parameters: skip (default 0) and limit (default 100).
func (h *SessionHandler) HandleGetMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("failed to get session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}

	turns, err := h.turns.ListRange(c.Request.Context(), id,
		queryInt(c, "skip", 0), queryInt(c, "limit", 100))
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "session_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if turns == nil {
		turns = []*datatypes.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": turns})
}

// HandleRenameSession handles PATCH /v1/sessions/:id.
func (h *SessionHandler) HandleRenameSession(c *gin.Context) {
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	sess, err := h.sessions.UpdateTitle(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("failed to rename session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession handles DELETE /v1/sessions/:id. Deletes the
// session and all of its turns.
func (h *SessionHandler) HandleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("failed to delete session", "error", err, "session_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
}
