// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// ModelHandler serves the OpenAI-compatible model listing. The gateway
// fronts a single local model, so the list always has one entry.
type ModelHandler struct {
	modelID string
	created int64
	owner   string
}

// NewModelHandler creates a model handler for the configured model.
func NewModelHandler(modelID string, created int64, owner string) *ModelHandler {
	if owner == "" {
		owner = "stellarbyte"
	}
	return &ModelHandler{modelID: modelID, created: created, owner: owner}
}

// HandleListModels handles GET /v1/models.
func (h *ModelHandler) HandleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.ModelList{
		Object: "list",
		Data: []datatypes.ModelInfo{{
			ID:      h.modelID,
			Object:  "model",
			Created: h.created,
			OwnedBy: h.owner,
		}},
	})
}

// HandleGetModel handles GET /v1/models/:id.
func (h *ModelHandler) HandleGetModel(c *gin.Context) {
	id := c.Param("id")
	if id != h.modelID {
		c.JSON(http.StatusNotFound, datatypes.NewErrorResponse(
			errTypeInvalidRequest,
			"The model '"+id+"' does not exist or you do not have access to it."))
		return
	}
	c.JSON(http.StatusOK, datatypes.ModelInfo{
		ID:      h.modelID,
		Object:  "model",
		Created: h.created,
		OwnedBy: h.owner,
	})
}
