// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChunkWriter defines the contract for writing OpenAI-style completion
// chunks as Server-Sent Events.
//
// # Description
//
// ChunkWriter abstracts chunk serialization and SSE framing, enabling
// testability and separation from HTTP response mechanics. Each chunk
// is written as a `data: {json}\n\n` block, matching the OpenAI
// streaming wire format. Unlike general SSE there is no `event:` line;
// OpenAI clients dispatch purely on the data payload.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type ChunkWriter interface {
	// WriteRole writes the opening chunk carrying the assistant role
	// and no content. Sent exactly once, before any content chunks.
	WriteRole() error

	// WriteContent writes a chunk carrying one content fragment.
	WriteContent(fragment string) error

	// WriteFinish writes the closing chunk with an empty delta and the
	// given finish reason ("stop", "length").
	WriteFinish(reason string) error

	// WriteErrorEvent writes an OpenAI error body as an SSE data block.
	// Used for failures after streaming has begun, when the 200 status
	// is already committed.
	WriteErrorEvent(errType, message string) error

	// WriteDone writes the terminal `data: [DONE]` sentinel. No chunks
	// may be written after this.
	WriteDone() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// chunkWriter implements ChunkWriter over an http.ResponseWriter.
//
// Thread-safe via mutex. Each chunk is flushed immediately so tokens
// reach the client as they are generated, not when the response ends.
type chunkWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	id      string
	created int64
	model   string
	mu      sync.Mutex
}

// NewChunkWriter creates a ChunkWriter emitting chunks with the given
// completion id, creation timestamp, and model id.
//
// Returns an error if the ResponseWriter does not support http.Flusher.
func NewChunkWriter(w http.ResponseWriter, id string, created int64, model string) (ChunkWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &chunkWriter{
		writer:  w,
		flusher: flusher,
		id:      id,
		created: created,
		model:   model,
	}, nil
}

// Compile-time interface check.
var _ ChunkWriter = (*chunkWriter)(nil)

// =============================================================================
// Methods
// =============================================================================

func (w *chunkWriter) WriteRole() error {
	role := datatypes.RoleAssistant
	return w.writeChunk(datatypes.ChunkDelta{Role: role}, nil)
}

func (w *chunkWriter) WriteContent(fragment string) error {
	return w.writeChunk(datatypes.ChunkDelta{Content: fragment}, nil)
}

func (w *chunkWriter) WriteFinish(reason string) error {
	return w.writeChunk(datatypes.ChunkDelta{}, &reason)
}

func (w *chunkWriter) WriteErrorEvent(errType, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	body := datatypes.NewErrorResponse(errType, message)
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write error event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *chunkWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done sentinel: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *chunkWriter) writeChunk(delta datatypes.ChunkDelta, finishReason *string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	chunk := datatypes.ChatCompletionChunk{
		ID:      w.id,
		Object:  "chat.completion.chunk",
		Created: w.created,
		Model:   w.model,
		Choices: []datatypes.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers required for SSE streaming.
//
// Must be called before the first write. X-Accel-Buffering disables
// proxy buffering in Nginx so tokens are not held back.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
