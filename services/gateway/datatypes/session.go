// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Session is one persisted conversation. The gateway only mutates
// UpdatedAt, indirectly, when a turn is appended.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one persisted message belonging to a session. Turns are
// immutable once written and are removed only by session deletion.
// Seq is a per-session monotonic sequence that fixes creation order
// even when two turns share a timestamp.
type Turn struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Seq       uint64            `json:"seq"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Tokens    int               `json:"tokens"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Message converts a persisted turn back to its wire form.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: TextContent(t.Content)}
}

// APIKey gates access to the HTTP and websocket surfaces. The Key
// field is only populated on creation; list/get responses omit it.
type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
