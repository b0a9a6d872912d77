// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the gateway service.
//
// This file contains the OpenAI-compatible chat completion types.
// Session and API-key records live in session.go; websocket event
// types live in events.go.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Message roles. These are the only values accepted on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100
)

// chatValidate is the validator instance for chat datatypes.
var chatValidate = validator.New()

// ContentPart is one element of a multimodal message body. Only
// text parts contribute to the prompt; other types are carried
// through but ignored by generation.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent is the string-or-parts union of the OpenAI schema.
//
// # Description
//
// On the wire a message content is either a JSON string or an array
// of typed parts. The union is resolved once, here, so everything
// downstream works with either form through Text(). A MessageContent
// is immutable once unmarshaled.
type MessageContent struct {
	text  string
	parts []ContentPart
	multi bool
}

// TextContent builds a plain-string content.
func TextContent(s string) MessageContent {
	return MessageContent{text: s}
}

// PartsContent builds a multi-part content.
func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{parts: parts, multi: true}
}

// Text flattens the content to plain text: the string itself, or the
// concatenation of text parts in encounter order (non-text parts are
// skipped).
func (c MessageContent) Text() string {
	if !c.multi {
		return c.text
	}
	var b strings.Builder
	for _, p := range c.parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// IsEmpty reports whether the content carries no text at all.
func (c MessageContent) IsEmpty() bool {
	if !c.multi {
		return c.text == ""
	}
	return len(c.parts) == 0
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.multi {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("invalid content parts: %w", err)
		}
		*c = MessageContent{parts: parts, multi: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid content: %w", err)
	}
	*c = MessageContent{text: s}
	return nil
}

// Message is one turn of a conversation as seen on the wire.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// validate checks role and content constraints for one message.
func (m Message) validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Content.IsEmpty() {
		return fmt.Errorf("message content must not be empty")
	}
	if len(m.Content.Text()) > MaxMessageContentBytes {
		return fmt.Errorf("message content exceeds %d bytes", MaxMessageContentBytes)
	}
	return nil
}

// StopSequences is a string-or-list union for the "stop" field.
type StopSequences []string

func (s StopSequences) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("invalid stop list: %w", err)
		}
		*s = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("invalid stop value: %w", err)
	}
	*s = []string{one}
	return nil
}

// ChatCompletionRequest is the POST /v1/chat/completions body.
//
// # Fields
//
//   - Model: Required. Must name a model the gateway serves.
//   - Messages: Required. 1-100 role-tagged messages, oldest first.
//   - Temperature: Optional sampling temperature, 0-2.
//   - TopP: Optional nucleus sampling parameter, 0-1.
//   - MaxTokens: Optional hard cap on generated tokens.
//   - Stream: When true the response is an SSE chunk stream.
//   - Stop: Optional stop sequence(s), string or list.
//   - User: Optional caller-supplied end-user identifier.
type ChatCompletionRequest struct {
	Model       string        `json:"model" validate:"required"`
	Messages    []Message     `json:"messages" validate:"required,min=1,max=100"`
	Temperature *float32      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float32      `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stream      bool          `json:"stream,omitempty"`
	Stop        StopSequences `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// Validate checks the request against the wire contract. Field-level
// constraints run through go-playground/validator; message bodies are
// checked individually because their content type is a union.
func (r *ChatCompletionRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// Usage is the three-integer token accounting block. Counts are
// rune-length estimates over raw text, not tokenizer-exact; the shape
// is fixed even if a real tokenizer is wired in later.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative. The gateway always returns
// exactly one.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionResponse is the atomic (non-streaming) envelope.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ChunkDelta carries the incremental part of a streamed choice. The
// first chunk of a stream carries only the role; subsequent chunks
// carry only content.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one streamed choice delta.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE data event of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ModelInfo describes one servable model.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// APIError is the structured error body of the OpenAI surface.
type APIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code,omitempty"`
}

// ErrorResponse wraps an APIError the way OpenAI clients expect.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NewErrorResponse builds an ErrorResponse with the given type/message.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    errType,
	}}
}
