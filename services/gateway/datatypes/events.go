// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Websocket event names, emitted in this order per turn:
// session_start (once per connection), then content_block_start,
// N x content_block_delta, content_block_stop, message_delta,
// message_stop. A failure replaces the remaining events of the turn
// with a single error event.
const (
	EventSessionStart      = "session_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// WSMessageTypeChat is the only inbound frame type this endpoint
// handles; other well-formed frame types are ignored.
const WSMessageTypeChat = "chat.message"

// ChatWSMessage is an inbound websocket text frame.
type ChatWSMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// WSEvent is one outbound websocket text frame.
type WSEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// TextDelta is the payload of a content_block_delta event.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentBlockDeltaData pairs a delta with its block index. Single
// block replies always use index 0.
type ContentBlockDeltaData struct {
	Index int       `json:"index"`
	Delta TextDelta `json:"delta"`
}

// MessageDeltaData closes a turn with its stop reason and output
// token count (the number of delta events sent).
type MessageDeltaData struct {
	StopReason string       `json:"stop_reason"`
	Usage      MessageUsage `json:"usage"`
}

// MessageUsage is the usage block of a message_delta event.
type MessageUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// NewSessionStartEvent announces the session a connection will append to.
func NewSessionStartEvent(sessionID string) WSEvent {
	return WSEvent{Event: EventSessionStart, Data: map[string]string{"session_id": sessionID}}
}

// NewContentBlockStartEvent opens the reply's single text block.
func NewContentBlockStartEvent() WSEvent {
	return WSEvent{Event: EventContentBlockStart, Data: map[string]any{
		"index": 0,
		"content_block": map[string]string{"type": "text", "text": ""},
	}}
}

// NewContentBlockDeltaEvent carries one generated fragment.
func NewContentBlockDeltaEvent(fragment string) WSEvent {
	return WSEvent{Event: EventContentBlockDelta, Data: ContentBlockDeltaData{
		Index: 0,
		Delta: TextDelta{Type: "text_delta", Text: fragment},
	}}
}

// NewContentBlockStopEvent closes the reply's text block.
func NewContentBlockStopEvent() WSEvent {
	return WSEvent{Event: EventContentBlockStop, Data: map[string]int{"index": 0}}
}

// NewMessageDeltaEvent reports the stop reason and delta count.
func NewMessageDeltaEvent(stopReason string, outputTokens int) WSEvent {
	return WSEvent{Event: EventMessageDelta, Data: MessageDeltaData{
		StopReason: stopReason,
		Usage:      MessageUsage{OutputTokens: outputTokens},
	}}
}

// NewMessageStopEvent ends the turn.
func NewMessageStopEvent() WSEvent {
	return WSEvent{Event: EventMessageStop, Data: map[string]any{}}
}

// NewErrorEvent reports a turn failure without closing the connection.
func NewErrorEvent(errType, message string) WSEvent {
	return WSEvent{Event: EventError, Data: map[string]string{
		"type":    errType,
		"message": message,
	}}
}
