// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/chat/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) datatypes.WSEvent {
	t.Helper()
	var event datatypes.WSEvent
	require.NoError(t, ws.ReadJSON(&event))
	return event
}

// readTurn consumes one full completion turn and returns the events in
// order plus the concatenated delta text.
func readTurn(t *testing.T, ws *websocket.Conn) (events []string, text string) {
	t.Helper()
	for {
		event := readEvent(t, ws)
		events = append(events, event.Event)

		if event.Event == datatypes.EventContentBlockDelta {
			data, err := json.Marshal(event.Data)
			require.NoError(t, err)
			var delta datatypes.ContentBlockDeltaData
			require.NoError(t, json.Unmarshal(data, &delta))
			text += delta.Delta.Text
		}
		if event.Event == datatypes.EventMessageStop || event.Event == datatypes.EventError {
			return events, text
		}
	}
}

func TestWebSocket_SessionStartOnConnect(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"hi"}, failAfter: -1})
	ws := dialWS(t, env, "?session_id=ws-sess-1")

	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventSessionStart, event.Event)

	data, err := json.Marshal(event.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ws-sess-1")
}

func TestWebSocket_GeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"hi"}, failAfter: -1})
	ws := dialWS(t, env, "")

	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventSessionStart, event.Event)
}

func TestWebSocket_ChatTurnLifecycle(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"Hel", "lo"}, failAfter: -1})
	ws := dialWS(t, env, "?session_id=ws-sess-2")

	_ = readEvent(t, ws) // session_start

	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "hello there",
	}))

	events, text := readTurn(t, ws)
	assert.Equal(t, []string{
		datatypes.EventContentBlockStart,
		datatypes.EventContentBlockDelta,
		datatypes.EventContentBlockDelta,
		datatypes.EventContentBlockStop,
		datatypes.EventMessageDelta,
		datatypes.EventMessageStop,
	}, events)
	assert.Equal(t, "Hello", text)
}

func TestWebSocket_MessageDeltaCountsDeltaEvents(t *testing.T) {
	// output_tokens reports how many content_block_delta events the
	// turn emitted, not the length of the reply text.
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"ab", "cd"}, failAfter: -1})
	ws := dialWS(t, env, "?session_id=ws-usage")

	_ = readEvent(t, ws) // session_start
	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "count",
	}))

	deltas := 0
	for {
		event := readEvent(t, ws)
		if event.Event == datatypes.EventContentBlockDelta {
			deltas++
			continue
		}
		if event.Event != datatypes.EventMessageDelta {
			continue
		}
		data, err := json.Marshal(event.Data)
		require.NoError(t, err)
		var delta datatypes.MessageDeltaData
		require.NoError(t, json.Unmarshal(data, &delta))
		assert.Equal(t, "end_turn", delta.StopReason)
		assert.Equal(t, 2, deltas)
		assert.Equal(t, deltas, delta.Usage.OutputTokens)
		break
	}
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"ok"}, failAfter: -1})
	ws := dialWS(t, env, "")

	_ = readEvent(t, ws) // session_start

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventError, event.Event)

	// Connection survives; a valid turn still works.
	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "still alive",
	}))
	events, _ := readTurn(t, ws)
	assert.Equal(t, datatypes.EventMessageStop, events[len(events)-1])
}

func TestWebSocket_IgnoresOtherFrameTypes(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"pong"}, failAfter: -1})
	ws := dialWS(t, env, "")

	_ = readEvent(t, ws) // session_start

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "client.ping"}))
	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "ping",
	}))

	// The ignored frame produces nothing; the next event opens the turn.
	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventContentBlockStart, event.Event)
}

func TestWebSocket_EmptyContentRejected(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"x"}, failAfter: -1})
	ws := dialWS(t, env, "")

	_ = readEvent(t, ws) // session_start

	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type: datatypes.WSMessageTypeChat,
	}))
	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventError, event.Event)
}

func TestWebSocket_GenerationErrorKeepsConnection(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"partial"}, failAfter: 1})
	ws := dialWS(t, env, "")

	_ = readEvent(t, ws) // session_start

	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "doomed",
	}))
	events, _ := readTurn(t, ws)
	assert.Equal(t, datatypes.EventError, events[len(events)-1])

	// Connection is still usable after the failure.
	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "retry",
	}))
	event := readEvent(t, ws)
	assert.Equal(t, datatypes.EventContentBlockStart, event.Event)
}

func TestWebSocket_PersistsTurns(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{fragments: []string{"stored"}, failAfter: -1})
	ws := dialWS(t, env, "?session_id=ws-persist")

	_ = readEvent(t, ws) // session_start
	require.NoError(t, ws.WriteJSON(datatypes.ChatWSMessage{
		Type:    datatypes.WSMessageTypeChat,
		Content: "save this",
	}))
	events, _ := readTurn(t, ws)
	require.Equal(t, datatypes.EventMessageStop, events[len(events)-1])

	turns, err := env.turns.List(t.Context(), "ws-persist")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "save this", turns[0].Content)
	assert.Equal(t, "stored", turns[1].Content)
}
