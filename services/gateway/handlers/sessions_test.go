// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

func doRequest(env *testEnv, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestSessions_CreateAndGet(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"my chat"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "my chat", sess.Title)

	w = doRequest(env, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_CreateWithEmptyBody(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.NotEmpty(t, sess.Title)
}

func TestSessions_GetMissing(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_HistoryMissingSession(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodGet, "/v1/sessions/nope/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_HistoryEmpty(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"empty"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = doRequest(env, http.MethodGet, "/v1/sessions/"+sess.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Turns []*datatypes.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Empty(t, payload.Turns)
}

func TestSessions_MessagesPagination(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"paged"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	for _, content := range []string{"one", "two", "three", "four"} {
		_, err := env.turns.Append(t.Context(), sess.ID, datatypes.RoleUser, content, 1, nil)
		require.NoError(t, err)
	}

	w = doRequest(env, http.MethodGet, "/v1/sessions/"+sess.ID+"/messages?skip=1&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Messages []*datatypes.Turn `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "two", payload.Messages[0].Content)
	assert.Equal(t, "three", payload.Messages[1].Content)
}

func TestSessions_MessagesMissingSession(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodGet, "/v1/sessions/nope/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_ListPagination(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	for i := 0; i < 3; i++ {
		w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"chat"}`))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(env, http.MethodGet, "/v1/sessions?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Sessions []*datatypes.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Len(t, payload.Sessions, 1)
}

func TestSessions_Rename(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"old"}`))
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = doRequest(env, http.MethodPatch, "/v1/sessions/"+sess.ID, []byte(`{"title":"new"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var renamed datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &renamed))
	assert.Equal(t, "new", renamed.Title)
}

func TestSessions_RenameWithoutTitle(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPatch, "/v1/sessions/any", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_Delete(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/sessions", []byte(`{"title":"bye"}`))
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))

	w = doRequest(env, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(env, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeys_CreateListRevoke(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/keys", []byte(`{"name":"deploy"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	var created datatypes.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Key)

	w = doRequest(env, http.MethodGet, "/v1/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Keys []*datatypes.APIKey `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Keys, 1)
	assert.Empty(t, listed.Keys[0].Key)

	w = doRequest(env, http.MethodDelete, "/v1/keys/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Revoked keys stay listed for auditing but no longer validate.
	_, err := env.keys.Validate(t.Context(), created.Key)
	assert.Error(t, err)
}

func TestAPIKeys_DeactivateAndActivate(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/keys", []byte(`{"name":"rotating"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	var created datatypes.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(env, http.MethodPost, "/v1/keys/"+created.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := env.keys.Validate(t.Context(), created.Key)
	assert.Error(t, err)

	w = doRequest(env, http.MethodPost, "/v1/keys/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err = env.keys.Validate(t.Context(), created.Key)
	assert.NoError(t, err)

	w = doRequest(env, http.MethodPost, "/v1/keys/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeys_CreateRequiresName(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodPost, "/v1/keys", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModels_ListAndGet(t *testing.T) {
	env := newTestEnv(t, &streamingMockLLM{failAfter: -1})

	w := doRequest(env, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list datatypes.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, testModelID, list.Data[0].ID)

	w = doRequest(env, http.MethodGet, "/v1/models/"+testModelID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(env, http.MethodGet, "/v1/models/other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
