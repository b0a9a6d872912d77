// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("stellarserve.llm.runner")

// RunnerClient talks to the model-runner sidecar that holds the
// causal-LM weights. The runner exposes two endpoints:
//
//	POST /generate         -> {"text": "..."}
//	POST /generate/stream  -> NDJSON lines {"token": "...", "done": bool}
//
// One runner serves one model; decodes are sequential on the runner
// side, so concurrent requests queue there rather than here.
type RunnerClient struct {
	httpClient *http.Client
	baseURL    string
}

type runnerGenerateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_new_tokens"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type runnerGenerateResponse struct {
	Text string `json:"text"`
}

type runnerStreamChunk struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// NewRunnerClient creates a client for the runner at baseURL.
func NewRunnerClient(baseURL string) (*RunnerClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model runner URL not configured")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing model runner client", "base_url", baseURL)
	return &RunnerClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
	}, nil
}

func buildRunnerRequest(prompt string, params GenerationParams, stream bool) runnerGenerateRequest {
	payload := runnerGenerateRequest{
		Prompt: prompt,
		Stream: stream,
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	} else {
		payload.MaxTokens = 512
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	} else {
		defaultTemp := float32(0.7)
		payload.Temperature = &defaultTemp
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	} else {
		defaultTopP := float32(0.9)
		payload.TopP = &defaultTopP
	}
	if len(params.Stop) > 0 {
		payload.Stop = params.Stop
	}
	return payload
}

// Generate implements the LLMClient interface.
func (r *RunnerClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "RunnerClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.prompt_chars", len(prompt)))

	payload := buildRunnerRequest(prompt, params, false)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to marshal runner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/generate",
		bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to create runner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Model runner call failed", "error", err)
		return "", fmt.Errorf("model runner call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to read runner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Model runner returned an error",
			"status_code", resp.StatusCode, "response", string(respBody))
		return "", fmt.Errorf("model runner failed with status %d: %s",
			resp.StatusCode, string(respBody))
	}

	var runnerResp runnerGenerateResponse
	if err := json.Unmarshal(respBody, &runnerResp); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to parse runner response: %w", err)
	}
	return runnerResp.Text, nil
}

// GenerateStream implements the LLMClient interface. The returned
// stream owns the HTTP response body; the caller must Close it.
func (r *RunnerClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams) (TokenStream, error) {

	ctx, span := tracer.Start(ctx, "RunnerClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.prompt_chars", len(prompt)))

	payload := buildRunnerRequest(prompt, params, true)
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal runner stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/generate/stream",
		bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create runner stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model runner stream call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		slog.Error("Model runner stream returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("model runner stream failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	return &runnerTokenStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

// runnerTokenStream decodes the runner's NDJSON stream line by line.
type runnerTokenStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *runnerTokenStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk runnerStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("failed to parse runner stream chunk: %w", err)
		}
		if chunk.Error != "" {
			s.done = true
			return "", fmt.Errorf("model runner stream error: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
			if chunk.Token != "" {
				return chunk.Token, nil
			}
			return "", io.EOF
		}
		return chunk.Token, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("runner stream read failed: %w", err)
	}
	return "", io.EOF
}

func (s *runnerTokenStream) Close() error {
	s.done = true
	return s.body.Close()
}

var _ LLMClient = (*RunnerClient)(nil)
