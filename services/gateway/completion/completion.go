// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package completion runs chat completions against the language model.
//
// # Description
//
// This package is the core of the gateway. It turns a resolved message
// context into a deterministic prompt, invokes the model backend, and
// shapes the result as either a single response or a pull-based token
// stream. Every adapter (HTTP, SSE, WebSocket) consumes the same
// Stream; only the framing differs per transport.
//
// # Thread Safety
//
// An Orchestrator is safe for concurrent use. A Stream is not; each
// stream belongs to the single request that created it.
package completion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
	"github.com/stellarbyte/stellarserve/services/llm"
)

var tracer = otel.Tracer("stellarserve.gateway.completion")

// CountTokens approximates the token count of text. The runner does
// not expose its tokenizer, so accounting uses rune length. Usage
// numbers are therefore estimates, consistent across both the atomic
// and streaming paths.
func CountTokens(text string) int {
	return len([]rune(text))
}

// Result is a finished completion with token accounting.
type Result struct {
	ID      string
	Created int64
	Text    string
	Usage   datatypes.Usage
}

// Orchestrator executes completions against an LLM backend.
type Orchestrator struct {
	client llm.LLMClient
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator. A nil logger falls back to
// slog.Default().
func NewOrchestrator(client llm.LLMClient, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, logger: logger}
}

// Complete runs a full completion and returns the final text with
// usage accounting.
func (o *Orchestrator) Complete(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (*Result, error) {
	ctx, span := tracer.Start(ctx, "completion.Complete")
	defer span.End()

	prompt := llm.FormatPrompt(messages)
	span.SetAttributes(
		attribute.Int("prompt.messages", len(messages)),
		attribute.Int("prompt.chars", len(prompt)),
	)

	start := time.Now()
	text, err := o.client.Generate(ctx, prompt, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("generate completion: %w", err)
	}

	result := &Result{
		ID:      "chatcmpl-" + uuid.NewString(),
		Created: time.Now().Unix(),
		Text:    text,
		Usage:   usageFor(promptTokensFor(messages), text),
	}

	o.logger.Debug("completion finished",
		slog.Int("completion_tokens", result.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// StartStream begins a streaming completion. The returned Stream must
// be closed by the caller.
func (o *Orchestrator) StartStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "completion.StartStream")
	defer span.End()

	prompt := llm.FormatPrompt(messages)
	span.SetAttributes(
		attribute.Int("prompt.messages", len(messages)),
		attribute.Int("prompt.chars", len(prompt)),
	)

	tokens, err := o.client.GenerateStream(ctx, prompt, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream start failed")
		return nil, fmt.Errorf("start completion stream: %w", err)
	}

	return &Stream{
		ID:           "chatcmpl-" + uuid.NewString(),
		Created:      time.Now().Unix(),
		promptTokens: promptTokensFor(messages),
		tokens:       tokens,
	}, nil
}

// promptTokensFor counts prompt tokens over the raw message bodies.
// Template scaffolding (role prefixes, the trailing cue) is not billed.
func promptTokensFor(messages []datatypes.Message) int {
	total := 0
	for _, msg := range messages {
		total += CountTokens(msg.Content.Text())
	}
	return total
}

func usageFor(promptTokens int, text string) datatypes.Usage {
	c := CountTokens(text)
	return datatypes.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: c,
		TotalTokens:      promptTokens + c,
	}
}

// Stream is a pull-based sequence of completion fragments.
//
// # Description
//
// Callers repeatedly invoke Recv until it returns io.EOF, then read
// the accumulated Text and Usage. Fragments are produced lazily: the
// model generates only as fast as the consumer pulls, so a slow or
// disconnected client stops generation via context cancellation
// rather than buffering the whole response.
type Stream struct {
	ID      string
	Created int64

	promptTokens int
	tokens       llm.TokenStream
	buf          strings.Builder
	fragments    int
	done         bool
}

// Recv returns the next non-empty fragment. It returns io.EOF when the
// model has finished. Empty fragments from the backend are skipped so
// adapters never emit blank deltas.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		fragment, err := s.tokens.Recv()
		if err != nil {
			if err == io.EOF {
				s.done = true
				return "", io.EOF
			}
			return "", err
		}
		if fragment == "" {
			continue
		}
		s.buf.WriteString(fragment)
		s.fragments++
		return fragment, nil
	}
}

// Text returns all fragments received so far, concatenated.
func (s *Stream) Text() string {
	return s.buf.String()
}

// Fragments returns the number of non-empty fragments received.
func (s *Stream) Fragments() int {
	return s.fragments
}

// Usage returns token accounting for the stream as received so far.
func (s *Stream) Usage() datatypes.Usage {
	c := CountTokens(s.buf.String())
	return datatypes.Usage{
		PromptTokens:     s.promptTokens,
		CompletionTokens: c,
		TotalTokens:      s.promptTokens + c,
	}
}

// Close releases the underlying token stream. Safe to call after EOF.
func (s *Stream) Close() error {
	return s.tokens.Close()
}
