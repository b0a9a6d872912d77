// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"io"
)

// GenerationParams carries sampling parameters for a single generation.
// Nil pointers mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient is the standard interface for a text-generation backend.
//
// Generate blocks for the full decode and returns the complete text.
// GenerateStream returns a TokenStream the caller pulls fragments from;
// the stream is finite and cannot be restarted.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	GenerateStream(ctx context.Context, prompt string, params GenerationParams) (TokenStream, error)
}

// TokenStream yields generated text fragments one at a time.
//
// Recv returns io.EOF after the final fragment. Fragments are
// non-overlapping and, concatenated, reconstruct the text Generate
// would have produced for the same sampling. Cancellation is the
// caller's choice: stop calling Recv and Close the stream.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// sliceStream replays a fixed fragment list. Used by test doubles.
type sliceStream struct {
	fragments []string
	pos       int
}

// NewSliceStream returns a TokenStream that yields the given fragments
// in order and then io.EOF.
func NewSliceStream(fragments []string) TokenStream {
	return &sliceStream{fragments: fragments}
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.fragments)
	return nil
}
