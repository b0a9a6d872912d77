// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"

	"github.com/stellarbyte/stellarserve/services/gateway/datatypes"
)

// FormatPrompt renders an ordered message list into the prompt
// template the model was tuned against:
//
//	System: <text>
//	User: <text>
//	Assistant: <text>
//	...
//	Assistant:
//
// Multimodal content is flattened to its text parts; non-text parts
// are skipped. The function is pure and deterministic: the same
// message list always produces byte-identical output, which anything
// caching or testing on top of it depends on. The prompt always ends
// with the bare "Assistant:" cue, no trailing newline, so the model
// continues that turn.
func FormatPrompt(messages []datatypes.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		text := msg.Content.Text()
		switch msg.Role {
		case datatypes.RoleSystem:
			b.WriteString("System: ")
		case datatypes.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
