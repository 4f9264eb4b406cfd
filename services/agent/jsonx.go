// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseError reports that a model response could not be decoded into
// the expected structure. Call sites always recover with an explicit
// fallback value; a ParseError never propagates to the caller of the
// pipeline.
type ParseError struct {
	Expected string // "array" or "object"
	Snippet  string // leading portion of the raw response
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to decode %s from model output: %q", e.Expected, e.Snippet)
}

// IsParseError reports whether err is a model-output decode failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func newParseError(expected, raw string) *ParseError {
	snippet := raw
	if len(snippet) > 120 {
		snippet = snippet[:120]
	}
	return &ParseError{Expected: expected, Snippet: snippet}
}

// stripFences removes Markdown code fences models wrap around JSON.
func stripFences(raw string) string {
	clean := strings.ReplaceAll(raw, "```json", "")
	clean = strings.ReplaceAll(clean, "```python", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

// DecodeArray extracts the outermost JSON array from a model response
// and unmarshals it into out. Surrounding prose is tolerated; a
// missing or malformed array yields a *ParseError.
func DecodeArray(raw string, out any) error {
	clean := stripFences(raw)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start == -1 || end <= start {
		return newParseError("array", raw)
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), out); err != nil {
		return newParseError("array", raw)
	}
	return nil
}

// DecodeObject extracts the outermost JSON object from a model
// response and unmarshals it into out.
func DecodeObject(raw string, out any) error {
	clean := stripFences(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end <= start {
		return newParseError("object", raw)
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), out); err != nil {
		return newParseError("object", raw)
	}
	return nil
}
