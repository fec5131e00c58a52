package worker

import (
	"encoding/json"
	"strings"
)

// Different upstream agent CLIs signal the end of their output stream in
// incompatible ways. Completion detection is therefore an ordered list of
// independent predicates, one per upstream convention, evaluated until
// the first match. No single convention can be assumed; the parser must
// tolerate all of them uniformly.
var completionChecks = []func(chunk map[string]any) bool{
	// OpenAI-style chat completions: a non-null finish_reason ends the stream.
	func(chunk map[string]any) bool {
		v, ok := chunk["finish_reason"]
		return ok && v != nil
	},
	// Ollama-style generate: done flips to true on the final chunk.
	func(chunk map[string]any) bool {
		done, ok := chunk["done"].(bool)
		return ok && done
	},
	// Event-typed streams: a terminal event type marks the end.
	func(chunk map[string]any) bool {
		t, ok := chunk["type"].(string)
		return ok && (t == "completion" || t == "done")
	},
	// Status-tagged streams: an explicit completed status.
	func(chunk map[string]any) bool {
		s, ok := chunk["status"].(string)
		return ok && s == "completed"
	},
}

// ParseChunk attempts to decode one output chunk as a JSON object.
// Malformed or non-object chunks report ok=false; callers skip and count
// them rather than aborting the stream.
func ParseChunk(raw []byte) (map[string]any, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	var chunk map[string]any
	if err := json.Unmarshal([]byte(trimmed), &chunk); err != nil {
		return nil, false
	}
	return chunk, true
}

// IsComplete reports whether a chunk signals the end of the output
// stream under any of the supported upstream conventions. The first
// matching predicate wins; no ordering is defined when several
// indicators appear in one chunk.
func IsComplete(chunk map[string]any) bool {
	for _, check := range completionChecks {
		if check(chunk) {
			return true
		}
	}
	return false
}

// ExtractContent pulls the text payload out of a chunk, in priority
// order: delta.content, then text, then a content array of fragments
// whose text fields are concatenated. Unrecognized shapes contribute
// nothing.
func ExtractContent(chunk map[string]any) string {
	if delta, ok := chunk["delta"].(map[string]any); ok {
		if s, ok := delta["content"].(string); ok {
			return s
		}
	}
	if s, ok := chunk["text"].(string); ok {
		return s
	}
	if fragments, ok := chunk["content"].([]any); ok {
		var b strings.Builder
		for _, f := range fragments {
			frag, ok := f.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := frag["text"].(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	}
	return ""
}
