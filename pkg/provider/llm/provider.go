// Package llm defines the Provider interface for chat-completion backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Gemini, a local Ollama or llama.cpp server) and answers one prompt per
// turn with the assistant's reply text.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/kitt/pkg/types"
)

// Finish reasons as reported in [CompletionResponse.FinishReason].
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is the user's
	// prompt.
	Messages []types.Message

	// SystemPrompt is the persona instruction sent before Messages. Providers
	// without a dedicated system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int
}

// CompletionResponse is the model's answer to a CompletionRequest.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. It may be empty or
	// whitespace; callers decide how to treat a blank reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length").
	FinishReason string

	Usage Usage
}

// Truncated reports whether generation stopped at MaxTokens. Anthropic-style
// backends call the same condition "max_tokens".
func (r *CompletionResponse) Truncated() bool {
	return r.FinishReason == FinishLength || r.FinishReason == "max_tokens"
}

// NewResponse assembles a CompletionResponse from a backend's reply. A reply
// cut off by the token cap is trimmed back to its last complete sentence so
// the spoken answer never stops mid-word; without any sentence boundary it is
// kept whole.
func NewResponse(content, finishReason string, usage Usage) *CompletionResponse {
	r := &CompletionResponse{Content: content, FinishReason: finishReason, Usage: usage}
	if r.Truncated() {
		r.Content = completeSentences(content)
	}
	return r
}

// completeSentences drops an unfinished trailing sentence. A terminator only
// counts when whitespace or the end of the text follows it, so "3.5" is not a
// boundary.
func completeSentences(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	cut := -1
	for i, r := range s {
		if !strings.ContainsRune(".!?…", r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if end == len(s) {
			return s
		}
		if next, _ := utf8.DecodeRuneInString(s[end:]); unicode.IsSpace(next) {
			cut = end
		}
	}
	if cut < 0 {
		return s
	}
	return s[:cut]
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It
	// returns an error if the request fails or ctx is cancelled before the
	// reply arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
