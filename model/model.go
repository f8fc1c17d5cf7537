package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model. Tool
// call requests surface as core.FunctionCallPart entries in Content.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents and the compactor to
// drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// GenerateContent drives a single non-streaming request and returns the
// first final response carrying content, or nil when the model finished
// without producing any.
func GenerateContent(ctx context.Context, m Model, req Request) (*core.Content, error) {
	req.Stream = false
	respCh, errCh := m.Generate(ctx, req)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, err
			}
			errCh = nil
		case resp, ok := <-respCh:
			if !ok {
				return nil, nil
			}
			if resp.Partial {
				continue
			}
			if len(resp.Content.Parts) > 0 {
				content := resp.Content
				return &content, nil
			}
		}
	}
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Canned completions are keyed by the text of the last request content; a
// scripted queue of responses takes precedence when non-empty.
type MockModel struct {
	info      Info
	responses map[string]string
	script    []Response
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// EnqueueResponse appends a scripted response consumed in FIFO order, ahead
// of any prompt-keyed completions. Useful for scripting tool call turns.
func (m *MockModel) EnqueueResponse(resp Response) { m.script = append(m.script, resp) }

// Requests returns every request seen so far, in order.
func (m *MockModel) Requests() []Request { return m.requests }

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	m.requests = append(m.requests, req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(m.script) > 0 {
			next := m.script[0]
			m.script = m.script[1:]
			respCh <- next
			return
		}

		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		last := req.Contents[len(req.Contents)-1]
		inputText := last.Text()
		full := m.responses[inputText]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{
						Role:  "assistant",
						Parts: []core.Part{core.TextPart{Text: string(r)}},
					},
				}:
				}
			}
		}
		respCh <- Response{
			Partial: false,
			Content: core.Content{
				Role:  "assistant",
				Parts: []core.Part{core.TextPart{Text: full}},
			},
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements the Model interface.
func (m *MockModel) Info() Info { return m.info }
