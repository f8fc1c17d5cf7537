package core

import (
	"encoding/json"
	"fmt"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any // Structured key/value payload
	Metadata map[string]any
}

func (DataPart) isPart() {}

// BlobPart is a binary content segment (images, files and other media).
// Bytes are base64 encoded when serialized.
type BlobPart struct {
	MimeType string
	Data     []byte
	Name     string // Original filename hint, may be empty
}

func (BlobPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (e.g. JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
	Metadata     map[string]any
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
	Metadata         map[string]any
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts. It is opaque to the session core beyond
// presence detection and text extraction; higher layers interpret parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system,...)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// NewTextContent builds a single-text-part content with the given role.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts. Non-text parts are skipped.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// partEnvelope is the wire form for the closed Part set. Exactly one payload
// field is populated, discriminated by Type.
type partEnvelope struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	MimeType         string            `json:"mime_type,omitempty"`
	Blob             []byte            `json:"blob,omitempty"`
	Name             string            `json:"name,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// MarshalJSON encodes parts with a type discriminator so heterogeneous part
// slices survive round-trips through persistent stores.
func (c Content) MarshalJSON() ([]byte, error) {
	envs := make([]partEnvelope, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			envs = append(envs, partEnvelope{Type: "text", Text: v.Text, Metadata: v.Metadata})
		case DataPart:
			envs = append(envs, partEnvelope{Type: "data", Data: v.Data, Metadata: v.Metadata})
		case BlobPart:
			envs = append(envs, partEnvelope{Type: "blob", MimeType: v.MimeType, Blob: v.Data, Name: v.Name})
		case FunctionCallPart:
			fc := v.FunctionCall
			envs = append(envs, partEnvelope{Type: "function_call", FunctionCall: &fc, Metadata: v.Metadata})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			envs = append(envs, partEnvelope{Type: "function_response", FunctionResponse: &fr, Metadata: v.Metadata})
		default:
			return nil, fmt.Errorf("unknown content part type %T", p)
		}
	}
	return json.Marshal(struct {
		Role  string         `json:"role,omitempty"`
		Parts []partEnvelope `json:"parts"`
	}{Role: c.Role, Parts: envs})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  string         `json:"role"`
		Parts []partEnvelope `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Role = raw.Role
	c.Parts = nil
	for _, env := range raw.Parts {
		switch env.Type {
		case "text":
			c.Parts = append(c.Parts, TextPart{Text: env.Text, Metadata: env.Metadata})
		case "data":
			c.Parts = append(c.Parts, DataPart{Data: env.Data, Metadata: env.Metadata})
		case "blob":
			c.Parts = append(c.Parts, BlobPart{MimeType: env.MimeType, Data: env.Blob, Name: env.Name})
		case "function_call":
			var fc FunctionCall
			if env.FunctionCall != nil {
				fc = *env.FunctionCall
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: fc, Metadata: env.Metadata})
		case "function_response":
			var fr FunctionResponse
			if env.FunctionResponse != nil {
				fr = *env.FunctionResponse
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: fr, Metadata: env.Metadata})
		default:
			return fmt.Errorf("unknown content part type %q", env.Type)
		}
	}
	return nil
}
