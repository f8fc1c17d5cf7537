// Package tool implements the function / tool calling subsystem that lets
// agents invoke structured capabilities (APIs, computations, side effects)
// with schema validated arguments, consistent error handling and rich
// metadata for model guidance.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tools are registered with agents to enable function calling. Every tool
// receives a *Context giving access to session state, artifact helpers and
// the orchestration actions of the event that will carry its result.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description returns a human-readable description of what this tool
	// does, provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-decoded arguments.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Context is the surface handed to an executing tool. It extends the
// callback context with the function call id (correlating the model's
// request with this execution) and write access to the orchestration actions
// of the event that will carry the tool's response.
type Context struct {
	*core.CallbackContext
	functionCallID string
	actions        *core.EventActions
}

// NewContext builds a tool execution context.
func NewContext(cc *core.CallbackContext, functionCallID string, actions *core.EventActions) *Context {
	if actions == nil {
		actions = &core.EventActions{}
	}
	return &Context{CallbackContext: cc, functionCallID: functionCallID, actions: actions}
}

// FunctionCallID returns the id of the function call this execution answers.
func (c *Context) FunctionCallID() string { return c.functionCallID }

// Actions exposes the orchestration actions of the pending response event.
// Tools use it to escalate, transfer control or suppress summarization.
func (c *Context) Actions() *core.EventActions { return c.actions }

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
