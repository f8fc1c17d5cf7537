package plugin

import (
	"context"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// Callback identifies one interception point in the invocation lifecycle.
type Callback string

const (
	CallbackOnUserMessage Callback = "on_user_message"
	CallbackBeforeRun     Callback = "before_run"
	CallbackAfterRun      Callback = "after_run"
	CallbackOnEvent       Callback = "on_event"
	CallbackBeforeAgent   Callback = "before_agent"
	CallbackAfterAgent    Callback = "after_agent"
	CallbackBeforeModel   Callback = "before_model"
	CallbackAfterModel    Callback = "after_model"
	CallbackOnModelError  Callback = "on_model_error"
	CallbackBeforeTool    Callback = "before_tool"
	CallbackAfterTool     Callback = "after_tool"
	CallbackOnToolError   Callback = "on_tool_error"
)

// ContextShape declares which context surface a plugin's callbacks expect in
// Args. New plugins should use ShapeCallback; ShapeInvocation exists for
// plugins written against the full InvocationContext and is deprecated.
type ContextShape int

const (
	// ShapeCallback fills Args.CallbackContext only (the default).
	ShapeCallback ContextShape = iota
	// ShapeInvocation fills Args.InvocationContext only.
	//
	// Deprecated: migrate callbacks to the CallbackContext surface.
	ShapeInvocation
	// ShapeBoth fills both context fields.
	ShapeBoth
)

// Args carries the inputs of one callback dispatch. Which fields are set
// depends on the callback; the context fields depend on the plugin's
// ContextShape.
type Args struct {
	CallbackContext   *core.CallbackContext
	InvocationContext *core.InvocationContext

	// UserMessage is the triggering content (OnUserMessage, BeforeRun).
	UserMessage *core.Content

	// Event is the emitted event under inspection (OnEvent).
	Event *core.Event

	// AgentName identifies the agent for agent callbacks.
	AgentName string

	// Model call surface (BeforeModel, AfterModel, OnModelError).
	Model      model.Model
	Request    *model.Request
	Response   *model.Response
	ModelError error

	// Tool call surface (BeforeTool, AfterTool, OnToolError).
	ToolName   string
	ToolArgs   map[string]any
	ToolResult map[string]any
	ToolError  error
}

// Plugin is the full callback surface. All callbacks are optional in spirit:
// embed Base and override what the plugin needs. A non-nil result from a
// Before* callback replaces the guarded operation's result; a non-nil result
// from On*Error recovers from the error.
type Plugin interface {
	// Name must be unique among the plugins registered on one Manager.
	Name() string

	// ContextShape declares which Args context fields the plugin expects.
	ContextShape() ContextShape

	OnUserMessage(ctx context.Context, args *Args) (*core.Content, error)
	BeforeRun(ctx context.Context, args *Args) (*core.Content, error)
	AfterRun(ctx context.Context, args *Args) error
	OnEvent(ctx context.Context, args *Args) (*core.Event, error)
	BeforeAgent(ctx context.Context, args *Args) (*core.Content, error)
	AfterAgent(ctx context.Context, args *Args) (*core.Content, error)
	BeforeModel(ctx context.Context, args *Args) (*model.Response, error)
	AfterModel(ctx context.Context, args *Args) (*model.Response, error)
	OnModelError(ctx context.Context, args *Args) (*model.Response, error)
	BeforeTool(ctx context.Context, args *Args) (map[string]any, error)
	AfterTool(ctx context.Context, args *Args) (map[string]any, error)
	OnToolError(ctx context.Context, args *Args) (map[string]any, error)
}

// Base is a no-op Plugin implementation meant for embedding.
type Base struct{}

// ContextShape returns ShapeCallback.
func (Base) ContextShape() ContextShape { return ShapeCallback }

func (Base) OnUserMessage(context.Context, *Args) (*core.Content, error) { return nil, nil }
func (Base) BeforeRun(context.Context, *Args) (*core.Content, error)     { return nil, nil }
func (Base) AfterRun(context.Context, *Args) error                       { return nil }
func (Base) OnEvent(context.Context, *Args) (*core.Event, error)         { return nil, nil }
func (Base) BeforeAgent(context.Context, *Args) (*core.Content, error)   { return nil, nil }
func (Base) AfterAgent(context.Context, *Args) (*core.Content, error)    { return nil, nil }
func (Base) BeforeModel(context.Context, *Args) (*model.Response, error) { return nil, nil }
func (Base) AfterModel(context.Context, *Args) (*model.Response, error)  { return nil, nil }
func (Base) OnModelError(context.Context, *Args) (*model.Response, error) {
	return nil, nil
}
func (Base) BeforeTool(context.Context, *Args) (map[string]any, error)  { return nil, nil }
func (Base) AfterTool(context.Context, *Args) (map[string]any, error)   { return nil, nil }
func (Base) OnToolError(context.Context, *Args) (map[string]any, error) { return nil, nil }

// Aware is implemented by agents that accept the plugin manager so nested
// model and tool calls can be routed through the callbacks.
type Aware interface {
	SetPlugins(m *Manager)
}
