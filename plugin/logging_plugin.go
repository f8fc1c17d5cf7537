package plugin

import (
	"context"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
)

// LoggingPlugin logs every lifecycle callback it observes. It never produces
// a result, so it is transparent to the dispatch: later plugins and the
// guarded operations run normally.
type LoggingPlugin struct {
	Base
	logger logging.Logger
}

// NewLoggingPlugin creates a LoggingPlugin writing to the given logger.
func NewLoggingPlugin(logger logging.Logger) *LoggingPlugin {
	if logger == nil {
		logger = logging.NewDefaultSlogLogger()
	}
	return &LoggingPlugin{logger: logger}
}

// Name implements Plugin.
func (p *LoggingPlugin) Name() string { return "logging" }

func (p *LoggingPlugin) OnUserMessage(ctx context.Context, args *Args) (*core.Content, error) {
	p.logger.Info("user message received", "text", args.UserMessage.Text())
	return nil, nil
}

func (p *LoggingPlugin) BeforeRun(ctx context.Context, args *Args) (*core.Content, error) {
	if cc := args.CallbackContext; cc != nil {
		p.logger.Info("invocation starting", "invocation_id", cc.InvocationID(), "session_id", cc.SessionID())
	}
	return nil, nil
}

func (p *LoggingPlugin) AfterRun(ctx context.Context, args *Args) error {
	if cc := args.CallbackContext; cc != nil {
		p.logger.Info("invocation finished", "invocation_id", cc.InvocationID())
	}
	return nil
}

func (p *LoggingPlugin) OnEvent(ctx context.Context, args *Args) (*core.Event, error) {
	if ev := args.Event; ev != nil {
		p.logger.Debug("event emitted", "event_id", ev.ID, "author", ev.Author, "partial", ev.IsPartial())
	}
	return nil, nil
}

func (p *LoggingPlugin) BeforeAgent(ctx context.Context, args *Args) (*core.Content, error) {
	p.logger.Debug("agent starting", "agent", args.AgentName)
	return nil, nil
}

func (p *LoggingPlugin) AfterAgent(ctx context.Context, args *Args) (*core.Content, error) {
	p.logger.Debug("agent finished", "agent", args.AgentName)
	return nil, nil
}

func (p *LoggingPlugin) BeforeModel(ctx context.Context, args *Args) (*model.Response, error) {
	if args.Model != nil {
		p.logger.Debug("model call starting", "model", args.Model.Info().Name)
	}
	return nil, nil
}

func (p *LoggingPlugin) AfterModel(ctx context.Context, args *Args) (*model.Response, error) {
	if args.Response != nil {
		p.logger.Debug("model call finished", "finish_reason", args.Response.FinishReason)
	}
	return nil, nil
}

func (p *LoggingPlugin) OnModelError(ctx context.Context, args *Args) (*model.Response, error) {
	p.logger.Error("model call failed", "error", args.ModelError)
	return nil, nil
}

func (p *LoggingPlugin) BeforeTool(ctx context.Context, args *Args) (map[string]any, error) {
	p.logger.Debug("tool call starting", "tool", args.ToolName)
	return nil, nil
}

func (p *LoggingPlugin) AfterTool(ctx context.Context, args *Args) (map[string]any, error) {
	p.logger.Debug("tool call finished", "tool", args.ToolName)
	return nil, nil
}

func (p *LoggingPlugin) OnToolError(ctx context.Context, args *Args) (map[string]any, error) {
	p.logger.Error("tool call failed", "tool", args.ToolName, "error", args.ToolError)
	return nil, nil
}
