package plugin

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
)

// ExecutionError wraps an error raised by a plugin callback. It aborts the
// dispatch: later plugins do not run.
type ExecutionError struct {
	PluginName string
	Callback   Callback
	Err        error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("plugin %q failed during %s: %v", e.PluginName, e.Callback, e.Err)
}

// Unwrap exposes the plugin's original error for errors.Is / errors.As.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Manager holds the registered plugins and dispatches callbacks in
// registration order. The first plugin returning a non-nil result ends the
// dispatch; remaining plugins are skipped. Registration is not synchronized:
// register everything before running invocations.
type Manager struct {
	plugins []Plugin
	names   map[string]struct{}
	warned  map[string]struct{}
	logger  logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for callback errors and warnings.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager and registers the given plugins in order.
// Registration conflicts panic here because they are programming errors;
// use Register directly to handle them.
func NewManager(plugins []Plugin, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		names:  map[string]struct{}{},
		warned: map[string]struct{}{},
		logger: logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range plugins {
		if err := m.Register(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register appends a plugin. A duplicate name yields an error wrapping
// core.ErrAlreadyExists.
func (m *Manager) Register(p Plugin) error {
	if _, ok := m.names[p.Name()]; ok {
		return fmt.Errorf("plugin %q: %w", p.Name(), core.ErrAlreadyExists)
	}
	m.names[p.Name()] = struct{}{}
	m.plugins = append(m.plugins, p)
	return nil
}

// Plugins returns the registered plugins in registration order.
func (m *Manager) Plugins() []Plugin {
	out := make([]Plugin, len(m.plugins))
	copy(out, m.plugins)
	return out
}

// adapt shapes the Args for one plugin according to its declared
// ContextShape. The shared Args value is shallow-copied so plugins cannot
// observe each other's context field adjustments.
func (m *Manager) adapt(p Plugin, args *Args) *Args {
	if args == nil {
		args = &Args{}
	}
	a := *args
	switch p.ContextShape() {
	case ShapeInvocation:
		if _, ok := m.warned[p.Name()]; !ok {
			m.warned[p.Name()] = struct{}{}
			m.logger.Warn("plugin uses the deprecated invocation context shape; migrate to the callback context",
				"plugin", p.Name())
		}
		if a.InvocationContext == nil && a.CallbackContext != nil {
			a.InvocationContext = a.CallbackContext.InvocationContext()
		}
		a.CallbackContext = nil
	case ShapeBoth:
		if a.InvocationContext == nil && a.CallbackContext != nil {
			a.InvocationContext = a.CallbackContext.InvocationContext()
		}
	default: // ShapeCallback
		a.InvocationContext = nil
	}
	return &a
}

// dispatch runs the callback over every plugin in order. invoke must return
// an untyped nil when the plugin produced no result. The first non-nil
// result is returned; a callback error is logged and wrapped into an
// *ExecutionError that aborts the dispatch.
func (m *Manager) dispatch(ctx context.Context, cb Callback, args *Args, invoke func(Plugin, *Args) (any, error)) (any, error) {
	for _, p := range m.plugins {
		res, err := invoke(p, m.adapt(p, args))
		if err != nil {
			m.logger.Error("plugin callback failed", "plugin", p.Name(), "callback", string(cb), "error", err)
			return nil, &ExecutionError{PluginName: p.Name(), Callback: cb, Err: err}
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// RunOnUserMessage lets plugins inspect or replace the incoming user message
// before the invocation starts.
func (m *Manager) RunOnUserMessage(ctx context.Context, args *Args) (*core.Content, error) {
	res, err := m.dispatch(ctx, CallbackOnUserMessage, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.OnUserMessage(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*core.Content), nil
}

// RunBeforeRun may short-circuit the whole invocation with canned content.
func (m *Manager) RunBeforeRun(ctx context.Context, args *Args) (*core.Content, error) {
	res, err := m.dispatch(ctx, CallbackBeforeRun, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.BeforeRun(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*core.Content), nil
}

// RunAfterRun notifies every plugin that the invocation finished. All
// plugins run; there is no result to short-circuit on.
func (m *Manager) RunAfterRun(ctx context.Context, args *Args) error {
	for _, p := range m.plugins {
		if err := p.AfterRun(ctx, m.adapt(p, args)); err != nil {
			m.logger.Error("plugin callback failed", "plugin", p.Name(), "callback", string(CallbackAfterRun), "error", err)
			return &ExecutionError{PluginName: p.Name(), Callback: CallbackAfterRun, Err: err}
		}
	}
	return nil
}

// RunOnEvent lets plugins inspect or replace an emitted event before it is
// surfaced and persisted.
func (m *Manager) RunOnEvent(ctx context.Context, args *Args) (*core.Event, error) {
	res, err := m.dispatch(ctx, CallbackOnEvent, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.OnEvent(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*core.Event), nil
}

// RunBeforeAgent may replace an agent's run with canned content.
func (m *Manager) RunBeforeAgent(ctx context.Context, args *Args) (*core.Content, error) {
	res, err := m.dispatch(ctx, CallbackBeforeAgent, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.BeforeAgent(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*core.Content), nil
}

// RunAfterAgent may replace the content an agent produced.
func (m *Manager) RunAfterAgent(ctx context.Context, args *Args) (*core.Content, error) {
	res, err := m.dispatch(ctx, CallbackAfterAgent, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.AfterAgent(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*core.Content), nil
}

// RunBeforeModel may answer in place of the model.
func (m *Manager) RunBeforeModel(ctx context.Context, args *Args) (*model.Response, error) {
	res, err := m.dispatch(ctx, CallbackBeforeModel, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.BeforeModel(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*model.Response), nil
}

// RunAfterModel may replace the model's response.
func (m *Manager) RunAfterModel(ctx context.Context, args *Args) (*model.Response, error) {
	res, err := m.dispatch(ctx, CallbackAfterModel, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.AfterModel(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*model.Response), nil
}

// RunOnModelError gives plugins a chance to recover from a model failure by
// producing a substitute response.
func (m *Manager) RunOnModelError(ctx context.Context, args *Args) (*model.Response, error) {
	res, err := m.dispatch(ctx, CallbackOnModelError, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.OnModelError(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(*model.Response), nil
}

// RunBeforeTool may answer in place of the tool.
func (m *Manager) RunBeforeTool(ctx context.Context, args *Args) (map[string]any, error) {
	res, err := m.dispatch(ctx, CallbackBeforeTool, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.BeforeTool(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

// RunAfterTool may replace the tool's result.
func (m *Manager) RunAfterTool(ctx context.Context, args *Args) (map[string]any, error) {
	res, err := m.dispatch(ctx, CallbackAfterTool, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.AfterTool(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

// RunOnToolError gives plugins a chance to recover from a tool failure by
// producing a substitute result.
func (m *Manager) RunOnToolError(ctx context.Context, args *Args) (map[string]any, error) {
	res, err := m.dispatch(ctx, CallbackOnToolError, args, func(p Plugin, a *Args) (any, error) {
		r, err := p.OnToolError(ctx, a)
		if r == nil {
			return nil, err
		}
		return r, err
	})
	if res == nil || err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}
