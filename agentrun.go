// Package agentrun provides a high-level façade over the runner and service
// abstractions (sessions, artifacts, compaction, plugins) for building
// event-sourced agent applications. Most applications interact with this
// package by:
//  1. Creating an AgentRun via New() (optionally overriding the default
//     in-memory services)
//  2. Creating or resuming a session
//  3. Invoking the root agent asynchronously (Invoke) or synchronously
//     (InvokeSync)
//
// The façade delegates orchestration to runner.Runner while keeping setup
// concise. The defaults are safe for local development and testing;
// production deployments typically supply the SQLite session service and a
// structured logger.
package agentrun

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/compaction"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/plugin"
	"github.com/hupe1980/agentrun/runner"
)

// Options configures an AgentRun instance. Unset services default to
// in-memory implementations.
type Options struct {
	SessionService   core.SessionService
	ArtifactService  core.ArtifactService
	Plugins          *plugin.Manager
	CompactionDriver *compaction.Driver
	EventBufferSize  int
	Logger           logging.Logger
}

// AgentRun aggregates the runner and its backing services behind a small
// convenience API.
type AgentRun struct {
	appName string
	runner  *runner.Runner
}

// New creates an AgentRun for the given application name and root agent.
func New(appName string, agent core.Agent, optFns ...func(o *Options)) *AgentRun {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(appName, agent, func(o *runner.Options) {
		if opts.SessionService != nil {
			o.SessionService = opts.SessionService
		}
		if opts.ArtifactService != nil {
			o.ArtifactService = opts.ArtifactService
		}
		if opts.EventBufferSize > 0 {
			o.EventBufferSize = opts.EventBufferSize
		}
		if opts.Logger != nil {
			o.Logger = opts.Logger
		}
		o.Plugins = opts.Plugins
		o.CompactionDriver = opts.CompactionDriver
	})

	return &AgentRun{appName: appName, runner: r}
}

// Runner exposes the underlying runner for advanced use.
func (a *AgentRun) Runner() *runner.Runner { return a.runner }

// SessionService exposes the backing session service.
func (a *AgentRun) SessionService() core.SessionService { return a.runner.SessionService() }

// ArtifactService exposes the backing artifact service.
func (a *AgentRun) ArtifactService() core.ArtifactService { return a.runner.ArtifactService() }

// CreateSession creates a session for the user, generating an id when
// sessionID is empty.
func (a *AgentRun) CreateSession(ctx context.Context, userID, sessionID string, state map[string]any) (*core.Session, error) {
	return a.runner.SessionService().CreateSession(ctx, a.appName, userID, sessionID, state)
}

// Invoke starts an asynchronous invocation with a plain text user message.
func (a *AgentRun) Invoke(ctx context.Context, userID, sessionID, message string) (string, <-chan core.Event, <-chan error, error) {
	return a.runner.Run(ctx, userID, sessionID, core.NewTextContent("user", message))
}

// InvokeSync runs one invocation to completion and returns the final
// response content.
func (a *AgentRun) InvokeSync(ctx context.Context, userID, sessionID, message string) (*core.Content, error) {
	_, events, errs, err := a.Invoke(ctx, userID, sessionID, message)
	if err != nil {
		return nil, err
	}

	var final *core.Content
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.IsPartial() && ev.Content != nil && len(ev.Content.Parts) > 0 {
				final = ev.Content
			}
		case runErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if runErr != nil {
				return nil, runErr
			}
		}
	}
	if final == nil {
		return nil, fmt.Errorf("invocation produced no response")
	}
	return final, nil
}

// Rewind removes an invocation and everything after it from the session,
// resetting artifact versions to match the surviving history.
func (a *AgentRun) Rewind(ctx context.Context, userID, sessionID, beforeInvocationID string) error {
	return a.runner.Rewind(ctx, userID, sessionID, beforeInvocationID)
}
