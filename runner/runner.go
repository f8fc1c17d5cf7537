package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrun/artifact"
	"github.com/hupe1980/agentrun/compaction"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/plugin"
	"github.com/hupe1980/agentrun/session"
)

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// SessionService persists sessions and events.
	SessionService core.SessionService
	// ArtifactService stores versioned artifacts.
	ArtifactService core.ArtifactService
	// Plugins dispatches lifecycle callbacks. Optional.
	Plugins *plugin.Manager
	// CompactionDriver runs after each invocation when set.
	CompactionDriver *compaction.Driver
	// EventBufferSize sets channel buffering for streamed events.
	EventBufferSize int
	// Logger receives runner diagnostics.
	Logger logging.Logger
}

// Runner coordinates agent invocations against a session: it applies the
// plugin lifecycle, persists emitted events, answers the resume handshake,
// and triggers compaction. Public methods are safe for concurrent use.
type Runner struct {
	appName string
	agent   core.Agent

	sessionService   core.SessionService
	artifactService  core.ArtifactService
	plugins          *plugin.Manager
	compactionDriver *compaction.Driver
	eventBufferSize  int
	logger           logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner for the given application and root agent. In-memory
// services are used unless overridden. When a plugin manager is supplied it
// is handed to the agent hierarchy so nested model and tool calls route
// through the callbacks.
func New(appName string, agent core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		SessionService:  session.NewInMemoryService(),
		ArtifactService: artifact.NewInMemoryService(),
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Plugins != nil {
		if aware, ok := agent.(plugin.Aware); ok {
			aware.SetPlugins(opts.Plugins)
		}
	}

	return &Runner{
		appName:          appName,
		agent:            agent,
		sessionService:   opts.SessionService,
		artifactService:  opts.ArtifactService,
		plugins:          opts.Plugins,
		compactionDriver: opts.CompactionDriver,
		eventBufferSize:  opts.EventBufferSize,
		logger:           opts.Logger,
		activeRuns:       make(map[string]context.CancelFunc),
	}
}

// SessionService exposes the backing session service.
func (r *Runner) SessionService() core.SessionService { return r.sessionService }

// ArtifactService exposes the backing artifact service.
func (r *Runner) ArtifactService() core.ArtifactService { return r.artifactService }

// Run starts an asynchronous invocation for one user message. It returns the
// invocation id plus channels streaming the emitted events and any terminal
// error. Both channels close when the invocation finishes.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, newMessage *core.Content) (string, <-chan core.Event, <-chan error, error) {
	sess, err := r.sessionService.GetSession(ctx, r.appName, userID, sessionID, nil)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return "", nil, nil, core.ErrSessionNotFound
	}

	invocationID := core.NewID()
	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)
	agentEmit := make(chan core.Event, r.eventBufferSize)
	resumeCh := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[invocationID] = cancel
	r.mu.Unlock()

	ic := core.NewInvocationContext(
		ctx,
		r.appName, userID, sessionID, invocationID,
		core.AgentInfo{Name: r.agent.Name(), Type: "agent"},
		newMessage,
		agentEmit, resumeCh,
		sess,
		r.sessionService,
		r.artifactService,
		r.logger,
	)
	cc := core.NewCallbackContext(ic)

	shortCircuit, err := r.startInvocation(ctx, ic, cc)
	if err != nil {
		r.finishRun(invocationID, cancel)
		return "", nil, nil, err
	}

	if shortCircuit != nil {
		go func() {
			defer func() {
				close(eventsCh)
				close(errorsCh)
				r.finishRun(invocationID, cancel)
			}()
			ev := core.NewEvent(invocationID, r.agent.Name())
			ev.Content = shortCircuit
			ev.TurnComplete = boolPtr(true)
			if err := r.persistAndDeliver(ctx, ic, cc, ev, eventsCh); err != nil {
				r.deliverError(ctx, errorsCh, err)
				return
			}
			r.endInvocation(ctx, ic, cc, errorsCh)
		}()
		return invocationID, eventsCh, errorsCh, nil
	}

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		defer close(agentEmit)
		if err := r.agent.Run(ic); err != nil {
			select {
			case <-ctx.Done():
			case errorsCh <- fmt.Errorf("agent execution failed: %w", err):
			}
		}
	}()

	go func() {
		r.processEvents(ctx, ic, cc, agentEmit, resumeCh, eventsCh, errorsCh)
		r.endInvocation(ctx, ic, cc, errorsCh)

		// Unblock and wait out the agent before closing the outbound
		// channels; it may still be trying to emit or report an error.
		cancel()
		<-agentDone
		close(eventsCh)
		close(errorsCh)
		r.finishRun(invocationID, cancel)
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// Cancel aborts a running invocation by id.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.Lock()
	cancel, ok := r.activeRuns[invocationID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("invocation %s not found", invocationID)
	}
	cancel()
	return nil
}

// startInvocation applies the OnUserMessage and BeforeRun callbacks and
// appends the (possibly rewritten) user message event. A non-nil return
// content short-circuits the agent run.
func (r *Runner) startInvocation(ctx context.Context, ic *core.InvocationContext, cc *core.CallbackContext) (*core.Content, error) {
	var shortCircuit *core.Content

	if r.plugins != nil {
		args := &plugin.Args{
			CallbackContext:   cc,
			InvocationContext: ic,
			UserMessage:       ic.UserContent,
		}
		rewritten, err := r.plugins.RunOnUserMessage(ctx, args)
		if err != nil {
			return nil, err
		}
		if rewritten != nil {
			ic.UserContent = rewritten
		}

		args.UserMessage = ic.UserContent
		shortCircuit, err = r.plugins.RunBeforeRun(ctx, args)
		if err != nil {
			return nil, err
		}
	}

	if ic.UserContent != nil {
		userEvent := core.NewUserContentEvent(ic.InvocationID, ic.UserContent)
		if _, err := r.sessionService.AppendEvent(ctx, ic.Session, userEvent); err != nil {
			return nil, fmt.Errorf("failed to append user event: %w", err)
		}
	}

	return shortCircuit, nil
}

// processEvents consumes agent output until the emit channel closes: every
// event passes through OnEvent, non-partial events are persisted with their
// deltas, and the resume handshake releases the agent after each persisted
// event.
func (r *Runner) processEvents(
	ctx context.Context,
	ic *core.InvocationContext,
	cc *core.CallbackContext,
	agentEmit <-chan core.Event,
	resumeCh chan<- struct{},
	eventsCh chan<- core.Event,
	errorsCh chan<- error,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-agentEmit:
			if !ok {
				return
			}
			if err := r.persistAndDeliver(ctx, ic, cc, ev, eventsCh); err != nil {
				r.deliverError(ctx, errorsCh, err)
				return
			}
			if !ev.IsPartial() {
				select {
				case resumeCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// persistAndDeliver runs the OnEvent callback, appends the event unless it is
// partial, and surfaces it on the outbound channel.
func (r *Runner) persistAndDeliver(ctx context.Context, ic *core.InvocationContext, cc *core.CallbackContext, ev core.Event, eventsCh chan<- core.Event) error {
	if r.plugins != nil {
		replacement, err := r.plugins.RunOnEvent(ctx, &plugin.Args{
			CallbackContext:   cc,
			InvocationContext: ic,
			Event:             &ev,
		})
		if err != nil {
			return err
		}
		if replacement != nil {
			ev = *replacement
		}
	}

	if !ev.IsPartial() {
		persisted, err := r.sessionService.AppendEvent(ctx, ic.Session, ev)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		ev = persisted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eventsCh <- ev:
		r.logger.Debug("event delivered", "event_id", ev.ID, "session_id", ic.SessionID, "partial", ev.IsPartial())
	}
	return nil
}

// endInvocation runs the AfterRun callback and the compaction driver.
func (r *Runner) endInvocation(ctx context.Context, ic *core.InvocationContext, cc *core.CallbackContext, errorsCh chan<- error) {
	if r.plugins != nil {
		if err := r.plugins.RunAfterRun(ctx, &plugin.Args{
			CallbackContext:   cc,
			InvocationContext: ic,
		}); err != nil {
			r.deliverError(ctx, errorsCh, err)
			return
		}
	}
	if r.compactionDriver != nil {
		if err := r.compactionDriver.Run(ctx, ic.Session); err != nil {
			r.logger.Warn("compaction failed", "session_id", ic.SessionID, "error", err)
		}
	}
}

func (r *Runner) deliverError(ctx context.Context, errorsCh chan<- error, err error) {
	select {
	case <-ctx.Done():
	case errorsCh <- err:
	}
}

func (r *Runner) finishRun(invocationID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.activeRuns, invocationID)
	r.mu.Unlock()
}

func boolPtr(b bool) *bool { return &b }
