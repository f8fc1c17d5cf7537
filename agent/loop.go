package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/plugin"
)

// ErrEscalated is returned internally when a child agent signals escalation.
var ErrEscalated = errors.New("child agent escalated")

// LoopAgent executes a single child agent repeatedly until an iteration
// limit is reached or the child escalates. The same invocation context is
// shared across iterations so the child accumulates state between runs.
//
// An event with Escalate=true emitted by the child terminates the loop
// immediately; the escalation event is still forwarded so the runner and
// parent coordinators observe it.
type LoopAgent struct {
	BaseAgent
	child       core.Agent
	maxIters    int
	interval    time.Duration
	stopOnError bool
}

var _ core.Agent = (*LoopAgent)(nil)
var _ plugin.Aware = (*LoopAgent)(nil)

// LoopOption customizes LoopAgent behavior.
type LoopOption func(*LoopAgent)

// WithMaxIterations caps the number of loop iterations.
func WithMaxIterations(n int) LoopOption {
	return func(l *LoopAgent) { l.maxIters = n }
}

// WithInterval inserts a delay between iterations, useful for polling.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithContinueOnError keeps iterating when the child returns an error
// instead of aborting the loop.
func WithContinueOnError() LoopOption {
	return func(l *LoopAgent) { l.stopOnError = false }
}

// NewLoopAgent constructs a looping coordinator around a child agent.
// Defaults: 100 iterations, no interval, stop on first error.
func NewLoopAgent(name string, child core.Agent, opts ...LoopOption) *LoopAgent {
	la := &LoopAgent{
		BaseAgent:   NewBaseAgent(name),
		child:       child,
		maxIters:    100,
		stopOnError: true,
	}
	for _, o := range opts {
		o(la)
	}
	_ = la.SetSubAgents(child)
	return la
}

// Run implements core.Agent performing iterative execution with escalation
// detection. Escalation ends the loop early without an error.
func (l *LoopAgent) Run(ic *core.InvocationContext) error {
	for i := 0; i < l.maxIters; i++ {
		select {
		case <-ic.Done():
			return ic.Err()
		default:
		}

		ic.Logger.Debug("loop iteration", "agent", l.Name(), "iteration", i+1)

		err := l.runChildObservingEscalation(ic)
		if errors.Is(err, ErrEscalated) {
			ic.Logger.Info("loop stopped by escalation", "agent", l.Name(), "iteration", i+1)
			return nil
		}
		if err != nil {
			if l.stopOnError {
				return fmt.Errorf("loop iteration %d failed for agent %s: %w", i+1, l.child.Name(), err)
			}
			ic.Logger.Warn("loop iteration failed, continuing", "agent", l.Name(), "iteration", i+1, "error", err)
		}

		if l.interval > 0 && i < l.maxIters-1 {
			select {
			case <-ic.Done():
				return ic.Err()
			case <-time.After(l.interval):
			}
		}
	}
	return nil
}

// runChildObservingEscalation executes the child once, routing its events
// through an intercept channel so escalation flags are seen before the
// events are forwarded to the parent context.
func (l *LoopAgent) runChildObservingEscalation(ic *core.InvocationContext) error {
	intercept := make(chan core.Event, 10)
	resume := make(chan struct{}, 10)
	childCtx := ic.NewChildInvocationContext(intercept, resume, ic.Branch)

	done := make(chan error, 1)
	go func() {
		done <- l.child.Run(childCtx)
	}()

	for {
		select {
		case ev := <-intercept:
			escalated := ev.Actions.Escalate != nil && *ev.Actions.Escalate

			if err := ic.EmitEvent(ev); err != nil {
				return err
			}
			if !ev.IsPartial() {
				if err := ic.WaitForResume(); err != nil {
					return err
				}
			}

			if !ev.IsPartial() {
				select {
				case resume <- struct{}{}:
				case <-ic.Done():
					return ic.Err()
				}
			}

			if escalated {
				select {
				case <-done:
				case <-ic.Done():
					return ic.Err()
				}
				return ErrEscalated
			}

		case err := <-done:
			// Drain events the child emitted right before returning.
			for {
				select {
				case ev := <-intercept:
					if emitErr := ic.EmitEvent(ev); emitErr != nil {
						return emitErr
					}
					if !ev.IsPartial() {
						if waitErr := ic.WaitForResume(); waitErr != nil {
							return waitErr
						}
					}
					if ev.Actions.Escalate != nil && *ev.Actions.Escalate {
						return ErrEscalated
					}
				default:
					return err
				}
			}

		case <-ic.Done():
			return ic.Err()
		}
	}
}

// NewEscalationEvent builds an event signalling escalation to the enclosing
// coordinator, optionally carrying explanatory content.
func NewEscalationEvent(invocationID, author string, content *core.Content) core.Event {
	ev := core.NewEvent(invocationID, author)
	ev.Actions.Escalate = boolPtr(true)
	ev.Content = content
	return ev
}
