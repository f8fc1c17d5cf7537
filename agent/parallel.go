package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/plugin"
)

// ParallelAgent executes its children concurrently, each under an isolated
// branch path so their pending deltas never interleave. Children share the
// parent's emit channel but skip the resume handshake; the runner persists
// their events in arrival order.
type ParallelAgent struct {
	BaseAgent
	timeout time.Duration
}

var _ core.Agent = (*ParallelAgent)(nil)
var _ plugin.Aware = (*ParallelAgent)(nil)

// ParallelOption customizes ParallelAgent behavior.
type ParallelOption func(*ParallelAgent)

// WithTimeout bounds the total execution time of all children.
func WithTimeout(d time.Duration) ParallelOption {
	return func(p *ParallelAgent) { p.timeout = d }
}

// NewParallelAgent creates a concurrent coordinator over the given children.
func NewParallelAgent(name string, children []core.Agent, opts ...ParallelOption) *ParallelAgent {
	pa := &ParallelAgent{BaseAgent: NewBaseAgent(name)}
	for _, o := range opts {
		o(pa)
	}
	_ = pa.SetSubAgents(children...)
	return pa
}

// Run implements core.Agent launching all children concurrently. All
// children run to completion; the first error encountered is returned.
func (p *ParallelAgent) Run(ic *core.InvocationContext) error {
	ctx := ic.Context
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	g := &errgroup.Group{}
	for _, child := range p.SubAgents() {
		child := child

		branch := buildBranchPath(ic.Branch, fmt.Sprintf("%s.%s", p.Name(), child.Name()))
		childCtx := ic.NewChildInvocationContext(ic.Emit, nil, branch)
		childCtx.Context = ctx

		g.Go(func() error {
			if err := child.Run(childCtx); err != nil {
				return fmt.Errorf("parallel execution failed for agent %s: %w", child.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
