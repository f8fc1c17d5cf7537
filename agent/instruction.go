package agent

import (
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
)

// Provider supplies dynamic instruction text at runtime. Implementations can
// derive instructions from session state, artifacts or the environment.
type Provider interface {
	Instruction(*core.InvocationContext) (string, error)
}

// Func adapts an ordinary function into a Provider.
type Func func(*core.InvocationContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ic *core.InvocationContext) (string, error) { return f(ic) }

// Instruction represents either a static instruction string or a dynamic
// provider, a Go-idiomatic union of string | provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.InvocationContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// NewInstructionFromTemplate creates an Instruction rendered against the
// session state at resolution time. Template placeholders reference state
// keys, e.g. "Answer in {{.language}}.".
func NewInstructionFromTemplate(text string) Instruction {
	return Instruction{provider: Func(func(ic *core.InvocationContext) (string, error) {
		state := map[string]any{}
		if ic.Session != nil {
			for k, v := range ic.Session.Clone().State {
				state[k] = v
			}
		}
		for k, v := range ic.StateDelta {
			state[k] = v
		}
		return util.RenderTemplate(text, state)
	})}
}

// IsStatic reports whether the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ic *core.InvocationContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}
	return i.text, nil
}
