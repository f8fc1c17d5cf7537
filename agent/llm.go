package agent

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentrun/compaction"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/plugin"
	"github.com/hupe1980/agentrun/tool"
)

// LLMAgentOptions configures an LLMAgent instance. Use functional options
// with NewLLMAgent to override defaults.
type LLMAgentOptions struct {
	// Instruction produces the system prompt for every model call.
	Instruction Instruction
	// EnableStreaming forwards partial model chunks as partial events.
	EnableStreaming bool
	// MaxToolTurns bounds the generate -> tool -> generate loop.
	MaxToolTurns int
	// MaxHistoryMessages caps the conversation history sent to the model.
	// Zero means unlimited.
	MaxHistoryMessages int
	// OutputKey, when set, stages the final response text into session state
	// under this key.
	OutputKey string
	// Tools registers the initial tool set.
	Tools []tool.Tool
}

// LLMAgent drives a language model through the invocation protocol: it builds
// requests from the compacted session history, executes requested tool calls,
// and emits the resulting events. Plugin hooks guard every model and tool
// call when a plugin manager is attached.
type LLMAgent struct {
	BaseAgent
	model           model.Model
	instruction     Instruction
	tools           map[string]tool.Tool
	enableStreaming bool
	maxToolTurns    int
	maxHistory      int
	outputKey       string
}

var _ core.Agent = (*LLMAgent)(nil)
var _ plugin.Aware = (*LLMAgent)(nil)

// NewLLMAgent creates a model-backed agent with sensible defaults: a generic
// system prompt, streaming disabled, ten tool turns and unlimited history.
func NewLLMAgent(name string, m model.Model, optFns ...func(o *LLMAgentOptions)) *LLMAgent {
	opts := LLMAgentOptions{
		Instruction:  NewInstructionFromText(fmt.Sprintf("You are %s, a helpful assistant.", name)),
		MaxToolTurns: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &LLMAgent{
		BaseAgent:       NewBaseAgent(name),
		model:           m,
		instruction:     opts.Instruction,
		tools:           make(map[string]tool.Tool),
		enableStreaming: opts.EnableStreaming,
		maxToolTurns:    opts.MaxToolTurns,
		maxHistory:      opts.MaxHistoryMessages,
		outputKey:       opts.OutputKey,
	}
	a.RegisterTools(opts.Tools...)
	return a
}

// RegisterTool adds a tool to the agent's capability set. A tool with the
// same name replaces the previous registration.
func (a *LLMAgent) RegisterTool(t tool.Tool) { a.tools[t.Name()] = t }

// RegisterTools adds multiple tools at once.
func (a *LLMAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// HasTool reports whether a tool is registered.
func (a *LLMAgent) HasTool(name string) bool {
	_, ok := a.tools[name]
	return ok
}

// Run implements core.Agent. It loops generate -> execute tools until the
// model answers without requesting a tool, then emits the final response.
func (a *LLMAgent) Run(ic *core.InvocationContext) error {
	cc := core.NewCallbackContext(ic)
	pm := a.Plugins()

	if pm != nil {
		replacement, err := pm.RunBeforeAgent(ic.Context, &plugin.Args{
			CallbackContext:   cc,
			InvocationContext: ic,
			AgentName:         a.Name(),
		})
		if err != nil {
			return err
		}
		if replacement != nil {
			ev := core.NewEvent(ic.InvocationID, a.Name())
			ev.Content = replacement
			return emitAndWait(ic, ev)
		}
	}

	for turn := 0; turn < a.maxToolTurns; turn++ {
		req, err := a.buildRequest(ic)
		if err != nil {
			return err
		}

		resp, err := a.callModel(ic, cc, req)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Content.Parts) == 0 {
			return nil
		}

		content := resp.Content
		ev := core.NewEvent(ic.InvocationID, a.Name())
		ev.Content = &content
		calls := ev.GetFunctionCalls()

		if len(calls) == 0 {
			return a.finish(ic, cc, pm, &content)
		}

		// Surface the tool request before executing it.
		if err := emitAndWait(ic, ev); err != nil {
			return err
		}

		for _, call := range calls {
			actions, err := a.executeToolCall(ic, cc, pm, call)
			if err != nil {
				return err
			}
			if actions.TransferToAgent != nil && *actions.TransferToAgent != "" {
				return a.transferTo(ic, *actions.TransferToAgent)
			}
			if actions.Escalate != nil && *actions.Escalate {
				return nil
			}
		}
	}

	return fmt.Errorf("agent %s exceeded %d tool turns", a.Name(), a.maxToolTurns)
}

// finish runs the AfterAgent hook, stages the output key and emits the final
// response event.
func (a *LLMAgent) finish(ic *core.InvocationContext, cc *core.CallbackContext, pm *plugin.Manager, content *core.Content) error {
	if pm != nil {
		replacement, err := pm.RunAfterAgent(ic.Context, &plugin.Args{
			CallbackContext:   cc,
			InvocationContext: ic,
			AgentName:         a.Name(),
		})
		if err != nil {
			return err
		}
		if replacement != nil {
			content = replacement
		}
	}
	if a.outputKey != "" {
		ic.SetState(a.outputKey, content.Text())
	}
	ev := core.NewEvent(ic.InvocationID, a.Name())
	ev.Content = content
	ev.TurnComplete = boolPtr(true)
	return emitAndWait(ic, ev)
}

// buildRequest assembles the model request: resolved instructions, tool
// definitions and the model-visible conversation view with compaction
// summaries substituted for the ranges they cover.
func (a *LLMAgent) buildRequest(ic *core.InvocationContext) (*model.Request, error) {
	instructions, err := a.instruction.Resolve(ic)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instructions: %w", err)
	}

	var contents []core.Content
	if ic.Session != nil {
		contents = compaction.ContentsForModel(ic.Session.GetEvents())
	}
	if len(contents) == 0 && ic.UserContent != nil {
		contents = []core.Content{*ic.UserContent}
	}
	if a.maxHistory > 0 && len(contents) > a.maxHistory {
		contents = contents[len(contents)-a.maxHistory:]
	}

	req := &model.Request{
		Instructions: instructions,
		Contents:     contents,
		Tools:        a.toolDefinitions(),
		Stream:       a.enableStreaming,
	}
	return req, nil
}

func (a *LLMAgent) toolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// callModel wraps one generation in the BeforeModel / AfterModel /
// OnModelError hook protocol.
func (a *LLMAgent) callModel(ic *core.InvocationContext, cc *core.CallbackContext, req *model.Request) (*model.Response, error) {
	pm := a.Plugins()
	args := &plugin.Args{
		CallbackContext:   cc,
		InvocationContext: ic,
		AgentName:         a.Name(),
		Model:             a.model,
		Request:           req,
	}

	if pm != nil {
		resp, err := pm.RunBeforeModel(ic.Context, args)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	ic.Logger.Debug("model call", "agent", a.Name(), "model", a.model.Info().Name, "contents", len(req.Contents))

	resp, err := a.generate(ic, *req)
	if err != nil {
		if pm != nil {
			args.ModelError = err
			recovered, herr := pm.RunOnModelError(ic.Context, args)
			if herr != nil {
				return nil, herr
			}
			if recovered != nil {
				resp, err = recovered, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("model generation failed: %w", err)
		}
	}

	if pm != nil && resp != nil {
		args.Response = resp
		replacement, err := pm.RunAfterModel(ic.Context, args)
		if err != nil {
			return nil, err
		}
		if replacement != nil {
			resp = replacement
		}
	}
	return resp, nil
}

// generate drives one model call. When streaming is enabled, partial chunks
// are forwarded as partial events without touching the staged deltas or the
// resume handshake; the final response is returned to the caller.
func (a *LLMAgent) generate(ic *core.InvocationContext, req model.Request) (*model.Response, error) {
	respCh, errCh := a.model.Generate(ic.Context, req)

	var final *model.Response
	for {
		select {
		case <-ic.Context.Done():
			return nil, ic.Context.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return nil, err
			}
			errCh = nil
		case resp, ok := <-respCh:
			if !ok {
				return final, nil
			}
			if resp.Partial {
				if a.enableStreaming {
					if err := a.emitPartial(ic, resp); err != nil {
						return nil, err
					}
				}
				continue
			}
			r := resp
			final = &r
		}
	}
}

// emitPartial sends a streaming fragment directly on the emit channel,
// bypassing EmitEvent so the staged deltas stay attached to the next
// non-partial event.
func (a *LLMAgent) emitPartial(ic *core.InvocationContext, resp model.Response) error {
	ev := core.NewEvent(ic.InvocationID, a.Name())
	content := resp.Content
	ev.Content = &content
	ev.Partial = boolPtr(true)
	if ic.Branch != "" {
		branch := ic.Branch
		ev.Branch = &branch
	}
	select {
	case <-ic.Context.Done():
		return ic.Context.Err()
	case ic.Emit <- ev:
		return nil
	}
}

// executeToolCall runs one requested tool with the BeforeTool / AfterTool /
// OnToolError hook protocol and emits the function response event. The
// returned actions expose orchestration flags the tool raised (transfer,
// escalate).
func (a *LLMAgent) executeToolCall(ic *core.InvocationContext, cc *core.CallbackContext, pm *plugin.Manager, call core.FunctionCall) (core.EventActions, error) {
	argsMap := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &argsMap); err != nil {
			ev := core.NewFunctionResponseEvent(ic.InvocationID, a.Name(), call.ID, call.Name, nil,
				fmt.Errorf("failed to decode arguments: %w", err))
			return core.EventActions{}, emitAndWait(ic, ev)
		}
	}

	hookArgs := &plugin.Args{
		CallbackContext:   cc,
		InvocationContext: ic,
		AgentName:         a.Name(),
		ToolName:          call.Name,
		ToolArgs:          argsMap,
	}

	if pm != nil {
		replacement, err := pm.RunBeforeTool(ic.Context, hookArgs)
		if err != nil {
			return core.EventActions{}, err
		}
		if replacement != nil {
			argsMap = replacement
			hookArgs.ToolArgs = replacement
		}
	}

	actions := core.EventActions{}
	result, toolErr := a.invokeTool(cc, call, argsMap, &actions)

	if toolErr != nil {
		ic.Logger.Warn("tool call failed", "agent", a.Name(), "tool", call.Name, "error", toolErr)
		if pm != nil {
			hookArgs.ToolError = toolErr
			recovered, herr := pm.RunOnToolError(ic.Context, hookArgs)
			if herr != nil {
				return core.EventActions{}, herr
			}
			if recovered != nil {
				result, toolErr = recovered, nil
			}
		}
	}

	if pm != nil && toolErr == nil {
		hookArgs.ToolResult = asResultMap(result)
		replacement, err := pm.RunAfterTool(ic.Context, hookArgs)
		if err != nil {
			return core.EventActions{}, err
		}
		if replacement != nil {
			result = replacement
		}
	}

	ev := core.NewFunctionResponseEvent(ic.InvocationID, a.Name(), call.ID, call.Name, result, toolErr)
	mergeActions(&ev.Actions, actions)
	if err := emitAndWait(ic, ev); err != nil {
		return core.EventActions{}, err
	}
	return actions, nil
}

// invokeTool resolves and calls the named tool, capturing the orchestration
// actions it sets.
func (a *LLMAgent) invokeTool(cc *core.CallbackContext, call core.FunctionCall, args map[string]any, actions *core.EventActions) (any, error) {
	t, ok := a.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", call.Name)
	}
	toolCtx := tool.NewContext(cc, call.ID, actions)
	return t.Call(toolCtx, args)
}

// transferTo hands the rest of the invocation to a named agent in the
// hierarchy, searching from the root.
func (a *LLMAgent) transferTo(ic *core.InvocationContext, name string) error {
	root := core.Agent(a)
	for {
		parent := rootParent(root)
		if parent == nil {
			break
		}
		root = parent
	}
	target := root.FindAgent(name)
	if target == nil {
		return fmt.Errorf("agent %q not found in hierarchy", name)
	}
	ic.Logger.Info("transferring control", "from", a.Name(), "to", name)
	return target.Run(ic)
}

func rootParent(a core.Agent) core.Agent {
	type parented interface{ Parent() core.Agent }
	if p, ok := a.(parented); ok {
		return p.Parent()
	}
	return nil
}

// mergeActions copies the orchestration flags a tool staged onto the event
// that carries its response.
func mergeActions(dst *core.EventActions, src core.EventActions) {
	if src.TransferToAgent != nil {
		dst.TransferToAgent = src.TransferToAgent
	}
	if src.Escalate != nil {
		dst.Escalate = src.Escalate
	}
	if src.SkipSummarization != nil {
		dst.SkipSummarization = src.SkipSummarization
	}
	if len(src.StateDelta) > 0 {
		if dst.StateDelta == nil {
			dst.StateDelta = map[string]any{}
		}
		for k, v := range src.StateDelta {
			dst.StateDelta[k] = v
		}
	}
	if len(src.ArtifactDelta) > 0 {
		if dst.ArtifactDelta == nil {
			dst.ArtifactDelta = map[string]int{}
		}
		for k, v := range src.ArtifactDelta {
			dst.ArtifactDelta[k] = v
		}
	}
}

// asResultMap normalizes a tool result for the AfterTool hook, which deals
// in maps.
func asResultMap(result any) map[string]any {
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": result}
}
