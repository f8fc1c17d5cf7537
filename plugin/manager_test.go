package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// scriptedPlugin returns canned results and records which callbacks fired.
type scriptedPlugin struct {
	Base
	name        string
	shape       ContextShape
	userMessage *core.Content
	beforeModel *model.Response
	err         error
	calls       []Callback
	seenArgs    []*Args
}

func (p *scriptedPlugin) Name() string               { return p.name }
func (p *scriptedPlugin) ContextShape() ContextShape { return p.shape }

func (p *scriptedPlugin) OnUserMessage(ctx context.Context, args *Args) (*core.Content, error) {
	p.calls = append(p.calls, CallbackOnUserMessage)
	p.seenArgs = append(p.seenArgs, args)
	return p.userMessage, p.err
}

func (p *scriptedPlugin) BeforeModel(ctx context.Context, args *Args) (*model.Response, error) {
	p.calls = append(p.calls, CallbackBeforeModel)
	p.seenArgs = append(p.seenArgs, args)
	return p.beforeModel, p.err
}

func (p *scriptedPlugin) AfterRun(ctx context.Context, args *Args) error {
	p.calls = append(p.calls, CallbackAfterRun)
	return p.err
}

func TestManager_RegisterConflict(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	require.NoError(t, m.Register(&scriptedPlugin{name: "a"}))
	err = m.Register(&scriptedPlugin{name: "a"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	_, err = NewManager([]Plugin{
		&scriptedPlugin{name: "dup"},
		&scriptedPlugin{name: "dup"},
	})
	require.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestManager_EarlyExit(t *testing.T) {
	first := &scriptedPlugin{name: "first"}
	second := &scriptedPlugin{name: "second", userMessage: core.NewTextContent("user", "rewritten")}
	third := &scriptedPlugin{name: "third"}
	m, err := NewManager([]Plugin{first, second, third})
	require.NoError(t, err)

	res, err := m.RunOnUserMessage(context.Background(), &Args{UserMessage: core.NewTextContent("user", "hi")})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "rewritten", res.Text())

	// first consulted, second answered, third skipped.
	assert.Len(t, first.calls, 1)
	assert.Len(t, second.calls, 1)
	assert.Empty(t, third.calls)
}

func TestManager_AllNilYieldsNil(t *testing.T) {
	m, err := NewManager([]Plugin{
		&scriptedPlugin{name: "a"},
		&scriptedPlugin{name: "b"},
	})
	require.NoError(t, err)

	res, err := m.RunBeforeModel(context.Background(), &Args{})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestManager_ErrorWrapping(t *testing.T) {
	boom := fmt.Errorf("boom")
	failing := &scriptedPlugin{name: "failing", err: boom}
	after := &scriptedPlugin{name: "after"}
	m, err := NewManager([]Plugin{failing, after})
	require.NoError(t, err)

	_, err = m.RunOnUserMessage(context.Background(), &Args{UserMessage: core.NewTextContent("user", "hi")})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "failing", execErr.PluginName)
	assert.Equal(t, CallbackOnUserMessage, execErr.Callback)
	assert.ErrorIs(t, err, boom)

	// Dispatch aborted: the second plugin never ran.
	assert.Empty(t, after.calls)
}

func TestManager_AfterRunReachesAllPlugins(t *testing.T) {
	a := &scriptedPlugin{name: "a"}
	b := &scriptedPlugin{name: "b"}
	m, err := NewManager([]Plugin{a, b})
	require.NoError(t, err)

	require.NoError(t, m.RunAfterRun(context.Background(), &Args{}))
	assert.Len(t, a.calls, 1)
	assert.Len(t, b.calls, 1)
}

func TestManager_ContextShapeAdaptation(t *testing.T) {
	ic := core.NewInvocationContext(context.Background(),
		"app", "user", "s1", "inv1", core.AgentInfo{Name: "agent"},
		nil, nil, nil, nil, nil, nil, nil)
	cc := core.NewCallbackContext(ic)

	callbackShaped := &scriptedPlugin{name: "cb", shape: ShapeCallback}
	invocationShaped := &scriptedPlugin{name: "legacy", shape: ShapeInvocation}
	bothShaped := &scriptedPlugin{name: "both", shape: ShapeBoth}
	m, err := NewManager([]Plugin{callbackShaped, invocationShaped, bothShaped})
	require.NoError(t, err)

	_, err = m.RunBeforeModel(context.Background(), &Args{CallbackContext: cc})
	require.NoError(t, err)

	require.Len(t, callbackShaped.seenArgs, 1)
	assert.NotNil(t, callbackShaped.seenArgs[0].CallbackContext)
	assert.Nil(t, callbackShaped.seenArgs[0].InvocationContext)

	require.Len(t, invocationShaped.seenArgs, 1)
	assert.Nil(t, invocationShaped.seenArgs[0].CallbackContext)
	assert.Same(t, ic, invocationShaped.seenArgs[0].InvocationContext)

	require.Len(t, bothShaped.seenArgs, 1)
	assert.NotNil(t, bothShaped.seenArgs[0].CallbackContext)
	assert.Same(t, ic, bothShaped.seenArgs[0].InvocationContext)
}

// flakyModel fails a fixed number of times before succeeding.
type flakyModel struct {
	failures  int
	succeeded bool
}

func (m *flakyModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if m.failures > 0 {
			m.failures--
			errCh <- fmt.Errorf("transient failure")
			return
		}
		m.succeeded = true
		respCh <- model.Response{
			Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: "recovered"}}},
		}
	}()
	return respCh, errCh
}

func (m *flakyModel) Info() model.Info { return model.Info{Name: "flaky", Provider: "mock"} }

func TestRetryPlugin_RecoversFromModelError(t *testing.T) {
	flaky := &flakyModel{failures: 2}
	retry := NewRetryPlugin(WithInitialInterval(time.Millisecond))
	m, err := NewManager([]Plugin{retry})
	require.NoError(t, err)

	resp, err := m.RunOnModelError(context.Background(), &Args{
		Model:      flaky,
		Request:    &model.Request{Contents: []core.Content{*core.NewTextContent("user", "hi")}},
		ModelError: fmt.Errorf("upstream failure"),
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "recovered", resp.Content.Text())
	assert.True(t, flaky.succeeded)
}

func TestRetryPlugin_ExhaustedStaysSilent(t *testing.T) {
	flaky := &flakyModel{failures: 10}
	retry := NewRetryPlugin(WithInitialInterval(time.Millisecond), WithMaxRetries(1))
	m, err := NewManager([]Plugin{retry})
	require.NoError(t, err)

	resp, err := m.RunOnModelError(context.Background(), &Args{
		Model:      flaky,
		Request:    &model.Request{Contents: []core.Content{*core.NewTextContent("user", "hi")}},
		ModelError: fmt.Errorf("upstream failure"),
	})
	require.NoError(t, err)
	assert.Nil(t, resp, "exhausted retries must not fabricate a recovery")
}
