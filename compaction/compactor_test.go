package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

func textEvent(invocationID, author, text string, ts float64) core.Event {
	ev := core.NewMessageEvent(invocationID, author, text)
	ev.Timestamp = ts
	return ev
}

func TestSlidingWindowCompactor_Summarize(t *testing.T) {
	mock := model.NewMockModel("mock", "mock")
	mock.AddResponse("user: hello\nassistant: hi there", "greeting exchange")
	c := NewSlidingWindowCompactor(mock)

	events := []core.Event{
		textEvent("inv1", "user", "hello", 10),
		textEvent("inv1", "assistant", "hi there", 20),
	}
	summary, err := c.Summarize(context.Background(), events)
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, CompactorAuthor, summary.Author)
	require.NotNil(t, summary.Actions.Compaction)
	assert.Equal(t, float64(10), summary.Actions.Compaction.StartTimestamp)
	assert.Equal(t, float64(20), summary.Actions.Compaction.EndTimestamp)

	content := summary.Actions.Compaction.CompactedContent
	require.NotNil(t, content)
	assert.Equal(t, "user", content.Role)
	assert.Equal(t, "greeting exchange", content.Text())
}

func TestSlidingWindowCompactor_EmptyInput(t *testing.T) {
	mock := model.NewMockModel("mock", "mock")
	c := NewSlidingWindowCompactor(mock)

	summary, err := c.Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Empty(t, mock.Requests(), "model must not be invoked for empty input")
}

func TestSlidingWindowCompactor_TranscriptSkipsNonText(t *testing.T) {
	mock := model.NewMockModel("mock", "mock")
	c := NewSlidingWindowCompactor(mock)

	noContent := core.NewEvent("inv1", "agent")
	noContent.Timestamp = 15
	events := []core.Event{
		textEvent("inv1", "user", "first", 10),
		noContent,
		textEvent("inv1", "assistant", "second", 20),
	}
	_, err := c.Summarize(context.Background(), events)
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Contents, 1)
	assert.Equal(t, "user: first\nassistant: second", reqs[0].Contents[0].Text())
	assert.False(t, reqs[0].Stream)
}
