package history

import (
	"sync"
	"testing"

	"github.com/localvision/localvision/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userText(s string) inference.Interaction {
	return inference.Interaction{Actor: inference.ActorUser, Kind: inference.KindText, Content: s}
}

func TestConversation_AppendSnapshot(t *testing.T) {
	c := New(0)
	c.Append(userText("a"), userText("b"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Content)

	snap[0].Content = "changed"
	assert.Equal(t, "a", c.Snapshot()[0].Content)
}

func TestConversation_Limit(t *testing.T) {
	c := New(2)
	c.Append(userText("1"), userText("2"), userText("3"))
	c.Append(userText("4"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "3", snap[0].Content)
	assert.Equal(t, "4", snap[1].Content)
}

func TestConversation_Record(t *testing.T) {
	c := New(0)

	assert.True(t, c.Record(inference.Envelope{Kind: inference.EnvelopeText, Content: "hi"}))
	assert.True(t, c.Record(inference.Envelope{Kind: inference.EnvelopeDescription, Content: "a cat"}))
	assert.False(t, c.Record(inference.Envelope{Kind: inference.EnvelopeError, Content: "Error: x"}))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, inference.ActorAssistant, snap[0].Actor)
	assert.Equal(t, inference.KindText, snap[0].Kind)
	assert.Equal(t, inference.KindDescription, snap[1].Kind)
}

func TestConversation_Clear(t *testing.T) {
	c := New(0)
	c.Append(userText("x"))
	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Snapshot())
}

func TestConversation_Concurrent(t *testing.T) {
	c := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Append(userText("m"))
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, c.Len())
}
