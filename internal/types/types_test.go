package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_AddReaction(t *testing.T) {
	t.Run("adding the same pair twice yields the same set", func(t *testing.T) {
		once := &Message{Id: "m1"}
		twice := &Message{Id: "m1"}

		assert.True(t, once.AddReaction(":+1:", "u1"))
		assert.True(t, twice.AddReaction(":+1:", "u1"))
		assert.False(t, twice.AddReaction(":+1:", "u1"), "expected second add to be a no-op")

		assert.Equal(t, once.Reactions, twice.Reactions)
		assert.Equal(t, 1, twice.FindReaction(":+1:").Count())
	})

	t.Run("count follows distinct users", func(t *testing.T) {
		m := &Message{Id: "m1"}
		m.AddReaction(":tada:", "u1")
		m.AddReaction(":tada:", "u2")
		m.AddReaction(":tada:", "u2")
		m.AddReaction(":eyes:", "u1")

		for _, r := range m.Reactions {
			assert.Equal(t, len(r.Users), r.Count(), "count for %s", r.Emoji)
		}
		assert.Equal(t, 2, m.FindReaction(":tada:").Count())
		assert.Equal(t, 1, m.FindReaction(":eyes:").Count())
	})
}

func TestMessage_RemoveReaction(t *testing.T) {
	m := &Message{Id: "m1"}
	m.AddReaction(":tada:", "u1")
	m.AddReaction(":tada:", "u2")

	assert.False(t, m.RemoveReaction(":tada:", "u3"), "expected removing an absent user to be a no-op")
	assert.False(t, m.RemoveReaction(":eyes:", "u1"), "expected removing an absent emoji to be a no-op")

	assert.True(t, m.RemoveReaction(":tada:", "u1"))
	assert.Equal(t, []string{"u2"}, m.FindReaction(":tada:").Users)

	assert.True(t, m.RemoveReaction(":tada:", "u2"))
	assert.Empty(t, m.Reactions, "expected reaction to be dropped once its user set is empty")
	assert.Equal(t, 0, m.FindReaction(":tada:").Count())
}

func TestReaction_MarshalJSON(t *testing.T) {
	bytes, err := json.Marshal(Reaction{Emoji: ":+1:", Users: []string{"u1", "u2"}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes, &decoded))
	assert.Equal(t, float64(2), decoded["count"])
	assert.Equal(t, ":+1:", decoded["emoji"])

	bytes, err = json.Marshal(Reaction{Emoji: ":+1:"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"emoji":":+1:","users":[],"count":0}`, string(bytes))
}
