package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppendsInOrder(t *testing.T) {
	c := NewConversation("You are the Farming Voice Assistant.")
	c.AddUserTurn("when should I water")
	c.AddAssistantTurn("At dawn.")
	c.AddUserTurn("how much")

	turns := c.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser},
		[]Role{turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role})
	assert.Equal(t, "how much", turns[3].Text)
	assert.False(t, turns[1].At.IsZero())
}

func TestConversationTurnsIsACopy(t *testing.T) {
	c := NewConversation("persona")
	turns := c.Turns()
	turns[0].Text = "changed"

	assert.Equal(t, "persona", c.Turns()[0].Text)
}

func TestConversationWithoutPersona(t *testing.T) {
	c := NewConversation("")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "", c.String())
}

func TestConversationString(t *testing.T) {
	c := NewConversation("Be brief.")
	c.AddUserTurn("hello")
	c.AddAssistantTurn("Hi.")
	c.AddUserTurn("bye")

	assert.Equal(t, "Be brief.\nUser: hello\nAssistant: Hi.\nUser: bye\nAssistant: ", c.String())
}
