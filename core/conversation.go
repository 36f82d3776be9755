package core

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role Role      `json:"role"`           // Who produced the text.
	Text string    `json:"text"`           // Content of the turn.
	At   time.Time `json:"at,omitempty"`   // When the turn was appended.
}

// Conversation is the append-only ordered history sent to the language model
// on every turn. It is never truncated for the lifetime of the process.
type Conversation struct {
	turns []Turn
}

// NewConversation starts a conversation with the given persona as its system
// turn. An empty persona yields a conversation without a system turn.
func NewConversation(persona string) *Conversation {
	c := &Conversation{}
	if persona != "" {
		c.append(RoleSystem, persona)
	}
	return c
}

func (c *Conversation) append(role Role, text string) Turn {
	t := Turn{Role: role, Text: text, At: time.Now()}
	c.turns = append(c.turns, t)
	return t
}

func (c *Conversation) AddUserTurn(text string) Turn {
	return c.append(RoleUser, text)
}

func (c *Conversation) AddAssistantTurn(text string) Turn {
	return c.append(RoleAssistant, text)
}

// Turns returns a copy of the history in order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	return len(c.turns)
}

// String renders the history as a single prompt:
//
//	<persona>
//	User: <transcript>
//	Assistant: <reply>
func (c *Conversation) String() string {
	var b strings.Builder
	for _, t := range c.turns {
		switch t.Role {
		case RoleSystem:
			b.WriteString(t.Text)
		case RoleUser:
			b.WriteString("\nUser: ")
			b.WriteString(t.Text)
			b.WriteString("\nAssistant: ")
		case RoleAssistant:
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
