package agent

import (
	"fmt"

	"stride/internal/llmclient"
)

// Conversation is the ordered, append-only turn sequence for one loop run.
// It is owned exclusively by that run and never shared across loops.
type Conversation struct {
	turns []llmclient.Message
}

func NewConversation(userInput string) *Conversation {
	c := &Conversation{}
	c.AppendUser(userInput)
	return c
}

func (c *Conversation) AppendUser(text string) {
	c.turns = append(c.turns, llmclient.Message{
		Role:    llmclient.RoleUser,
		Content: []llmclient.ContentBlock{{Type: "text", Text: text}},
	})
}

func (c *Conversation) AppendAssistant(blocks []llmclient.ContentBlock) {
	c.turns = append(c.turns, llmclient.Message{Role: llmclient.RoleAssistant, Content: blocks})
}

// AppendToolResults appends one combined tool-result turn. Results must be
// in the same order as the calls the model made.
func (c *Conversation) AppendToolResults(results []llmclient.ContentBlock) {
	c.turns = append(c.turns, llmclient.Message{Role: llmclient.RoleUser, Content: results})
}

// Messages returns the turns for the next model call.
func (c *Conversation) Messages() []llmclient.Message {
	return c.turns
}

// CheckToolProtocol verifies that every tool_use call id is answered by
// exactly one tool_result in the immediately following turn. A violation
// corrupts the wire protocol; the loop aborts instead of calling the model
// with malformed state.
func (c *Conversation) CheckToolProtocol() error {
	for i, turn := range c.turns {
		if turn.Role != llmclient.RoleAssistant {
			continue
		}
		var callIDs []string
		for _, b := range turn.Content {
			if b.Type == "tool_use" {
				callIDs = append(callIDs, b.ID)
			}
		}
		if len(callIDs) == 0 {
			continue
		}
		if i+1 >= len(c.turns) {
			return fmt.Errorf("turn %d: %d tool calls without a result turn", i, len(callIDs))
		}
		counts := map[string]int{}
		for _, b := range c.turns[i+1].Content {
			if b.Type == "tool_result" {
				counts[b.ToolUseID]++
			}
		}
		for _, id := range callIDs {
			if counts[id] != 1 {
				return fmt.Errorf("turn %d: call %s answered %d times, want exactly 1", i, id, counts[id])
			}
		}
	}
	return nil
}
