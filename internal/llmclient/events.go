package llmclient

import "encoding/json"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Tool results travel as user-role turns
// whose blocks are tool_result entries, matching the messages wire protocol.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one content entry inside a turn.
// Type is one of: text, tool_use, tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// StopReason classifies how a model turn ended.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopToolUse         StopReason = "tool_use"
	StopMaxTokens       StopReason = "max_tokens"
	StopSequence        StopReason = "stop_sequence"
	StopContentFiltered StopReason = "content_filtered"
)

// Terminal reports whether the stop reason ends the tool-calling loop.
func (s StopReason) Terminal() bool { return s != StopToolUse }

// StreamEventType tags entries of the stream event union.
type StreamEventType string

const (
	EventTextDelta     StreamEventType = "text_delta"
	EventToolCallStart StreamEventType = "tool_call_start"
	EventToolCallDelta StreamEventType = "tool_call_delta"
	EventToolCallStop  StreamEventType = "tool_call_stop"
	EventTurnComplete  StreamEventType = "turn_complete"
)

// Usage is token accounting for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is the low-level event union produced by StreamClient. Events
// are ephemeral: consumed in order, never persisted.
//
// Field population by type:
//
//	text_delta:       Text
//	tool_call_start:  CallID, ToolName
//	tool_call_delta:  CallID, Fragment (partial JSON, not parseable alone)
//	tool_call_stop:   CallID
//	turn_complete:    StopReason, Content (full assistant turn), Usage
type StreamEvent struct {
	Type StreamEventType

	Text string

	CallID   string
	ToolName string
	Fragment string

	StopReason StopReason
	Content    []ContentBlock
	Usage      Usage
}
