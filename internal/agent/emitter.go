package agent

import "context"

// EventType matches the outbound stream contract: ordered text chunks and
// contextual progress messages, consumable by any transport.
type EventType string

const (
	EventText     EventType = "text"
	EventProgress EventType = "progress"
)

// Event is one outbound chunk from a running loop.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Emitter receives outbound events during loop execution.
type Emitter interface {
	EmitText(chunk string)
	EmitProgress(stage, message string)
}

type emitterKey struct{}

// WithEmitter attaches an emitter to the context.
func WithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

// EmitterFrom retrieves the emitter from context, or a no-op emitter.
func EmitterFrom(ctx context.Context) Emitter {
	if e, ok := ctx.Value(emitterKey{}).(Emitter); ok {
		return e
	}
	return noopEmitter{}
}

type noopEmitter struct{}

func (noopEmitter) EmitText(string)             {}
func (noopEmitter) EmitProgress(string, string) {}

// ChannelEmitter forwards events to a channel. Text deltas block until the
// consumer accepts them: the ordered chunk stream must arrive complete, so a
// slow consumer applies backpressure to the loop instead of losing chunks.
// Progress events are advisory and are dropped when the buffer is full.
type ChannelEmitter struct {
	Ch chan<- Event
}

func (e *ChannelEmitter) EmitText(chunk string) {
	e.Ch <- Event{Type: EventText, Text: chunk}
}

func (e *ChannelEmitter) EmitProgress(stage, message string) {
	select {
	case e.Ch <- Event{Type: EventProgress, Stage: stage, Message: message}:
	default:
	}
}
