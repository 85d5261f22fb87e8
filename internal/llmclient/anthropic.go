package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicConfig configures the streaming messages client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.anthropic.com/v1",
		Model:   "claude-sonnet-4-5",
		Timeout: 10 * time.Minute,
	}
}

// AnthropicClient implements StreamClient over the SSE messages endpoint.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *AnthropicClient) Name() string { return "Anthropic:" + c.model }

type anthropicRequest struct {
	Model     string     `json:"model"`
	MaxTokens int        `json:"max_tokens"`
	System    string     `json:"system,omitempty"`
	Messages  []Message  `json:"messages"`
	Tools     []ToolSpec `json:"tools,omitempty"`
	Stream    bool       `json:"stream"`
}

// sseEvent covers every wire event shape we care about; unknown event types
// are skipped.
type sseEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// blockState tracks one in-flight content block between start and stop.
type blockState struct {
	kind     string // text or tool_use
	callID   string
	toolName string
	text     strings.Builder
	input    strings.Builder
}

// StreamTurn runs one model turn. Tool-call input arrives as partial JSON
// fragments; they are forwarded verbatim and never parsed here, reassembly
// is the caller's job. The final turn_complete event carries the full
// assistant content and the stop reason.
func (c *AnthropicClient) StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		if err := c.streamTurn(ctx, req, events); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

func (c *AnthropicClient) streamTurn(ctx context.Context, req TurnRequest, events chan<- StreamEvent) error {
	if c.apiKey == "" {
		return NewPermanentError(fmt.Errorf("API key not configured"))
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		Stream:    true,
	})
	if err != nil {
		return NewPermanentError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return NewPermanentError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return NewThrottledError(fmt.Errorf("rate limit exceeded (429)"))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := map[int]*blockState{}
	var order []int
	usage := Usage{}
	stopReason := StopReason("")

	emit := func(ev StreamEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var evt sseEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		if evt.Error != nil {
			return fmt.Errorf("API error: %s", evt.Error.Message)
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_start":
			if evt.ContentBlock == nil {
				continue
			}
			st := &blockState{kind: evt.ContentBlock.Type, callID: evt.ContentBlock.ID, toolName: evt.ContentBlock.Name}
			blocks[evt.Index] = st
			order = append(order, evt.Index)
			if st.kind == "tool_use" {
				if err := emit(StreamEvent{Type: EventToolCallStart, CallID: st.callID, ToolName: st.toolName}); err != nil {
					return err
				}
			}
		case "content_block_delta":
			st := blocks[evt.Index]
			if st == nil || evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				st.text.WriteString(evt.Delta.Text)
				if err := emit(StreamEvent{Type: EventTextDelta, Text: evt.Delta.Text}); err != nil {
					return err
				}
			case "input_json_delta":
				st.input.WriteString(evt.Delta.PartialJSON)
				if err := emit(StreamEvent{Type: EventToolCallDelta, CallID: st.callID, Fragment: evt.Delta.PartialJSON}); err != nil {
					return err
				}
			}
		case "content_block_stop":
			st := blocks[evt.Index]
			if st != nil && st.kind == "tool_use" {
				if err := emit(StreamEvent{Type: EventToolCallStop, CallID: st.callID}); err != nil {
					return err
				}
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				stopReason = StopReason(evt.Delta.StopReason)
			}
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
		case "message_stop":
			return emit(StreamEvent{
				Type:       EventTurnComplete,
				StopReason: stopReason,
				Content:    assembleContent(blocks, order),
				Usage:      usage,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	return fmt.Errorf("stream ended without message_stop")
}

// assembleContent rebuilds the full assistant turn from accumulated blocks.
// Tool input that does not reassemble into valid JSON is normalized to an
// empty object so the turn stays replayable; the caller still sees the raw
// fragments through the delta events and reports the parse failure there.
func assembleContent(blocks map[int]*blockState, order []int) []ContentBlock {
	out := make([]ContentBlock, 0, len(order))
	for _, idx := range order {
		st := blocks[idx]
		if st == nil {
			continue
		}
		switch st.kind {
		case "text":
			out = append(out, ContentBlock{Type: "text", Text: st.text.String()})
		case "tool_use":
			raw := strings.TrimSpace(st.input.String())
			if raw == "" || !json.Valid([]byte(raw)) {
				raw = "{}"
			}
			out = append(out, ContentBlock{
				Type:  "tool_use",
				ID:    st.callID,
				Name:  st.toolName,
				Input: json.RawMessage(raw),
			})
		}
	}
	return out
}
