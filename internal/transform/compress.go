// Package transform shrinks oversized payloads to a byte budget. The primary
// path asks the model for a semantic compression; under throttling it backs
// off on a fixed schedule and finally degrades to deterministic truncation,
// so the caller is never blocked indefinitely and the budget always holds.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"stride/internal/llmclient"
)

// DefaultSchedule is the backoff between throttled attempts. The first call
// is immediate; one retry follows each entry.
var DefaultSchedule = []time.Duration{
	30 * time.Second,
	90 * time.Second,
	180 * time.Second,
	300 * time.Second,
}

const compressPrompt = `Compress the following content so it keeps its meaning
but fits within the given character budget. Prefer dropping redundancy and
examples over dropping facts. Respond as JSON: {"compressed": "<content>"}.`

// Compressor is the two-tier (smart-then-dumb) compression helper.
type Compressor struct {
	Client llmclient.Client
	Log    *zap.Logger

	// Schedule overrides DefaultSchedule; Sleep overrides time.Sleep.
	// Both exist for tests.
	Schedule []time.Duration
	Sleep    func(time.Duration)
}

// Compress returns content shrunk to at most targetSize bytes. It returns an
// error only for caller bugs (nil client, non-positive target); every
// runtime failure degrades to truncation instead.
func (c *Compressor) Compress(ctx context.Context, content string, targetSize int) (string, error) {
	if c.Client == nil {
		return "", fmt.Errorf("transform: nil client")
	}
	if targetSize <= 0 {
		return "", fmt.Errorf("transform: target size must be positive, got %d", targetSize)
	}
	if len(content) <= targetSize {
		return content, nil
	}

	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	schedule := c.Schedule
	if schedule == nil {
		schedule = DefaultSchedule
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	input := map[string]any{
		"budget_chars": targetSize,
		"content":      content,
	}
	for attempt := 0; ; attempt++ {
		raw, err := c.Client.GenerateJSON(ctx, compressPrompt, input)
		if err == nil {
			if out, ok := decodeCompressed(raw); ok && len(out) <= targetSize {
				return out, nil
			}
			log.Warn("compression result unusable, truncating",
				zap.Int("target", targetSize))
			break
		}
		if !llmclient.IsThrottled(err) {
			// Non-throttling failures do not earn retries.
			log.Warn("compression failed, truncating", zap.Error(err))
			break
		}
		if attempt >= len(schedule) {
			log.Warn("compression retries exhausted, truncating",
				zap.Int("attempts", attempt+1))
			break
		}
		log.Info("compression throttled, backing off",
			zap.Duration("delay", schedule[attempt]),
			zap.Int("attempt", attempt+1))
		sleep(schedule[attempt])
	}
	return Truncate(content, targetSize), nil
}

func decodeCompressed(raw json.RawMessage) (string, bool) {
	var out struct {
		Compressed string `json:"compressed"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Compressed == "" {
		return "", false
	}
	return out.Compressed, true
}

// Truncate cuts content to at most target bytes with a safety margin,
// backing up over a split multi-byte rune. The result is re-validated
// against the target rather than assumed correct.
func Truncate(content string, target int) string {
	if target <= 0 {
		return ""
	}
	if len(content) <= target {
		return content
	}
	margin := target / 20
	cut := target - margin
	if cut <= 0 {
		cut = target
	}
	out := content[:cut]
	for len(out) > 0 && !utf8.ValidString(out) {
		out = out[:len(out)-1]
	}
	if len(out) > target {
		out = out[:target]
	}
	return out
}
