package llm

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"stride/internal/llmclient"
)

// WithLogging logs request size, duration, and errors per structured call.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next llmclient.Client) llmclient.Client {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next llmclient.Client
	log  *zap.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }
func (l *logging) CountTokens(text string) int {
	return l.next.CountTokens(text)
}
func (l *logging) TokenCapacity() int { return l.next.TokenCapacity() }

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	start := time.Now()
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	if err != nil {
		l.log.Warn("llm call failed",
			zap.String("client", l.next.Name()),
			zap.Int("request_bytes", len(prompt)+len(in)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	l.log.Debug("llm call",
		zap.String("client", l.next.Name()),
		zap.Int("request_bytes", len(prompt)+len(in)),
		zap.Int("response_bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)))
	return raw, nil
}
