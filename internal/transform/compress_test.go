package transform

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"stride/internal/llmclient"
)

type fakeClient struct {
	calls int
	errs  []error
	resp  json.RawMessage
}

func (f *fakeClient) Name() string                { return "fake" }
func (f *fakeClient) Close() error                { return nil }
func (f *fakeClient) CountTokens(text string) int { return len(text) / 4 }
func (f *fakeClient) TokenCapacity() int          { return 100000 }
func (f *fakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.resp, nil
}

func throttled() error {
	return llmclient.NewThrottledError(errors.New("429 too many requests"))
}

func TestCompress_SmallContentPassesThrough(t *testing.T) {
	c := &Compressor{Client: &fakeClient{}}
	out, err := c.Compress(context.Background(), "short", 100)
	if err != nil || out != "short" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestCompress_PrimaryPath(t *testing.T) {
	c := &Compressor{Client: &fakeClient{resp: json.RawMessage(`{"compressed":"tight"}`)}}
	out, err := c.Compress(context.Background(), strings.Repeat("x", 500), 100)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out != "tight" {
		t.Fatalf("got %q", out)
	}
}

func TestCompress_FiveThrottlesFallsBackToTruncation(t *testing.T) {
	client := &fakeClient{errs: []error{
		throttled(), throttled(), throttled(), throttled(), throttled(),
	}}
	var slept []time.Duration
	c := &Compressor{
		Client: client,
		Sleep:  func(d time.Duration) { slept = append(slept, d) },
	}

	content := strings.Repeat("a", 1000)
	out, err := c.Compress(context.Background(), content, 200)
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if len(out) > 200 {
		t.Fatalf("output %d bytes exceeds target 200", len(out))
	}
	if client.calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", client.calls)
	}
	want := []time.Duration{30 * time.Second, 90 * time.Second, 180 * time.Second, 300 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("backoff %d = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestCompress_NonThrottlingErrorSkipsRetries(t *testing.T) {
	client := &fakeClient{errs: []error{errors.New("model unavailable")}}
	var slept []time.Duration
	c := &Compressor{
		Client: client,
		Sleep:  func(d time.Duration) { slept = append(slept, d) },
	}
	out, err := c.Compress(context.Background(), strings.Repeat("b", 400), 100)
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if len(out) > 100 {
		t.Fatalf("output exceeds target: %d", len(out))
	}
	if client.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", client.calls)
	}
	if len(slept) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", slept)
	}
}

func TestCompress_OversizedModelOutputTruncated(t *testing.T) {
	// Model ignores the budget; the helper must not trust it.
	big, _ := json.Marshal(map[string]string{"compressed": strings.Repeat("c", 500)})
	c := &Compressor{Client: &fakeClient{resp: big}}
	out, err := c.Compress(context.Background(), strings.Repeat("c", 1000), 100)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out) > 100 {
		t.Fatalf("oversized model output accepted: %d bytes", len(out))
	}
}

func TestCompress_CallerBugs(t *testing.T) {
	c := &Compressor{Client: &fakeClient{}}
	if _, err := c.Compress(context.Background(), "x", 0); err == nil {
		t.Fatal("expected error for non-positive target")
	}
	nilClient := &Compressor{}
	if _, err := nilClient.Compress(context.Background(), "x", 10); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("small content modified: %q", got)
	}
	long := strings.Repeat("d", 1000)
	got := Truncate(long, 100)
	if len(got) > 100 {
		t.Fatalf("truncation exceeds target: %d", len(got))
	}
	// Multi-byte runes are never split.
	unicodeContent := strings.Repeat("日本語テキスト", 100)
	got = Truncate(unicodeContent, 50)
	if len(got) > 50 {
		t.Fatalf("unicode truncation exceeds target: %d", len(got))
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation split a rune")
		}
	}
}
