package gateway

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
	"nexusd/internal/registry"
	"nexusd/internal/reqlog"
	"nexusd/internal/supervisor"
	"nexusd/pkg/types"
)

// scriptedProvider returns a fixed result or error for every call.
type scriptedProvider struct {
	text string
	err  error
}

func (s *scriptedProvider) Complete(ctx context.Context, prompt string, opts provider.Options) (provider.Result, error) {
	if s.err != nil {
		return provider.Result{}, s.err
	}
	return provider.Result{Text: s.text, TotalTokens: 3, TokensPerSecond: 30, Usage: types.Usage{TotalTokens: 3}}, nil
}

func (s *scriptedProvider) ChatComplete(ctx context.Context, msgs []types.ChatMessage, opts provider.Options) (provider.Result, error) {
	return s.Complete(ctx, "", opts)
}

func (s *scriptedProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

type scriptedStarter struct{ prov provider.Provider }

func (s *scriptedStarter) Start(ctx context.Context, m types.Model, deviceIDs []int, onExit func(err error)) (provider.Provider, *supervisor.Process, error) {
	return s.prov, nil, nil
}

func newTestGateway(t *testing.T, prov provider.Provider, load bool) (*Gateway, *reqlog.Log, *registry.Registry) {
	t.Helper()
	reg := registry.New([]types.Model{{ID: "m1", Path: "/models/m1.gguf"}}, &scriptedStarter{prov: prov}, zerolog.Nop())
	if load {
		if err := reg.Load(context.Background(), "m1", nil); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	rl := reqlog.New(10)
	return New(reg, rl, zerolog.Nop()), rl, reg
}

func TestChatCompleteSuccess(t *testing.T) {
	g, rl, reg := newTestGateway(t, &scriptedProvider{text: "  hello world  "}, true)
	resp, err := g.ChatComplete(context.Background(), types.ChatCompletionRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") || resp.Object != "chat.completion" {
		t.Fatalf("bad envelope: %+v", resp)
	}
	if resp.Model != "m1" {
		t.Fatalf("model id not set: %+v", resp)
	}
	if got := resp.Choices[0].Message.Content; got != "hello world" {
		t.Fatalf("text not trimmed: %q", got)
	}
	if resp.Choices[0].FinishReason != "stop" || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("bad choice: %+v", resp.Choices[0])
	}

	entries := rl.Recent(0)
	if len(entries) != 1 || entries[0].Status != types.LogStatusSuccess {
		t.Fatalf("expected one success log entry, got %+v", entries)
	}
	if entries[0].Source != "chat" || entries[0].ModelID != "m1" {
		t.Fatalf("log entry fields: %+v", entries[0])
	}
	if reg.Snapshot()[0].Inflight != 0 {
		t.Fatal("inflight must return to zero")
	}
}

func TestCompleteSuccess(t *testing.T) {
	g, _, _ := newTestGateway(t, &scriptedProvider{text: "out"}, true)
	resp, err := g.Complete(context.Background(), types.CompletionRequest{Prompt: "in"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "cmpl-") || resp.Object != "text_completion" {
		t.Fatalf("bad envelope: %+v", resp)
	}
	if resp.Choices[0].Text != "out" {
		t.Fatalf("unexpected text %q", resp.Choices[0].Text)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Fatalf("usage not carried: %+v", resp.Usage)
	}
}

func TestChatCompleteValidation(t *testing.T) {
	g, rl, _ := newTestGateway(t, &scriptedProvider{}, true)
	cases := []types.ChatCompletionRequest{
		{},
		{Messages: []types.ChatMessage{{Role: "", Content: "x"}}},
		{Messages: []types.ChatMessage{{Role: "user", Content: ""}}},
	}
	for i, req := range cases {
		if _, err := g.ChatComplete(context.Background(), req); !IsInvalidRequest(err) {
			t.Fatalf("case %d: expected invalid-request, got %v", i, err)
		}
	}
	// validation failures never reach selection, so nothing is logged
	if rl.Len() != 0 {
		t.Fatalf("validation failures must not be logged, got %d entries", rl.Len())
	}
}

func TestCompleteValidation(t *testing.T) {
	g, _, _ := newTestGateway(t, &scriptedProvider{}, true)
	if _, err := g.Complete(context.Background(), types.CompletionRequest{Prompt: "   "}); !IsInvalidRequest(err) {
		t.Fatalf("expected invalid-request for blank prompt, got %v", err)
	}
}

func TestNoInstanceAvailable(t *testing.T) {
	g, rl, _ := newTestGateway(t, &scriptedProvider{}, false)
	_, err := g.ChatComplete(context.Background(), types.ChatCompletionRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if !provider.IsNoInstanceAvailable(err) {
		t.Fatalf("expected no-instance-available, got %v", err)
	}
	entries := rl.Recent(0)
	if len(entries) != 1 || entries[0].Status != types.LogStatusError || entries[0].ModelID != "" {
		t.Fatalf("selection failure must be logged with empty model, got %+v", entries)
	}
}

func TestProviderFailureLoggedAndAccounted(t *testing.T) {
	g, rl, reg := newTestGateway(t, &scriptedProvider{err: provider.ErrRequestFailed("boom")}, true)
	_, err := g.Complete(context.Background(), types.CompletionRequest{Prompt: "x"})
	if !provider.IsRequestFailed(err) {
		t.Fatalf("expected request-failed, got %v", err)
	}
	entries := rl.Recent(0)
	if len(entries) != 1 || entries[0].Status != types.LogStatusError {
		t.Fatalf("expected error log entry, got %+v", entries)
	}
	if !strings.Contains(entries[0].Error, "boom") {
		t.Fatalf("error text missing: %+v", entries[0])
	}
	snap := reg.Snapshot()
	if snap[0].Inflight != 0 {
		t.Fatal("inflight must return to zero after failure")
	}
	if snap[0].TotalRequests != 0 {
		t.Fatal("failed requests must not count toward totals")
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// the byte limit lands inside the first multi-byte rune
	s := strings.Repeat("a", summaryLimit-2) + "日本語"
	got := truncate(s, summaryLimit)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated summary is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing ellipsis: %q", got)
	}
	if len(got) > summaryLimit+3 {
		t.Fatalf("summary too long: %d bytes", len(got))
	}
	if strings.ContainsRune(got, '日') {
		t.Fatalf("partial rune should have been dropped entirely: %q", got)
	}
}

func TestTruncateLongPrompt(t *testing.T) {
	g, rl, _ := newTestGateway(t, &scriptedProvider{text: "ok"}, true)
	long := strings.Repeat("a", summaryLimit+100)
	if _, err := g.Complete(context.Background(), types.CompletionRequest{Prompt: long}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	entry := rl.Recent(1)[0]
	if len(entry.Prompt) != summaryLimit+3 || !strings.HasSuffix(entry.Prompt, "...") {
		t.Fatalf("prompt not truncated: len=%d", len(entry.Prompt))
	}
}
