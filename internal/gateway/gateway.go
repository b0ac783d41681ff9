// Package gateway translates inference requests into registry lookups and
// provider calls, and records every outcome in the request log.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
	"nexusd/internal/registry"
	"nexusd/internal/reqlog"
	"nexusd/pkg/types"
)

// summaryLimit bounds prompt/response text stored in the request log.
const summaryLimit = 500

// Gateway orchestrates instance selection, request accounting and logging
// around each provider call.
type Gateway struct {
	reg *registry.Registry
	rl  *reqlog.Log
	log zerolog.Logger
}

// New builds a Gateway over the registry and request log.
func New(reg *registry.Registry, rl *reqlog.Log, log zerolog.Logger) *Gateway {
	return &Gateway{reg: reg, rl: rl, log: log.With().Str("component", "gateway").Logger()}
}

// invalidRequestError maps to 400 in the HTTP layer.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalidRequestError.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err is a request validation failure.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// ChatComplete serves POST /v1/chat/completions.
func (g *Gateway) ChatComplete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return types.ChatCompletionResponse{}, ErrInvalidRequest("messages must be a non-empty list")
	}
	for _, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			return types.ChatCompletionResponse{}, ErrInvalidRequest("each message requires role and content")
		}
	}
	opts := optionsFrom(req.MaxTokens, req.Temperature, req.TopP, req.TopK, req.RepeatPenalty)
	summary := truncate(req.Messages[len(req.Messages)-1].Content, summaryLimit)

	res, modelID, err := g.run(ctx, "chat", summary, func(ctx context.Context, p provider.Provider) (provider.Result, error) {
		return p.ChatComplete(ctx, req.Messages, opts)
	})
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}
	return types.ChatCompletionResponse{
		ID:      requestID("chatcmpl"),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelID,
		Choices: []types.ChatCompletionChoice{{
			Message:      types.ChatMessage{Role: "assistant", Content: strings.TrimSpace(res.Text)},
			FinishReason: "stop",
		}},
		Usage: res.Usage,
	}, nil
}

// Complete serves POST /v1/completions.
func (g *Gateway) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.CompletionResponse{}, ErrInvalidRequest("prompt must not be empty")
	}
	opts := optionsFrom(req.MaxTokens, req.Temperature, req.TopP, req.TopK, req.RepeatPenalty)
	summary := truncate(req.Prompt, summaryLimit)

	res, modelID, err := g.run(ctx, "completion", summary, func(ctx context.Context, p provider.Provider) (provider.Result, error) {
		return p.Complete(ctx, req.Prompt, opts)
	})
	if err != nil {
		return types.CompletionResponse{}, err
	}
	return types.CompletionResponse{
		ID:      requestID("cmpl"),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   modelID,
		Choices: []types.CompletionChoice{{
			Text:         res.Text,
			FinishReason: "stop",
		}},
		Usage: res.Usage,
	}, nil
}

// run selects an instance, pairs Begin with an unconditional End, measures
// the provider call and appends the log entry for either outcome.
func (g *Gateway) run(ctx context.Context, source, summary string, call func(context.Context, provider.Provider) (provider.Result, error)) (provider.Result, string, error) {
	lease, err := g.reg.Select()
	if err != nil {
		g.logEntry(source, summary, "", provider.Result{}, 0, err)
		return provider.Result{}, "", err
	}

	g.reg.Begin(lease.ModelID)
	start := time.Now()
	res, err := call(ctx, lease.Provider)
	elapsed := time.Since(start)
	g.reg.End(lease.ModelID, res.TokensPerSecond, err == nil)

	g.logEntry(source, summary, lease.ModelID, res, elapsed, err)
	if err != nil {
		g.log.Error().Str("model", lease.ModelID).Err(err).Msg("inference failed")
		return provider.Result{}, lease.ModelID, err
	}
	g.log.Info().
		Str("model", lease.ModelID).
		Int("tokens", res.TotalTokens).
		Float64("tok_per_sec", res.TokensPerSecond).
		Dur("elapsed", elapsed).
		Msg("inference complete")
	return res, lease.ModelID, nil
}

func (g *Gateway) logEntry(source, summary, modelID string, res provider.Result, elapsed time.Duration, err error) {
	e := types.LogEntry{
		TimestampMs:     time.Now().UnixMilli(),
		Source:          source,
		Prompt:          summary,
		ModelID:         modelID,
		DurationSeconds: elapsed.Seconds(),
	}
	if err != nil {
		e.Status = types.LogStatusError
		e.Error = err.Error()
	} else {
		e.Status = types.LogStatusSuccess
		e.Response = truncate(res.Text, summaryLimit)
		e.TokensPerSecond = res.TokensPerSecond
	}
	g.rl.Add(e)
}

func optionsFrom(maxTokens int, temperature, topP float64, topK int, repeatPenalty float64) provider.Options {
	return provider.Options{
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		TopP:          topP,
		TopK:          topK,
		RepeatPenalty: repeatPenalty,
	}.WithDefaults()
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func requestID(prefix string) string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
