package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nexusd/pkg/types"
)

// LlamaServer talks to a llama.cpp server over its OpenAI-compatible HTTP
// surface. Used both for spawned engine processes (bound to a local port the
// supervisor picked) and, with a remote base URL, as the proxy engine.
type LlamaServer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLlamaServer builds a provider for a spawned engine listening on the
// given local port.
func NewLlamaServer(host string, port int, model string) *LlamaServer {
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}
	return &LlamaServer{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		model:   model,
		client:  newHTTPClient(),
	}
}

// NewProxy builds a provider that forwards the same call shape to a remote
// OpenAI-compatible inference service.
func NewProxy(baseURL, model string) *LlamaServer {
	return &LlamaServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  newHTTPClient(),
	}
}

// BaseURL returns the engine's root URL, used by reachability probes.
func (p *LlamaServer) BaseURL() string { return p.baseURL }

type completionPayload struct {
	Model         string  `json:"model,omitempty"`
	Prompt        string  `json:"prompt"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	Stream        bool    `json:"stream"`
}

type chatPayload struct {
	Model         string              `json:"model,omitempty"`
	Messages      []types.ChatMessage `json:"messages"`
	MaxTokens     int                 `json:"max_tokens"`
	Temperature   float64             `json:"temperature"`
	TopP          float64             `json:"top_p"`
	TopK          int                 `json:"top_k,omitempty"`
	RepeatPenalty float64             `json:"repeat_penalty,omitempty"`
	Stream        bool                `json:"stream"`
}

type completionReply struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage types.Usage `json:"usage"`
}

func (p *LlamaServer) Complete(ctx context.Context, prompt string, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	payload := completionPayload{
		Model:         p.model,
		Prompt:        prompt,
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		RepeatPenalty: opts.RepeatPenalty,
	}
	start := time.Now()
	var reply completionReply
	if err := postJSON(ctx, p.client, p.baseURL+"/v1/completions", payload, &reply); err != nil {
		return Result{}, err
	}
	if len(reply.Choices) == 0 {
		return Result{}, ErrRequestFailed("engine returned no choices")
	}
	return p.result(reply.Choices[0].Text, reply.Usage, time.Since(start)), nil
}

func (p *LlamaServer) ChatComplete(ctx context.Context, messages []types.ChatMessage, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	payload := chatPayload{
		Model:         p.model,
		Messages:      messages,
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		RepeatPenalty: opts.RepeatPenalty,
	}
	start := time.Now()
	var reply completionReply
	if err := postJSON(ctx, p.client, p.baseURL+"/v1/chat/completions", payload, &reply); err != nil {
		return Result{}, err
	}
	if len(reply.Choices) == 0 {
		return Result{}, ErrRequestFailed("engine returned no choices")
	}
	return p.result(reply.Choices[0].Message.Content, reply.Usage, time.Since(start)), nil
}

func (p *LlamaServer) ListModels(ctx context.Context) ([]string, error) {
	var reply struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := getJSON(ctx, p.client, p.baseURL+"/v1/models", &reply); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(reply.Data))
	for _, m := range reply.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

func (p *LlamaServer) result(text string, usage types.Usage, elapsed time.Duration) Result {
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = approxTokens(text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return Result{
		Text:            text,
		TotalTokens:     usage.TotalTokens,
		TokensPerSecond: tokensPerSecond(usage.TotalTokens, elapsed),
		Usage:           usage,
	}
}
