package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nexusd/pkg/types"
)

// Ollama talks to a long-lived local Ollama daemon using its native REST
// surface (/api/generate, /api/chat, /api/tags) and translates it to the
// uniform provider contract.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama builds the daemon engine variant.
func NewOllama(baseURL, model string) *Ollama {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  newHTTPClient(),
	}
}

// BaseURL returns the daemon's root URL, used by reachability probes.
func (p *Ollama) BaseURL() string { return p.baseURL }

type ollamaOptions struct {
	Temperature   float64 `json:"temperature"`
	NumPredict    int     `json:"num_predict"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaReply struct {
	Response string `json:"response"`
	Message  struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	EvalDuration    int64 `json:"eval_duration"` // nanoseconds
}

func toOllamaOptions(opts Options) ollamaOptions {
	return ollamaOptions{
		Temperature:   opts.Temperature,
		NumPredict:    opts.MaxTokens,
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		RepeatPenalty: opts.RepeatPenalty,
	}
}

func (p *Ollama) Complete(ctx context.Context, prompt string, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	req := ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Options: toOllamaOptions(opts),
	}
	start := time.Now()
	var reply ollamaReply
	if err := postJSON(ctx, p.client, p.baseURL+"/api/generate", req, &reply); err != nil {
		return Result{}, err
	}
	return p.result(reply.Response, reply, time.Since(start)), nil
}

func (p *Ollama) ChatComplete(ctx context.Context, messages []types.ChatMessage, opts Options) (Result, error) {
	opts = opts.WithDefaults()
	req := ollamaChatRequest{
		Model:    p.model,
		Messages: messages,
		Options:  toOllamaOptions(opts),
	}
	start := time.Now()
	var reply ollamaReply
	if err := postJSON(ctx, p.client, p.baseURL+"/api/chat", req, &reply); err != nil {
		return Result{}, err
	}
	return p.result(reply.Message.Content, reply, time.Since(start)), nil
}

func (p *Ollama) ListModels(ctx context.Context) ([]string, error) {
	var reply struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(ctx, p.client, p.baseURL+"/api/tags", &reply); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(reply.Models))
	for _, m := range reply.Models {
		out = append(out, m.Name)
	}
	return out, nil
}

func (p *Ollama) result(text string, reply ollamaReply, elapsed time.Duration) Result {
	usage := types.Usage{
		PromptTokens:     reply.PromptEvalCount,
		CompletionTokens: reply.EvalCount,
		TotalTokens:      reply.PromptEvalCount + reply.EvalCount,
	}
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = approxTokens(text)
		usage.TotalTokens = usage.CompletionTokens
	}
	return Result{
		Text:            text,
		TotalTokens:     usage.TotalTokens,
		TokensPerSecond: tokensPerSecond(usage.TotalTokens, elapsed),
		Usage:           usage,
	}
}
