package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"nexusd/pkg/types"
)

// BackendKind identifies which engine variant serves a model instance.
type BackendKind string

const (
	KindSpawned BackendKind = "spawned"
	KindProxy   BackendKind = "proxy"
	KindCLI     BackendKind = "cli"
	KindDaemon  BackendKind = "daemon"
)

// Provider is the uniform capability implemented by every engine variant.
// Implementations must honor context cancellation on all network and
// process calls.
type Provider interface {
	// Complete generates text for a raw prompt.
	Complete(ctx context.Context, prompt string, opts Options) (Result, error)
	// ChatComplete generates the assistant reply for an ordered conversation.
	ChatComplete(ctx context.Context, messages []types.ChatMessage, opts Options) (Result, error)
	// ListModels enumerates the model names the engine can serve.
	ListModels(ctx context.Context) ([]string, error)
}

// Options carries the recognized generation parameters.
// Zero values are replaced by the documented defaults.
type Options struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// Documented option defaults.
const (
	DefaultMaxTokens     = 2048
	DefaultTemperature   = 0.7
	DefaultTopP          = 0.9
	DefaultTopK          = 40
	DefaultRepeatPenalty = 1.1
)

// WithDefaults returns a copy of o with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	if o.TopP <= 0 {
		o.TopP = DefaultTopP
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.RepeatPenalty <= 0 {
		o.RepeatPenalty = DefaultRepeatPenalty
	}
	return o
}

// Result summarizes one completed generation.
type Result struct {
	Text            string
	TokensPerSecond float64
	TotalTokens     int
	Usage           types.Usage
}

// tokensPerSecond derives throughput from token count and elapsed time.
// Returns 0 when elapsed is 0 to avoid division blowups on instant responses.
func tokensPerSecond(totalTokens int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(totalTokens) / secs
}

// approxTokens estimates a token count by splitting on whitespace. Used by
// backends that do not report usage.
func approxTokens(text string) int {
	return len(strings.Fields(text))
}

// newHTTPClient builds the shared client for engine HTTP calls. Timeout stays
// 0 so per-request contexts control deadlines.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// postJSON sends a JSON POST and decodes a 2xx JSON response into out.
// Transport errors map to UpstreamUnavailable, non-2xx to RequestFailed.
func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUpstreamUnavailable(url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ErrRequestFailed(resp.Status + ": " + strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrRequestFailed("decode response: " + err.Error())
	}
	return nil
}

// getJSON issues a GET and decodes a 2xx JSON response into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUpstreamUnavailable(url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ErrRequestFailed(resp.Status + ": " + strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
