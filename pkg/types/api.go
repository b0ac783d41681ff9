package types

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	// Message role: system, user, or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Message content.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// CompletionRequest is the payload for POST /v1/completions.
type CompletionRequest struct {
	// Optional model identifier. If empty, the gateway picks a loaded instance.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Repeat penalty applied by llama-style servers.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
	// If true, render the result as server-sent events.
	Stream bool `json:"stream,omitempty"`
}

// ChatCompletionRequest is the payload for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model         string        `json:"model,omitempty" example:"tinyllama-q4"`
	Messages      []ChatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty" example:"128"`
	Temperature   float64       `json:"temperature,omitempty" example:"0.7"`
	TopP          float64       `json:"top_p,omitempty" example:"0.9"`
	TopK          int           `json:"top_k,omitempty" example:"40"`
	RepeatPenalty float64       `json:"repeat_penalty,omitempty" example:"1.1"`
	Stream        bool          `json:"stream,omitempty"`
}

// Usage carries token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionChoice is one generated completion in a legacy completion response.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// CompletionResponse is the OpenAI-style envelope for POST /v1/completions.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// ChatCompletionChoice is one generated message in a chat completion response.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the OpenAI-style envelope for POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// ModelInfo describes one entry in GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id" example:"tinyllama-q4"`
	Object  string `json:"object" example:"model"`
	Created int64  `json:"created" example:"1700000000"`
	OwnedBy string `json:"owned_by" example:"nexusd"`
}

// ModelList is the envelope for GET /v1/models.
type ModelList struct {
	Object string      `json:"object" example:"list"`
	Data   []ModelInfo `json:"data"`
}

// LoadRequest is the payload for POST /api/models/{modelId}/load.
type LoadRequest struct {
	// Compute device indices to assign; empty means CPU-only.
	GPUIDs []int `json:"gpuIds"`
}

// LoadResponse acknowledges a load or unload operation.
type LoadResponse struct {
	// example: loaded
	Status  string `json:"status" example:"loaded"`
	ModelID string `json:"modelId" example:"tinyllama-q4"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// Whether the configured proxy engine answered the last reachability probe.
	ProxyReachable bool `json:"proxy_reachable"`
	// Whether the configured daemon engine answered the last reachability probe.
	DaemonReachable bool `json:"daemon_reachable"`
	// Uptime of the gateway in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// InstanceStatus summarizes one loaded instance for GET /api/status.
type InstanceStatus struct {
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Backend kind serving this instance (spawned, proxy, cli, daemon).
	// example: spawned
	Backend string `json:"backend" example:"spawned"`
	// Current lifecycle state (loading, ready, error, stopped).
	// example: ready
	State string `json:"state" example:"ready"`
	// Assigned compute device indices; empty means CPU-only.
	DeviceIDs []int `json:"device_ids,omitempty"`
	// TCP port of the spawned engine process, when applicable.
	// example: 30001
	Port int `json:"port,omitempty" example:"30001"`
	// Number of requests currently executing against this instance.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Total requests served since load.
	// example: 42
	TotalRequests uint64 `json:"total_requests" example:"42"`
	// Throughput measured on the most recent completed request.
	// example: 35.2
	TokensPerSecond float64 `json:"tokens_per_second" example:"35.2"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Instances      []InstanceStatus `json:"instances"`
	UptimeSeconds  int64            `json:"uptime_seconds" example:"3600"`
	ServerTimeUnix int64            `json:"server_time_unix" example:"1700000000"`
}
