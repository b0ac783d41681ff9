package types

// Model represents a discoverable quantized model file on disk.
type Model struct {
	// Stable identifier for the model (the file name).
	// example: tinyllama-q4.gguf
	ID string `json:"id" example:"tinyllama-q4.gguf"`
	// Human-friendly name.
	// example: tinyllama-q4.gguf
	Name string `json:"name" example:"tinyllama-q4.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// File size in bytes.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes,omitempty" example:"668788096"`
	// Last modification time in unix seconds.
	// example: 1700000000
	ModifiedUnix int64 `json:"modified_unix,omitempty" example:"1700000000"`
}

// LogEntry is one row of the request log. Entries are immutable once created.
type LogEntry struct {
	// Monotonic sequence id assigned at insert.
	// example: 17
	ID uint64 `json:"id" example:"17"`
	// Completion time in unix milliseconds.
	TimestampMs int64 `json:"timestamp_ms"`
	// Caller classification (e.g., chat, completion).
	// example: chat
	Source string `json:"source" example:"chat"`
	// Prompt or messages summary, truncated for display.
	Prompt string `json:"prompt"`
	// Generated response text, truncated for display.
	Response string `json:"response"`
	// Outcome: Success or Error.
	// example: Success
	Status string `json:"status" example:"Success"`
	// Throughput of this request in tokens per second.
	// example: 35.2
	TokensPerSecond float64 `json:"tokens_per_second" example:"35.2"`
	// Model that served (or failed to serve) the request.
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Wall-clock duration of the provider call in seconds.
	// example: 1.8
	DurationSeconds float64 `json:"duration_seconds" example:"1.8"`
	// Failure message for Error entries.
	Error string `json:"error,omitempty"`
}

// Log entry status values.
const (
	LogStatusSuccess = "Success"
	LogStatusError   = "Error"
)
