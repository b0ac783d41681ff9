package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nexusd/pkg/types"
)

// InferenceService is the gateway surface the OpenAI endpoints call.
type InferenceService interface {
	ChatComplete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error)
	Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error)
}

// ModelService is the registry surface the management endpoints call.
type ModelService interface {
	Models() []types.Model
	Load(ctx context.Context, modelID string, deviceIDs []int) error
	Unload(modelID string) error
	StopAll()
	Snapshot() []types.InstanceStatus
	Ready() bool
}

// LogService reads the request log.
type LogService interface {
	Recent(k int) []types.LogEntry
}

// ReachabilityService exposes the background health monitor's flags.
type ReachabilityService interface {
	ProxyReachable() bool
	DaemonReachable() bool
}

// Deps wires the mux to the services behind it.
type Deps struct {
	Inference InferenceService
	Models    ModelService
	Logs      LogService
	Reach     ReachabilityService
	Log       zerolog.Logger

	// BaseCtx is canceled on shutdown so in-flight provider calls stop.
	BaseCtx context.Context

	CORSEnabled bool
	CORSOrigins []string
}

// maxBodyBytes is the maximum allowed request body size for JSON endpoints.
const maxBodyBytes = 1 << 20

// NewMux builds the gateway's HTTP surface.
func NewMux(d Deps) http.Handler {
	if d.BaseCtx == nil {
		d.BaseCtx = context.Background()
	}
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(requestLogger(d.Log))
	if d.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ctx, cancel := joinContexts(d.BaseCtx, r.Context())
		defer cancel()
		resp, err := d.Inference.ChatComplete(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || d.BaseCtx.Err() != nil {
				return
			}
			writeJSONError(w, errorStatus(err), err.Error())
			return
		}
		if req.Stream {
			streamChat(w, resp)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.CompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ctx, cancel := joinContexts(d.BaseCtx, r.Context())
		defer cancel()
		resp, err := d.Inference.Complete(ctx, req)
		if err != nil {
			if r.Context().Err() != nil || d.BaseCtx.Err() != nil {
				return
			}
			writeJSONError(w, errorStatus(err), err.Error())
			return
		}
		if req.Stream {
			streamCompletion(w, resp)
			return
		}
		writeJSON(w, resp)
	})

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		models := d.Models.Models()
		out := types.ModelList{Object: "list", Data: make([]types.ModelInfo, 0, len(models))}
		for _, m := range models {
			out.Data = append(out.Data, types.ModelInfo{
				ID:      m.ID,
				Object:  "model",
				Created: m.ModifiedUnix,
				OwnedBy: "nexusd",
			})
		}
		writeJSON(w, out)
	})

	r.Post("/api/models/{modelID}/load", func(w http.ResponseWriter, r *http.Request) {
		modelID := chi.URLParam(r, "modelID")
		var req types.LoadRequest
		// body is optional: an empty body means CPU-only
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := d.Models.Load(r.Context(), modelID, req.GPUIDs); err != nil {
			writeJSONError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, types.LoadResponse{Status: "loaded", ModelID: modelID})
	})

	r.Post("/api/models/{modelID}/unload", func(w http.ResponseWriter, r *http.Request) {
		modelID := chi.URLParam(r, "modelID")
		if err := d.Models.Unload(modelID); err != nil {
			writeJSONError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, types.LoadResponse{Status: "unloaded", ModelID: modelID})
	})

	r.Post("/v1/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		d.Models.StopAll()
		writeJSON(w, map[string]string{"status": "cleared"})
	})

	r.Get("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Logs.Recent(100))
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.StatusResponse{
			Instances:      d.Models.Snapshot(),
			UptimeSeconds:  int64(time.Since(started).Seconds()),
			ServerTimeUnix: time.Now().Unix(),
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.HealthResponse{
			Status:          "ok",
			ProxyReachable:  d.Reach.ProxyReachable(),
			DaemonReachable: d.Reach.DaemonReachable(),
			UptimeSeconds:   int64(time.Since(started).Seconds()),
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Models.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		writeJSONError(w, http.StatusServiceUnavailable, "no ready instances")
	})

	r.Handle("/metrics", promhttp.Handler())
	MountSwagger(r)
	return r
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: 200}
			start := time.Now()
			next.ServeHTTP(sr, r)
			ev := log.Info()
			if sr.status >= 500 {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Msg("http request")
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// streamChat renders a completed chat response as server-sent events: one
// delta chunk per line of content, then a finish chunk and [DONE].
func streamChat(w http.ResponseWriter, resp types.ChatCompletionResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flush := flusherFor(w)

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	for _, chunk := range splitChunks(content) {
		writeSSE(w, map[string]any{
			"id":      resp.ID,
			"object":  "chat.completion.chunk",
			"created": resp.Created,
			"model":   resp.Model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": chunk}}},
		})
		flush()
	}
	writeSSE(w, map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion.chunk",
		"created": resp.Created,
		"model":   resp.Model,
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{}, "finish_reason": "stop"}},
	})
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}

// streamCompletion renders a completed legacy completion as server-sent events.
func streamCompletion(w http.ResponseWriter, resp types.CompletionResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flush := flusherFor(w)

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Text
	}
	for _, chunk := range splitChunks(text) {
		writeSSE(w, map[string]any{
			"id":      resp.ID,
			"object":  "text_completion.chunk",
			"created": resp.Created,
			"model":   resp.Model,
			"choices": []map[string]any{{"index": 0, "text": chunk}},
		})
		flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}

func writeSSE(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}

func flusherFor(w http.ResponseWriter) func() {
	if f, ok := w.(http.Flusher); ok {
		return f.Flush
	}
	return func() {}
}

// splitChunks breaks text into word-boundary chunks for SSE emission.
func splitChunks(text string) []string {
	if text == "" {
		return nil
	}
	words := strings.SplitAfter(text, " ")
	const perChunk = 8
	var chunks []string
	for i := 0; i < len(words); i += perChunk {
		end := i + perChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], ""))
	}
	return chunks
}
