package httpapi

import (
	"encoding/json"
	"net/http"

	"nexusd/internal/gateway"
	"nexusd/internal/provider"
	"nexusd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

// errorStatus maps the gateway/provider error taxonomy to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case gateway.IsInvalidRequest(err):
		return http.StatusBadRequest
	case provider.IsNoInstanceAvailable(err):
		return http.StatusServiceUnavailable
	case provider.IsUpstreamUnavailable(err):
		return http.StatusServiceUnavailable
	case provider.IsModelNotFound(err):
		return http.StatusNotFound
	case provider.IsAlreadyLoaded(err):
		return http.StatusConflict
	default:
		// RequestFailed, BinaryNotFound, StartupTimeout and anything unknown
		return http.StatusInternalServerError
	}
}
