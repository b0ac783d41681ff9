package provider

// binaryNotFoundError signals a missing engine binary so a load can fail
// without touching the registry.
type binaryNotFoundError struct{ path string }

func (e binaryNotFoundError) Error() string { return "engine binary not found: " + e.path }

// ErrBinaryNotFound constructs a binaryNotFoundError.
func ErrBinaryNotFound(path string) error { return binaryNotFoundError{path: path} }

// IsBinaryNotFound reports whether err indicates a missing engine binary.
func IsBinaryNotFound(err error) bool {
	_, ok := err.(binaryNotFoundError)
	return ok
}

// upstreamUnavailableError signals an unreachable proxy or daemon engine
// so the HTTP layer can return 503 instead of 500.
type upstreamUnavailableError struct {
	target string
	cause  error
}

func (e upstreamUnavailableError) Error() string {
	if e.cause != nil {
		return "upstream unavailable: " + e.target + ": " + e.cause.Error()
	}
	return "upstream unavailable: " + e.target
}

func (e upstreamUnavailableError) Unwrap() error { return e.cause }

// ErrUpstreamUnavailable constructs an upstreamUnavailableError.
func ErrUpstreamUnavailable(target string, cause error) error {
	return upstreamUnavailableError{target: target, cause: cause}
}

// IsUpstreamUnavailable reports whether err indicates an unreachable engine.
func IsUpstreamUnavailable(err error) bool {
	_, ok := err.(upstreamUnavailableError)
	return ok
}

// requestFailedError signals a non-success response from an engine.
type requestFailedError struct{ msg string }

func (e requestFailedError) Error() string { return "request failed: " + e.msg }

// ErrRequestFailed constructs a requestFailedError carrying the upstream message.
func ErrRequestFailed(msg string) error { return requestFailedError{msg: msg} }

// IsRequestFailed reports whether err is a non-success engine response.
func IsRequestFailed(err error) bool {
	_, ok := err.(requestFailedError)
	return ok
}

// startupTimeoutError signals that a spawned engine never emitted its
// readiness marker within the allowed window.
type startupTimeoutError struct{ modelID string }

func (e startupTimeoutError) Error() string { return "engine startup timed out: " + e.modelID }

// ErrStartupTimeout constructs a startupTimeoutError.
func ErrStartupTimeout(modelID string) error { return startupTimeoutError{modelID: modelID} }

// IsStartupTimeout reports whether err indicates a readiness timeout.
func IsStartupTimeout(err error) bool {
	_, ok := err.(startupTimeoutError)
	return ok
}

// noInstanceAvailableError signals an empty ready set at selection time.
type noInstanceAvailableError struct{}

func (noInstanceAvailableError) Error() string {
	return "No models currently loaded. Please load a model first."
}

// ErrNoInstanceAvailable constructs a noInstanceAvailableError.
func ErrNoInstanceAvailable() error { return noInstanceAvailableError{} }

// IsNoInstanceAvailable reports whether err indicates zero ready instances.
func IsNoInstanceAvailable(err error) bool {
	_, ok := err.(noInstanceAvailableError)
	return ok
}

// alreadyLoadedError rejects a duplicate load for a model that is loading or ready.
type alreadyLoadedError struct{ id string }

func (e alreadyLoadedError) Error() string { return "model already loading or loaded: " + e.id }

// ErrAlreadyLoaded constructs an alreadyLoadedError.
func ErrAlreadyLoaded(id string) error { return alreadyLoadedError{id: id} }

// IsAlreadyLoaded reports whether err rejects a duplicate load.
func IsAlreadyLoaded(err error) bool {
	_, ok := err.(alreadyLoadedError)
	return ok
}

// modelNotFoundError signals a model id with no registry entry or model file.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether err indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}
