package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
	"nexusd/internal/supervisor"
	"nexusd/pkg/types"
)

type fakeProvider struct{ id string }

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts provider.Options) (provider.Result, error) {
	return provider.Result{Text: "ok"}, nil
}

func (f *fakeProvider) ChatComplete(ctx context.Context, msgs []types.ChatMessage, opts provider.Options) (provider.Result, error) {
	return provider.Result{Text: "ok"}, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{f.id}, nil
}

// fakeStarter counts starts and optionally fails, blocks, or reports an
// immediate process death before returning.
type fakeStarter struct {
	mu      sync.Mutex
	starts  int32
	failErr error
	block   chan struct{} // when set, Start waits until closed
	exitErr error         // when set, onExit fires before Start returns
	onExits map[string]func(error)
}

func (f *fakeStarter) Start(ctx context.Context, m types.Model, deviceIDs []int, onExit func(err error)) (provider.Provider, *supervisor.Process, error) {
	atomic.AddInt32(&f.starts, 1)
	if f.block != nil {
		<-f.block
	}
	if f.failErr != nil {
		return nil, nil, f.failErr
	}
	f.mu.Lock()
	if f.onExits == nil {
		f.onExits = make(map[string]func(error))
	}
	f.onExits[m.ID] = onExit
	f.mu.Unlock()
	if f.exitErr != nil {
		onExit(f.exitErr)
	}
	return &fakeProvider{id: m.ID}, nil, nil
}

func (f *fakeStarter) Kind() provider.BackendKind { return provider.KindProxy }

func (f *fakeStarter) exit(modelID string, err error) {
	f.mu.Lock()
	cb := f.onExits[modelID]
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func catalog(ids ...string) []types.Model {
	out := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Model{ID: id, Name: id, Path: "/models/" + id + ".gguf"})
	}
	return out
}

func newTestRegistry(st Starter, ids ...string) *Registry {
	return New(catalog(ids...), st, zerolog.Nop())
}

func TestLoadUnknownModel(t *testing.T) {
	r := newTestRegistry(&fakeStarter{}, "a")
	err := r.Load(context.Background(), "nope", nil)
	if !provider.IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("registry should be empty after failed load")
	}
}

func TestLoadAndSelect(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", []int{0, 1}); err != nil {
		t.Fatalf("load: %v", err)
	}
	lease, err := r.Select()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if lease.ModelID != "a" || lease.Provider == nil {
		t.Fatalf("unexpected lease %+v", lease)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].State != string(StatusReady) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap[0].DeviceIDs[0] != 0 || snap[0].DeviceIDs[1] != 1 {
		t.Fatalf("device ids not recorded: %+v", snap[0])
	}
	if snap[0].Backend != string(provider.KindProxy) {
		t.Fatalf("backend kind not recorded: %+v", snap[0])
	}
}

func TestConcurrentLoadSameModel(t *testing.T) {
	st := &fakeStarter{block: make(chan struct{})}
	r := newTestRegistry(st, "a")

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Load(context.Background(), "a", nil)
		}()
	}
	close(st.block)
	wg.Wait()
	close(errs)

	var okCount, dupCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case provider.IsAlreadyLoaded(err):
			dupCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || dupCount != n-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d/%d", n-1, okCount, dupCount)
	}
	if got := atomic.LoadInt32(&st.starts); got != 1 {
		t.Fatalf("expected exactly 1 backend start, got %d", got)
	}
	if len(r.Snapshot()) != 1 {
		t.Fatalf("expected exactly 1 instance")
	}
}

func TestLoadFailureLeavesRegistryUnchanged(t *testing.T) {
	st := &fakeStarter{failErr: provider.ErrBinaryNotFound("llama-server")}
	r := newTestRegistry(st, "a")
	err := r.Load(context.Background(), "a", nil)
	if !provider.IsBinaryNotFound(err) {
		t.Fatalf("expected binary-not-found, got %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("failed load must not leave an entry")
	}
	// a retry after fixing the problem succeeds
	st.failErr = nil
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("retry load: %v", err)
	}
}

func TestSelectLeastInflight(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a", "b")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load a: %v", err)
	}
	if err := r.Load(context.Background(), "b", nil); err != nil {
		t.Fatalf("load b: %v", err)
	}

	// A has 2 in flight, B has 0: B must win.
	r.Begin("a")
	r.Begin("a")
	lease, err := r.Select()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if lease.ModelID != "b" {
		t.Fatalf("expected b (least in flight), got %s", lease.ModelID)
	}

	// Tied counts: earliest load wins.
	r.End("a", 0, false)
	r.End("a", 0, false)
	lease, err = r.Select()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if lease.ModelID != "a" {
		t.Fatalf("expected a (earliest load on tie), got %s", lease.ModelID)
	}
}

func TestInflightReturnsToZero(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Begin("a")
			r.End("a", 12.5, i%2 == 0)
		}(i)
	}
	wg.Wait()
	snap := r.Snapshot()
	if snap[0].Inflight != 0 {
		t.Fatalf("inflight should return to 0, got %d", snap[0].Inflight)
	}
	if snap[0].TotalRequests != 10 {
		t.Fatalf("expected 10 successful requests, got %d", snap[0].TotalRequests)
	}
}

func TestProcessExitExcludesInstance(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	st.exit("a", errors.New("engine crashed"))

	if _, err := r.Select(); !provider.IsNoInstanceAvailable(err) {
		t.Fatalf("errored instance must not be selectable, got %v", err)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].State != string(StatusError) {
		t.Fatalf("expected one errored entry, got %+v", snap)
	}
	if r.Ready() {
		t.Fatalf("registry must not report ready")
	}

	// a fresh load replaces the errored entry
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("reload after error: %v", err)
	}
	if _, err := r.Select(); err != nil {
		t.Fatalf("select after reload: %v", err)
	}
}

func TestExitBetweenReadyAndRegistration(t *testing.T) {
	// The engine dies right after signalling readiness, so the exit
	// notification lands before Load records the instance as ready. The entry
	// must stay in error and never become selectable.
	st := &fakeStarter{exitErr: errors.New("engine crashed right after ready")}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.Select(); !provider.IsNoInstanceAvailable(err) {
		t.Fatalf("dead instance must not be selectable, got %v", err)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].State != string(StatusError) {
		t.Fatalf("expected one errored entry, got %+v", snap)
	}
	if r.Ready() {
		t.Fatal("registry must not report ready")
	}

	// a fresh load still replaces the errored entry
	st.exitErr = nil
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !r.Ready() {
		t.Fatal("registry should be ready after reload")
	}
}

func TestUnloadRoundTrip(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Unload("a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("unload must remove the entry")
	}
	if _, err := r.Select(); !provider.IsNoInstanceAvailable(err) {
		t.Fatalf("expected no instance after unload, got %v", err)
	}
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load after unload: %v", err)
	}
	if !r.Ready() {
		t.Fatalf("registry should be ready after reload")
	}
}

func TestUnloadUnknownModel(t *testing.T) {
	r := newTestRegistry(&fakeStarter{}, "a")
	if err := r.Unload("a"); !provider.IsModelNotFound(err) {
		t.Fatalf("expected model-not-found for unloaded model, got %v", err)
	}
}

func TestDuplicateLoadReady(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a")
	if err := r.Load(context.Background(), "a", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Load(context.Background(), "a", nil); !provider.IsAlreadyLoaded(err) {
		t.Fatalf("expected already-loaded, got %v", err)
	}
}

func TestSelectEmptyRegistry(t *testing.T) {
	r := newTestRegistry(&fakeStarter{}, "a")
	_, err := r.Select()
	if !provider.IsNoInstanceAvailable(err) {
		t.Fatalf("expected no-instance-available, got %v", err)
	}
	if err.Error() != "No models currently loaded. Please load a model first." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestStopAll(t *testing.T) {
	st := &fakeStarter{}
	r := newTestRegistry(st, "a", "b")
	for _, id := range []string{"a", "b"} {
		if err := r.Load(context.Background(), id, nil); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	r.StopAll()
	if len(r.Snapshot()) != 0 {
		t.Fatalf("StopAll must remove all entries")
	}
}
