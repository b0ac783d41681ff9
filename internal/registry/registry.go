// Package registry owns the authoritative in-memory table of loaded model
// instances. All access goes through Registry methods under one mutex so the
// concurrent-access discipline is visible at the type level; nothing here is
// package-global state.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
	"nexusd/internal/supervisor"
	"nexusd/pkg/types"
)

// Status is the lifecycle state of a registry entry.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Instance is one loaded model. Fields are mutated only by Registry methods
// under the registry lock.
type Instance struct {
	ModelID         string
	Kind            provider.BackendKind
	DeviceIDs       []int
	Status          Status
	Port            int
	Inflight        int
	TotalRequests   uint64
	TokensPerSecond float64

	loadSeq   uint64
	loadedAt  time.Time
	unloading bool
	prov      provider.Provider
	proc      *supervisor.Process
}

// Starter launches the configured backend for a model. The supervisor process
// is nil for backends that do not spawn one. onExit is invoked if a spawned
// process dies after becoming ready.
type Starter interface {
	Start(ctx context.Context, m types.Model, deviceIDs []int, onExit func(err error)) (provider.Provider, *supervisor.Process, error)
}

// Registry is the mutex-guarded table of model instances plus the on-disk
// model catalog it loads from.
type Registry struct {
	log     zerolog.Logger
	starter Starter

	mu        sync.Mutex
	models    []types.Model
	instances map[string]*Instance
	nextSeq   uint64
}

// New builds an empty registry over the given model catalog.
func New(models []types.Model, starter Starter, log zerolog.Logger) *Registry {
	return &Registry{
		log:       log.With().Str("component", "registry").Logger(),
		starter:   starter,
		models:    append([]types.Model(nil), models...),
		instances: make(map[string]*Instance),
	}
}

// Models returns a copy of the on-disk model catalog.
func (r *Registry) Models() []types.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Model, len(r.models))
	copy(out, r.models)
	return out
}

func (r *Registry) modelByID(id string) (types.Model, bool) {
	for _, m := range r.models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// Load starts the configured backend for modelID and registers the instance.
// A load for a model that is already loading or ready fails fast; a failed
// load leaves the registry without the entry. Loads of different models may
// run concurrently; loads of the same model are serialized by the loading
// reservation inserted under the lock.
func (r *Registry) Load(ctx context.Context, modelID string, deviceIDs []int) error {
	r.mu.Lock()
	if inst, ok := r.instances[modelID]; ok {
		if inst.unloading || inst.Status == StatusLoading || inst.Status == StatusReady {
			r.mu.Unlock()
			return provider.ErrAlreadyLoaded(modelID)
		}
		// error/stopped entries are replaced by a fresh load
	}
	mdl, found := r.modelByID(modelID)
	if !found {
		r.mu.Unlock()
		return provider.ErrModelNotFound(modelID)
	}
	r.nextSeq++
	inst := &Instance{
		ModelID:   modelID,
		DeviceIDs: append([]int(nil), deviceIDs...),
		Status:    StatusLoading,
		loadSeq:   r.nextSeq,
		loadedAt:  time.Now(),
	}
	r.instances[modelID] = inst
	r.mu.Unlock()

	r.log.Info().Str("model", modelID).Ints("devices", deviceIDs).Msg("loading model")
	prov, proc, err := r.starter.Start(ctx, mdl, deviceIDs, func(exitErr error) {
		r.markError(modelID, exitErr)
	})
	if err != nil {
		r.mu.Lock()
		// remove only our own reservation
		if cur, ok := r.instances[modelID]; ok && cur == inst {
			delete(r.instances, modelID)
		}
		r.mu.Unlock()
		loadsFailedTotal.Inc()
		r.log.Error().Str("model", modelID).Err(err).Msg("load failed")
		return err
	}

	r.mu.Lock()
	inst.prov = prov
	inst.proc = proc
	inst.Kind = starterKind(r.starter)
	if proc != nil {
		inst.Port = proc.Port()
	}
	// Only the loading reservation becomes ready. If the process already died
	// and markError ran, the entry stays in error so Select keeps skipping it.
	becameReady := inst.Status == StatusLoading
	if becameReady {
		inst.Status = StatusReady
	}
	r.mu.Unlock()

	loadsTotal.Inc()
	if !becameReady {
		r.log.Warn().Str("model", modelID).Msg("engine exited while load completed")
		return nil
	}
	instancesGauge.Inc()
	r.log.Info().Str("model", modelID).Msg("model ready")
	return nil
}

// Unload drains and removes an instance. Terminating the backing process is
// idempotent; calling Unload while one is already in progress is a no-op.
func (r *Registry) Unload(modelID string) error {
	r.mu.Lock()
	inst, ok := r.instances[modelID]
	if !ok {
		r.mu.Unlock()
		return provider.ErrModelNotFound(modelID)
	}
	if inst.unloading {
		r.mu.Unlock()
		return nil
	}
	if inst.Status == StatusLoading {
		r.mu.Unlock()
		return provider.ErrAlreadyLoaded(modelID)
	}
	wasReady := inst.Status == StatusReady
	inst.unloading = true
	inst.Status = StatusStopped
	proc := inst.proc
	r.mu.Unlock()

	if proc != nil {
		_ = proc.Stop()
	}

	r.mu.Lock()
	delete(r.instances, modelID)
	r.mu.Unlock()

	unloadsTotal.Inc()
	if wasReady {
		instancesGauge.Dec()
	}
	r.log.Info().Str("model", modelID).Msg("model unloaded")
	return nil
}

// StopAll terminates every instance. Used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Unload(id)
	}
}

// markError flips a ready instance to error after its process died so
// selection excludes it immediately.
func (r *Registry) markError(modelID string, exitErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[modelID]
	if !ok || inst.unloading {
		return
	}
	if inst.Status == StatusReady {
		instancesGauge.Dec()
	}
	if inst.Status == StatusReady || inst.Status == StatusLoading {
		inst.Status = StatusError
		r.log.Error().Str("model", modelID).Err(exitErr).Msg("instance failed")
	}
}

// Lease identifies the instance chosen for one request.
type Lease struct {
	ModelID  string
	Provider provider.Provider
}

// Select returns the ready instance with the fewest requests in flight, ties
// broken by earliest load. It is a pure read; Begin/End do the accounting.
func (r *Registry) Select() (Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Instance
	for _, inst := range r.instances {
		if inst.Status != StatusReady {
			continue
		}
		if best == nil ||
			inst.Inflight < best.Inflight ||
			(inst.Inflight == best.Inflight && inst.loadSeq < best.loadSeq) {
			best = inst
		}
	}
	if best == nil {
		return Lease{}, provider.ErrNoInstanceAvailable()
	}
	return Lease{ModelID: best.ModelID, Provider: best.prov}, nil
}

// Begin records a request entering the instance.
func (r *Registry) Begin(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[modelID]; ok {
		inst.Inflight++
	}
}

// End records a request leaving the instance. Must be called exactly once per
// Begin, regardless of outcome. On success the totals and the throughput
// gauge are updated.
func (r *Registry) End(modelID string, tokensPerSecond float64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[modelID]
	if !ok {
		return
	}
	if inst.Inflight > 0 {
		inst.Inflight--
	}
	if success {
		inst.TotalRequests++
		inst.TokensPerSecond = tokensPerSecond
	}
}

// Snapshot returns instance statuses sorted by load order for /api/status.
func (r *Registry) Snapshot() []types.InstanceStatus {
	r.mu.Lock()
	insts := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].loadSeq < insts[j].loadSeq })
	out := make([]types.InstanceStatus, 0, len(insts))
	for _, inst := range insts {
		out = append(out, types.InstanceStatus{
			ModelID:         inst.ModelID,
			Backend:         string(inst.Kind),
			State:           string(inst.Status),
			DeviceIDs:       append([]int(nil), inst.DeviceIDs...),
			Port:            inst.Port,
			Inflight:        inst.Inflight,
			TotalRequests:   inst.TotalRequests,
			TokensPerSecond: inst.TokensPerSecond,
		})
	}
	r.mu.Unlock()
	return out
}

// Ready reports whether any instance can serve requests.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.Status == StatusReady {
			return true
		}
	}
	return false
}

// starterKind lets backends report their kind without a supervisor process.
func starterKind(s Starter) provider.BackendKind {
	if k, ok := s.(interface{ Kind() provider.BackendKind }); ok {
		return k.Kind()
	}
	return provider.KindSpawned
}
