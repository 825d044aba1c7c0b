// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/store"
	"go.uber.org/zap"
)

const storeKey = "models:versions"

// Policy errors, expected outcomes rather than faults.
var (
	ErrNoPreviousVersion = errors.New("registry: no previous version available")
	ErrNoActiveVersion   = errors.New("registry: no active version")
	ErrVersionExists     = errors.New("registry: version already exists")
)

// PerformanceMetrics describes a version's runtime characteristics.
type PerformanceMetrics struct {
	LatencyMS  float64 `json:"latency_ms"`
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// ModelVersion is one immutable registry entry. Only the Active flag is
// mutated after creation, and only by the registry itself.
type ModelVersion struct {
	Version         string             `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	Accuracy        float64            `json:"accuracy"`
	Precision       float64            `json:"precision"`
	Recall          float64            `json:"recall"`
	F1              float64            `json:"f1"`
	TrainingSetSize int                `json:"training_set_size"`
	SizeKB          float64            `json:"size_kb"`
	Active          bool               `json:"active"`
	Performance     PerformanceMetrics `json:"performance"`
	Changelog       []string           `json:"changelog"`
}

// Registry is an append-only sequence of model versions with a single
// active pointer. Rollback activates the entry immediately preceding the
// active one; history is never deleted.
type Registry struct {
	mu       sync.RWMutex
	versions []ModelVersion
	kv       store.Store
	logger   *zap.Logger
}

// New creates an empty registry persisting through kv.
func New(kv store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{kv: kv, logger: logger}
}

// Load restores persisted versions. A missing or corrupt snapshot leaves
// the registry empty rather than failing startup.
func (r *Registry) Load(ctx context.Context) {
	data, err := r.kv.Get(ctx, storeKey)
	if err != nil || data == nil {
		if err != nil {
			r.logger.Warn("registry snapshot unavailable", zap.Error(err))
		}
		return
	}

	var versions []ModelVersion
	if err := store.Unmarshal(data, &versions); err != nil {
		r.logger.Warn("registry snapshot corrupt, starting empty", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.versions = versions
	r.mu.Unlock()
}

// Add appends a new version record. New versions are inactive until
// explicitly activated.
func (r *Registry) Add(ctx context.Context, v ModelVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.versions {
		if existing.Version == v.Version {
			return ErrVersionExists
		}
	}

	v.Active = false
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	r.versions = append(r.versions, v)
	r.persist(ctx)

	r.logger.Info("model version registered",
		zap.String("version", v.Version),
		zap.Float64("accuracy", v.Accuracy),
		zap.Int("training_set_size", v.TrainingSetSize))
	return nil
}

// Activate makes version the single active entry, deactivating all others.
func (r *Registry) Activate(ctx context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(version)
	if idx < 0 {
		return fmt.Errorf("registry: unknown version %s", version)
	}

	for i := range r.versions {
		r.versions[i].Active = i == idx
	}
	r.persist(ctx)

	r.logger.Info("model version activated", zap.String("version", version))
	return nil
}

// Rollback activates the version immediately preceding the active one.
func (r *Registry) Rollback(ctx context.Context) (*ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activeIdx := -1
	for i, v := range r.versions {
		if v.Active {
			activeIdx = i
			break
		}
	}
	if activeIdx < 0 {
		return nil, ErrNoActiveVersion
	}
	if activeIdx == 0 {
		return nil, ErrNoPreviousVersion
	}

	for i := range r.versions {
		r.versions[i].Active = i == activeIdx-1
	}
	r.persist(ctx)

	restored := r.versions[activeIdx-1]
	r.logger.Info("model rolled back",
		zap.String("from", r.versions[activeIdx].Version),
		zap.String("to", restored.Version))
	return &restored, nil
}

// GetActive returns the active version, or nil if none is active.
func (r *Registry) GetActive() *ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		if v.Active {
			out := v
			return &out
		}
	}
	return nil
}

// ActiveTag returns the active version tag, or a fixed label when the
// registry is empty, so predictions always carry a model tag.
func (r *Registry) ActiveTag() string {
	if v := r.GetActive(); v != nil {
		return v.Version
	}
	return "baseline-v1"
}

// List returns all versions oldest-first.
func (r *Registry) List() []ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelVersion, len(r.versions))
	copy(out, r.versions)
	return out
}

// Len returns the number of registered versions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

func (r *Registry) indexOf(version string) int {
	for i, v := range r.versions {
		if v.Version == version {
			return i
		}
	}
	return -1
}

// persist writes the snapshot; storage failures are logged, never surfaced.
func (r *Registry) persist(ctx context.Context) {
	data, err := store.Marshal(r.versions)
	if err != nil {
		r.logger.Error("marshal registry snapshot", zap.Error(err))
		return
	}
	if err := r.kv.Set(ctx, storeKey, data); err != nil {
		r.logger.Error("persist registry snapshot", zap.Error(err))
	}
}
