package inference

import (
	"context"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/preprocess"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// Engine executes classifiers. Models are loaded lazily on first use and
// pinned in an LRU; eviction releases the backend handle synchronously and
// the model reloads transparently on next access.
type Engine struct {
	backend ModelBackend
	cache   *lru.Cache[string, Handle]
	log     *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(backend ModelBackend, capacity int, log *zap.Logger) (*Engine, error) {
	e := &Engine{
		backend: backend,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}

	cache, err := lru.NewWithEvict(capacity, func(id string, h Handle) {
		log.Info("Evicting model from cache", zap.String("model", id))
		backend.Release(h)
	})
	if err != nil {
		return nil, err
	}
	e.cache = cache
	return e, nil
}

// Predict runs one forward pass and returns softmaxed probabilities keyed by
// the descriptor's labels. The output always sums to 1 within 1e-4, even when
// the backend produces logits.
func (e *Engine) Predict(ctx context.Context, desc *registry.Descriptor, t *preprocess.Tensor) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle, err := e.acquire(desc)
	if err != nil {
		return nil, err
	}

	logits, err := e.backend.Predict(handle, t)
	if err != nil {
		if apperr.KindOf(err) == apperr.InferenceFailed {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.InferenceFailed, err, "model %s: tensor %s", desc.ID, t.ShapeString())
	}

	if len(logits) != len(desc.Labels) {
		return nil, apperr.New(apperr.InferenceFailed,
			"model %s produced %d outputs for %d labels", desc.ID, len(logits), len(desc.Labels))
	}

	probs := softmax(logits)
	scores := make(map[string]float64, len(desc.Labels))
	for i, label := range desc.Labels {
		scores[label] = probs[i]
	}
	return scores, nil
}

// acquire returns the cached handle for a model, loading it under the
// model's own lock so concurrent callers share one load.
func (e *Engine) acquire(desc *registry.Descriptor) (Handle, error) {
	if h, ok := e.cache.Get(desc.ID); ok {
		return h, nil
	}

	mu := e.modelLock(desc.ID)
	mu.Lock()
	defer mu.Unlock()

	if h, ok := e.cache.Get(desc.ID); ok {
		return h, nil
	}

	e.log.Info("Loading model", zap.String("model", desc.ID), zap.String("version", desc.Version))
	h, err := e.backend.Load(desc)
	if err != nil {
		return nil, err
	}
	e.cache.Add(desc.ID, h)
	return h, nil
}

func (e *Engine) modelLock(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// CachedModels exposes the cache contents for diagnostics and tests.
func (e *Engine) CachedModels() []string {
	return e.cache.Keys()
}

func softmax(logits []float32) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	exp := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exp[i] = math.Exp(float64(v - maxLogit))
		sum += exp[i]
	}
	for i := range exp {
		exp[i] /= sum
	}
	return exp
}
