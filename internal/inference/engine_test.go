package inference

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/preprocess"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

func writeShard(t *testing.T, dir, name string, values []float32) string {
	t.Helper()
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("Failed to write shard: %v", err)
	}
	return path
}

// denseDescriptor builds a 2x1x1 input, two-label model with known weights:
// logits = [x0+x1, 2*x0] + [0.5, 0].
func denseDescriptor(t *testing.T, dir string) *registry.Descriptor {
	weights := []float32{
		1, 2, // feature 0 -> labels
		1, 0, // feature 1 -> labels
		0.5, 0, // bias
	}
	shard := writeShard(t, dir, "shard1.bin", weights)

	return &registry.Descriptor{
		ID:           "toy-model",
		Name:         "Toy",
		Version:      "1.0.0",
		ModelType:    registry.ModelTypeClassification,
		Labels:       []string{"Normal", "Abnormal"},
		InputShape:   registry.InputShape{Width: 1, Height: 2, Channels: 1},
		WeightsPaths: []string{shard},
		Active:       true,
	}
}

func TestDenseBackendForwardPass(t *testing.T) {
	desc := denseDescriptor(t, t.TempDir())
	backend := NewDenseBackend()

	h, err := backend.Load(desc)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer backend.Release(h)

	tensor := &preprocess.Tensor{Data: []float32{1, 3}, Height: 2, Width: 1, Channels: 1}
	logits, err := backend.Predict(h, tensor)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// lhs: 1*1 + 3*1 + 0.5 = 4.5; rhs: 1*2 + 3*0 + 0 = 2.
	if math.Abs(float64(logits[0])-4.5) > 1e-5 || math.Abs(float64(logits[1])-2) > 1e-5 {
		t.Errorf("Unexpected logits %v", logits)
	}
}

func TestDenseBackendRejectsMismatchedWeights(t *testing.T) {
	dir := t.TempDir()
	desc := denseDescriptor(t, dir)
	// Truncated shard: cannot form features*labels+labels values.
	desc.WeightsPaths = []string{writeShard(t, dir, "bad.bin", []float32{1, 2, 3})}

	_, err := NewDenseBackend().Load(desc)
	if !apperr.Is(err, apperr.ModelLoadFailed) {
		t.Errorf("Expected ModelLoadFailed, got %v", err)
	}
}

func TestEnginePredictSoftmaxSumsToOne(t *testing.T) {
	desc := denseDescriptor(t, t.TempDir())
	engine, err := NewEngine(NewDenseBackend(), 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tensor := &preprocess.Tensor{Data: []float32{100, 200}, Height: 2, Width: 1, Channels: 1}
	scores, err := engine.Predict(context.Background(), desc, tensor)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if len(scores) != 2 {
		t.Fatalf("Expected a score per label, got %d", len(scores))
	}
	var sum float64
	for _, p := range scores {
		if p < 0 || p > 1 {
			t.Errorf("Probability out of range: %f", p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-4 {
		t.Errorf("Probabilities sum to %f, want 1±1e-4", sum)
	}
}

func TestEnginePredictShapeError(t *testing.T) {
	desc := denseDescriptor(t, t.TempDir())
	engine, err := NewEngine(NewDenseBackend(), 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tensor := &preprocess.Tensor{Data: []float32{1, 2, 3, 4}, Height: 2, Width: 2, Channels: 1}
	_, err = engine.Predict(context.Background(), desc, tensor)
	if !apperr.Is(err, apperr.InferenceFailed) {
		t.Errorf("Expected InferenceFailed for wrong tensor shape, got %v", err)
	}
}

type countingBackend struct {
	mu       sync.Mutex
	loads    map[string]int
	releases int
}

func (c *countingBackend) Load(desc *registry.Descriptor) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loads == nil {
		c.loads = map[string]int{}
	}
	c.loads[desc.ID]++
	return desc.ID, nil
}

func (c *countingBackend) Predict(h Handle, t *preprocess.Tensor) ([]float32, error) {
	return []float32{0}, nil
}

func (c *countingBackend) Release(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
}

func TestEngineCacheEvictionAndReload(t *testing.T) {
	backend := &countingBackend{}
	engine, err := NewEngine(backend, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tensor := &preprocess.Tensor{Data: []float32{0}, Height: 1, Width: 1, Channels: 1}
	desc := func(id string) *registry.Descriptor {
		return &registry.Descriptor{
			ID:         id,
			Labels:     []string{"only"},
			InputShape: registry.InputShape{Width: 1, Height: 1, Channels: 1},
		}
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := engine.Predict(context.Background(), desc(id), tensor); err != nil {
			t.Fatalf("Predict %s failed: %v", id, err)
		}
	}

	if n := len(engine.CachedModels()); n > 2 {
		t.Errorf("Cache holds %d models, capacity is 2", n)
	}
	if backend.releases != 1 {
		t.Errorf("Expected 1 eviction release, got %d", backend.releases)
	}

	// "a" was evicted; touching it again must reload transparently.
	if _, err := engine.Predict(context.Background(), desc("a"), tensor); err != nil {
		t.Fatalf("Predict after eviction failed: %v", err)
	}
	if backend.loads["a"] != 2 {
		t.Errorf("Expected model a loaded twice, got %d", backend.loads["a"])
	}
}

func TestEngineSharesLoadAcrossConcurrentPredicts(t *testing.T) {
	backend := &countingBackend{}
	engine, err := NewEngine(backend, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	desc := &registry.Descriptor{
		ID:         "shared",
		Labels:     []string{"only"},
		InputShape: registry.InputShape{Width: 1, Height: 1, Channels: 1},
	}
	tensor := &preprocess.Tensor{Data: []float32{0}, Height: 1, Width: 1, Channels: 1}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Predict(context.Background(), desc, tensor); err != nil {
				t.Errorf("Predict failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if backend.loads["shared"] != 1 {
		t.Errorf("Expected a single shared load, got %d", backend.loads["shared"])
	}
}

func TestPoolDropsCancelledQueueEntries(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	block := make(chan struct{})
	go pool.Do(context.Background(), func() error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Do(ctx, func() error {
		t.Error("Cancelled task must not run")
		return nil
	})
	if err == nil {
		t.Error("Expected context error for cancelled task")
	}
	close(block)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	var mu sync.Mutex
	running, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Do(context.Background(), func() error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("Pool ran %d tasks at once, size is 2", peak)
	}
}

// Two models thrash a capacity-1 cache while predictions are in flight.
// An evicted handle must keep serving the caller that already holds it.
func TestEngineEvictionKeepsInFlightHandlesValid(t *testing.T) {
	descA := denseDescriptor(t, t.TempDir())
	descB := denseDescriptor(t, t.TempDir())
	descB.ID = "toy-model-b"

	engine, err := NewEngine(NewDenseBackend(), 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tensor := &preprocess.Tensor{Data: []float32{1, 3}, Height: 2, Width: 1, Channels: 1}

	var wg sync.WaitGroup
	for _, desc := range []*registry.Descriptor{descA, descB} {
		desc := desc
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				scores, err := engine.Predict(context.Background(), desc, tensor)
				if err != nil {
					t.Errorf("Predict failed for %s: %v", desc.ID, err)
					return
				}
				if math.Abs(scores["Normal"]+scores["Abnormal"]-1) > 1e-4 {
					t.Errorf("Probabilities do not sum to 1: %v", scores)
					return
				}
			}
		}()
	}
	wg.Wait()
}
