package inference

import (
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/preprocess"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// Handle is an opaque reference to a loaded model instance. Only the backend
// that produced it knows its concrete type.
type Handle interface{}

// ModelBackend abstracts the tensor runtime. Concrete backends are
// plug-compatible: Load materializes weights from the descriptor's shard
// files, Predict runs one forward pass, Release frees native resources.
type ModelBackend interface {
	Load(desc *registry.Descriptor) (Handle, error)
	Predict(h Handle, t *preprocess.Tensor) ([]float32, error)
	Release(h Handle)
}
