package inference

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/preprocess"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// DenseBackend executes single-layer dense classifiers. Weight shards are
// little-endian float32: first W[features x labels] in row-major order, then
// the bias vector b[labels]. features = width * height * channels.
type DenseBackend struct{}

type denseModel struct {
	weights  []float32
	bias     []float32
	features int
	labels   int
	modelID  string
}

func NewDenseBackend() *DenseBackend {
	return &DenseBackend{}
}

func (b *DenseBackend) Load(desc *registry.Descriptor) (Handle, error) {
	var raw []byte
	for _, path := range desc.WeightsPaths {
		shard, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.ModelLoadFailed, err, "model %s: reading weights", desc.ID)
		}
		raw = append(raw, shard...)
	}

	if len(raw)%4 != 0 {
		return nil, apperr.New(apperr.ModelLoadFailed, "model %s: weight byte length %d not float32-aligned", desc.ID, len(raw))
	}

	values := make([]float32, len(raw)/4)
	for i := range values {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		values[i] = math.Float32frombits(bits)
	}

	shape := desc.InputShape
	features := shape.Width * shape.Height * shape.Channels
	labels := len(desc.Labels)

	// The descriptor's label count must match the output dimension the
	// weights actually produce.
	if len(values) != features*labels+labels {
		return nil, apperr.New(apperr.ModelLoadFailed,
			"model %s: %d weight values cannot form a %d->%d dense layer", desc.ID, len(values), features, labels)
	}

	return &denseModel{
		weights:  values[:features*labels],
		bias:     values[features*labels:],
		features: features,
		labels:   labels,
		modelID:  desc.ID,
	}, nil
}

func (b *DenseBackend) Predict(h Handle, t *preprocess.Tensor) ([]float32, error) {
	m, ok := h.(*denseModel)
	if !ok {
		return nil, apperr.New(apperr.InferenceFailed, "foreign handle passed to dense backend")
	}

	if len(t.Data) != m.features {
		return nil, apperr.New(apperr.InferenceFailed,
			"model %s: tensor shape %s does not match %d input features", m.modelID, t.ShapeString(), m.features)
	}

	logits := make([]float32, m.labels)
	copy(logits, m.bias)
	for i, x := range t.Data {
		if x == 0 {
			continue
		}
		row := m.weights[i*m.labels : (i+1)*m.labels]
		for j, w := range row {
			logits[j] += x * w
		}
	}

	return logits, nil
}

// Release must leave the handle usable: a Predict that obtained it before
// eviction may still be running. The dense model's memory is reclaimed by
// the GC once the last such caller returns.
func (b *DenseBackend) Release(h Handle) {}
