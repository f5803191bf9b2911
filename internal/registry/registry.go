package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
)

const (
	ModelTypeClassification = "classification"
	ModelTypeSegmentation   = "segmentation"
)

// Descriptor is the registry's view of one deployable model.
type Descriptor struct {
	ID            string
	Name          string
	Version       string
	Description   string
	ModelType     string
	BodyParts     []string
	ImagingTypes  []string
	Labels        []string
	InputShape    InputShape
	Preprocessing []string
	WeightsPaths  []string
	Active        bool
}

// PublicDescriptor is the API-facing shape. Weight locations stay internal.
type PublicDescriptor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	Description  string     `json:"description"`
	ModelType    string     `json:"model_type"`
	BodyParts    []string   `json:"body_parts"`
	ImagingTypes []string   `json:"imaging_types"`
	Labels       []string   `json:"labels"`
	InputShape   InputShape `json:"input_shape"`
}

func (d *Descriptor) Public() PublicDescriptor {
	return PublicDescriptor{
		ID:           d.ID,
		Name:         d.Name,
		Version:      d.Version,
		Description:  d.Description,
		ModelType:    d.ModelType,
		BodyParts:    d.BodyParts,
		ImagingTypes: d.ImagingTypes,
		Labels:       d.Labels,
		InputShape:   d.InputShape,
	}
}

func (d *Descriptor) Compatible(modality, bodyPart string) bool {
	return contains(d.ImagingTypes, modality) && contains(d.BodyParts, bodyPart)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ActivationSource reports admin-managed activation flags keyed by model id.
// Models absent from the map default to active.
type ActivationSource interface {
	Activations() (map[string]bool, error)
}

type snapshot struct {
	byID  map[string]*Descriptor
	order []string
}

// Registry is the catalogue of deployable models. The catalogue is built by
// Scan and swapped in atomically, so lookups never take a lock.
type Registry struct {
	root        string
	log         *zap.Logger
	activations ActivationSource
	snap        atomic.Pointer[snapshot]
}

func New(root string, activations ActivationSource, log *zap.Logger) *Registry {
	r := &Registry{root: root, log: log, activations: activations}
	r.snap.Store(&snapshot{byID: map[string]*Descriptor{}})
	return r
}

// Scan walks MODELS_ROOT, parses each subdirectory's manifest, verifies every
// referenced weight shard exists, and swaps the resulting snapshot in.
// A broken model is logged and skipped; it never fails the scan.
func (r *Registry) Scan() (int, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read models root %s: %w", r.root, err)
	}

	var overrides map[string]bool
	if r.activations != nil {
		overrides, err = r.activations.Activations()
		if err != nil {
			r.log.Warn("Failed to load activation flags, defaulting to active", zap.Error(err))
			overrides = nil
		}
	}

	next := &snapshot{byID: map[string]*Descriptor{}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		desc, err := r.loadModel(entry.Name())
		if err != nil {
			r.log.Warn("Skipping model", zap.String("model", entry.Name()), zap.Error(err))
			continue
		}

		if active, ok := overrides[desc.ID]; ok {
			desc.Active = active
		}

		next.byID[desc.ID] = desc
		next.order = append(next.order, desc.ID)
	}

	r.snap.Store(next)
	r.log.Info("Model registry scanned", zap.Int("registered", len(next.byID)))
	return len(next.byID), nil
}

func (r *Registry) loadModel(id string) (*Descriptor, error) {
	dir := filepath.Join(r.root, id)
	manifest, err := ParseManifest(filepath.Join(dir, "model.json"))
	if err != nil {
		return nil, err
	}

	if manifest.Metadata.ModelType != ModelTypeClassification {
		return nil, fmt.Errorf("model type %q is not supported", manifest.Metadata.ModelType)
	}

	return DescriptorFromManifest(id, dir, manifest)
}

// DescriptorFromManifest builds a descriptor from a parsed manifest after
// verifying every referenced weight shard exists in dir.
func DescriptorFromManifest(id, dir string, manifest *Manifest) (*Descriptor, error) {
	var weights []string
	for _, p := range manifest.weightPaths() {
		full := filepath.Join(dir, p)
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("weight shard %s missing: %w", p, err)
		}
		weights = append(weights, full)
	}

	return &Descriptor{
		ID:            id,
		Name:          manifest.Name,
		Version:       manifest.Version,
		Description:   manifest.Metadata.Description,
		ModelType:     manifest.Metadata.ModelType,
		BodyParts:     manifest.Metadata.BodyParts,
		ImagingTypes:  manifest.Metadata.ImagingTypes,
		Labels:        manifest.Metadata.Labels,
		InputShape:    manifest.Metadata.InputShape,
		Preprocessing: manifest.Metadata.Preprocessing,
		WeightsPaths:  weights,
		Active:        true,
	}, nil
}

// Get returns one descriptor. Inactive models are invisible.
func (r *Registry) Get(id string) (*Descriptor, error) {
	desc, ok := r.snap.Load().byID[id]
	if !ok || !desc.Active {
		return nil, apperr.New(apperr.ModelNotFound, "model %q not found", id)
	}
	return desc, nil
}

// FindCompatible returns every active descriptor applicable to the given
// modality and body part. An empty result is a valid outcome.
func (r *Registry) FindCompatible(modality, bodyPart string) []*Descriptor {
	snap := r.snap.Load()
	var out []*Descriptor
	for _, id := range snap.order {
		desc := snap.byID[id]
		if desc.Active && desc.Compatible(modality, bodyPart) {
			out = append(out, desc)
		}
	}
	return out
}

// All returns every registered descriptor, active or not.
func (r *Registry) All() []*Descriptor {
	snap := r.snap.Load()
	out := make([]*Descriptor, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byID[id])
	}
	return out
}

// Active returns active descriptors for the public model listing.
func (r *Registry) Active() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.All() {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}
