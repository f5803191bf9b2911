package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
)

type stubActivations map[string]bool

func (s stubActivations) Activations() (map[string]bool, error) {
	return s, nil
}

func writeModel(t *testing.T, root, id string, manifest Manifest, shards map[string][]byte) {
	t.Helper()

	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create model dir: %v", err)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.json"), data, 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	for name, content := range shards {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
			t.Fatalf("Failed to write shard %s: %v", name, err)
		}
	}
}

func chestManifest() Manifest {
	return Manifest{
		Name:    "Chest X-Ray Classifier",
		Version: "1.2.0",
		Metadata: ManifestMetadata{
			ModelType:     ModelTypeClassification,
			Labels:        []string{"Normal", "Pneumonia", "Tuberculosis", "COVID-19"},
			BodyParts:     []string{"chest"},
			ImagingTypes:  []string{"xray"},
			InputShape:    InputShape{Width: 8, Height: 8, Channels: 1},
			Preprocessing: []string{"resize", "normalize"},
		},
		WeightsManifest: []WeightsGroup{{Paths: []string{"shard1.bin"}}},
	}
}

func TestRegistryScan(t *testing.T) {
	root := t.TempDir()

	writeModel(t, root, "xray-model", chestManifest(), map[string][]byte{"shard1.bin": make([]byte, 16)})

	brainManifest := chestManifest()
	brainManifest.Name = "Brain MRI Classifier"
	brainManifest.Metadata.BodyParts = []string{"brain"}
	brainManifest.Metadata.ImagingTypes = []string{"mri"}
	writeModel(t, root, "mri-model", brainManifest, map[string][]byte{"shard1.bin": make([]byte, 16)})

	// Missing shard: manifest references a file that is never written.
	writeModel(t, root, "broken-model", chestManifest(), nil)

	// Unparseable manifest.
	badDir := filepath.Join(root, "garbage-model")
	os.MkdirAll(badDir, 0755)
	os.WriteFile(filepath.Join(badDir, "model.json"), []byte("{не json"), 0644)

	segManifest := chestManifest()
	segManifest.Metadata.ModelType = ModelTypeSegmentation
	writeModel(t, root, "seg-model", segManifest, map[string][]byte{"shard1.bin": make([]byte, 16)})

	reg := New(root, nil, zap.NewNop())
	count, err := reg.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 registered models, got %d", count)
	}

	if _, err := reg.Get("broken-model"); !apperr.Is(err, apperr.ModelNotFound) {
		t.Errorf("Expected ModelNotFound for broken model, got %v", err)
	}
	if _, err := reg.Get("seg-model"); !apperr.Is(err, apperr.ModelNotFound) {
		t.Errorf("Expected ModelNotFound for segmentation model, got %v", err)
	}
}

func TestRegistryFindCompatible(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "xray-model", chestManifest(), map[string][]byte{"shard1.bin": make([]byte, 16)})

	reg := New(root, nil, zap.NewNop())
	if _, err := reg.Scan(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	found := reg.FindCompatible("xray", "chest")
	if len(found) != 1 || found[0].ID != "xray-model" {
		t.Fatalf("Expected xray-model for (xray, chest), got %v", found)
	}

	if got := reg.FindCompatible("xray", "foot"); len(got) != 0 {
		t.Errorf("Expected no models for (xray, foot), got %d", len(got))
	}
	if got := reg.FindCompatible("ct", "chest"); len(got) != 0 {
		t.Errorf("Expected no models for (ct, chest), got %d", len(got))
	}
}

func TestRegistryActivationOverrides(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "xray-model", chestManifest(), map[string][]byte{"shard1.bin": make([]byte, 16)})

	reg := New(root, stubActivations{"xray-model": false}, zap.NewNop())
	if _, err := reg.Scan(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if _, err := reg.Get("xray-model"); !apperr.Is(err, apperr.ModelNotFound) {
		t.Errorf("Expected deactivated model to be invisible, got %v", err)
	}
	if got := reg.FindCompatible("xray", "chest"); len(got) != 0 {
		t.Errorf("Deactivated model still routed: %v", got)
	}
}

func TestPublicDescriptorHidesWeights(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "xray-model", chestManifest(), map[string][]byte{"shard1.bin": make([]byte, 16)})

	reg := New(root, nil, zap.NewNop())
	if _, err := reg.Scan(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	desc, err := reg.Get("xray-model")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	data, err := json.Marshal(desc.Public())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) == "" || strings.Contains(string(data), "shard1.bin") {
		t.Errorf("Public descriptor leaks weight paths: %s", data)
	}
}

