package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest mirrors the model.json file that sits next to the weight shards
// in each model directory under MODELS_ROOT.
type Manifest struct {
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	Metadata        ManifestMetadata `json:"metadata"`
	WeightsManifest []WeightsGroup   `json:"weightsManifest"`
}

type ManifestMetadata struct {
	Description   string     `json:"description"`
	ModelType     string     `json:"modelType"`
	Labels        []string   `json:"labels"`
	BodyParts     []string   `json:"bodyParts"`
	ImagingTypes  []string   `json:"imagingTypes"`
	InputShape    InputShape `json:"inputShape"`
	Preprocessing []string   `json:"preprocessing"`
}

type WeightsGroup struct {
	Paths []string `json:"paths"`
}

type InputShape struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Metadata.ModelType != ModelTypeClassification && m.Metadata.ModelType != ModelTypeSegmentation {
		return fmt.Errorf("unknown model type %q", m.Metadata.ModelType)
	}
	if len(m.Metadata.Labels) == 0 {
		return fmt.Errorf("manifest declares no labels")
	}
	if len(m.Metadata.BodyParts) == 0 || len(m.Metadata.ImagingTypes) == 0 {
		return fmt.Errorf("manifest declares no body parts or imaging types")
	}
	shape := m.Metadata.InputShape
	if shape.Width <= 0 || shape.Height <= 0 {
		return fmt.Errorf("invalid input shape %dx%d", shape.Width, shape.Height)
	}
	if shape.Channels != 1 && shape.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", shape.Channels)
	}
	if len(m.WeightsManifest) == 0 {
		return fmt.Errorf("manifest declares no weight groups")
	}
	return nil
}

func (m *Manifest) weightPaths() []string {
	var paths []string
	for _, group := range m.WeightsManifest {
		paths = append(paths, group.Paths...)
	}
	return paths
}
