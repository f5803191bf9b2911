package diagnosis

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// ModelCatalog is the slice of the registry the controller needs.
type ModelCatalog interface {
	Get(id string) (*registry.Descriptor, error)
	FindCompatible(modality, bodyPart string) []*registry.Descriptor
}

// Route returns the active models compatible with a record, ordered by
// version descending then name ascending. The controller picks the head.
func Route(reg ModelCatalog, modality, bodyPart string) []*registry.Descriptor {
	candidates := reg.FindCompatible(modality, bodyPart)

	sort.SliceStable(candidates, func(i, j int) bool {
		if c := compareVersions(candidates[i].Version, candidates[j].Version); c != 0 {
			return c > 0
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates
}

// ResolveModel picks the model for a record. An explicit model id bypasses
// routing entirely; if it is incompatible the request is rejected rather than
// silently re-routed.
func ResolveModel(reg ModelCatalog, record *models.MedicalRecord, modelID string) (*registry.Descriptor, error) {
	if modelID != "" {
		desc, err := reg.Get(modelID)
		if err != nil {
			return nil, err
		}
		if !desc.Compatible(record.Modality, record.BodyPart) {
			return nil, apperr.New(apperr.ModelIncompatible,
				"model %s does not apply to (%s, %s)", modelID, record.Modality, record.BodyPart)
		}
		return desc, nil
	}

	candidates := Route(reg, record.Modality, record.BodyPart)
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.NoCompatibleModel,
			"no active model for (%s, %s)", record.Modality, record.BodyPart)
	}
	return candidates[0], nil
}

// compareVersions compares dotted numeric versions segment by segment.
// Non-numeric segments fall back to string comparison.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}

		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
