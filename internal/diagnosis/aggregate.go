package diagnosis

import (
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
)

// Aggregate combines per-image predictions into a record-level diagnosis by
// averaging each label's probability across images and taking the argmax.
// Ties are broken by the model's label order. All predictions must come from
// the same model; mixing label spaces would make the mean meaningless.
func Aggregate(preds []models.PerImagePrediction, labelOrder []string) (*models.AggregateDiagnosis, error) {
	if len(preds) == 0 {
		return nil, apperr.New(apperr.Internal, "no predictions to aggregate")
	}

	modelID := preds[0].ModelID
	for _, p := range preds[1:] {
		if p.ModelID != modelID {
			return nil, apperr.New(apperr.MixedModelPredictions,
				"predictions from models %s and %s cannot be aggregated", modelID, p.ModelID)
		}
	}

	means := make(map[string]float64, len(labelOrder))
	for _, label := range labelOrder {
		var sum float64
		for _, p := range preds {
			sum += p.ConditionScores[label]
		}
		means[label] = sum / float64(len(preds))
	}

	top := TopLabel(means, labelOrder)
	return &models.AggregateDiagnosis{
		Label:           top,
		Confidence:      means[top],
		ConditionScores: means,
		ModelID:         modelID,
	}, nil
}

// TopLabel returns the label with the highest score, breaking ties in favor
// of the label that appears first in labelOrder.
func TopLabel(scores map[string]float64, labelOrder []string) string {
	var best string
	bestScore := -1.0
	for _, label := range labelOrder {
		if s, ok := scores[label]; ok && s > bestScore {
			best = label
			bestScore = s
		}
	}
	return best
}
