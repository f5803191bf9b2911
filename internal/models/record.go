package models

import (
	"time"

	"github.com/google/uuid"
)

type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusAnalyzing RecordStatus = "analyzing"
	StatusAnalyzed  RecordStatus = "analyzed"
	StatusFailed    RecordStatus = "failed"
)

// PerImagePrediction is the output of one model forward pass on one image.
// ConditionScores maps every label of the model to its softmaxed probability.
type PerImagePrediction struct {
	ImageID         string             `json:"image_id"`
	ModelID         string             `json:"model_id"`
	ConditionScores map[string]float64 `json:"condition_scores"`
	TopLabel        string             `json:"top_label"`
	TopConfidence   float64            `json:"top_confidence"`
	ElapsedMs       int64              `json:"elapsed_ms"`
}

// AggregateDiagnosis is the record-level diagnosis obtained by mean-pooling
// the per-image probabilities of a single model.
type AggregateDiagnosis struct {
	Label           string             `json:"label"`
	Confidence      float64            `json:"confidence"`
	ConditionScores map[string]float64 `json:"condition_scores"`
	ModelID         string             `json:"model_id"`
}

// MedicalRecord is one diagnostic study: N uploaded images plus modality and
// body part, and once analyzed, the predictions and aggregate diagnosis.
// DoctorDiagnosis is a free-text override and never replaces Aggregate.
type MedicalRecord struct {
	ID              string               `json:"id"`
	PrincipalID     string               `json:"principal_id"`
	Modality        string               `json:"modality"`
	BodyPart        string               `json:"body_part"`
	ImageIDs        []string             `json:"image_ids"`
	Status          RecordStatus         `json:"status"`
	Predictions     []PerImagePrediction `json:"predictions,omitempty"`
	Aggregate       *AggregateDiagnosis  `json:"aggregate_diagnosis,omitempty"`
	DoctorDiagnosis string               `json:"doctor_diagnosis,omitempty"`
	FailureKind     string               `json:"failure_kind,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func NewMedicalRecord(principalID, modality, bodyPart string, imageIDs []string) *MedicalRecord {
	return &MedicalRecord{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Modality:    modality,
		BodyPart:    bodyPart,
		ImageIDs:    imageIDs,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}
