package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadedImage describes one stored original. Immutable after creation;
// deletion is a hard delete guarded by a reference check against records.
type UploadedImage struct {
	ID           string    `json:"id"`
	StoragePath  string    `json:"storage_path"`
	OriginalName string    `json:"original_name"`
	Mime         string    `json:"mime"`
	SizeBytes    int64     `json:"size_bytes"`
	PrincipalID  string    `json:"principal_id"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func NewUploadedImage(principalID, storagePath, originalName, mime string, sizeBytes int64) *UploadedImage {
	return &UploadedImage{
		ID:           uuid.New().String(),
		StoragePath:  storagePath,
		OriginalName: originalName,
		Mime:         mime,
		SizeBytes:    sizeBytes,
		PrincipalID:  principalID,
		UploadedAt:   time.Now(),
	}
}
