package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
)

type ImageRepository struct {
	db *DB
}

func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

type imageRow struct {
	ID           string       `db:"id"`
	StoragePath  string       `db:"storage_path"`
	OriginalName string       `db:"original_name"`
	Mime         string       `db:"mime"`
	SizeBytes    int64        `db:"size_bytes"`
	PrincipalID  string       `db:"principal_id"`
	UploadedAt   sql.NullTime `db:"uploaded_at"`
}

func (r imageRow) toModel() *models.UploadedImage {
	return &models.UploadedImage{
		ID:           r.ID,
		StoragePath:  r.StoragePath,
		OriginalName: r.OriginalName,
		Mime:         r.Mime,
		SizeBytes:    r.SizeBytes,
		PrincipalID:  r.PrincipalID,
		UploadedAt:   r.UploadedAt.Time,
	}
}

func (r *ImageRepository) Create(ctx context.Context, img *models.UploadedImage) error {
	query := r.db.rebind(`
		INSERT INTO uploaded_images (id, storage_path, original_name, mime, size_bytes, principal_id, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.conn.ExecContext(ctx, query,
		img.ID, img.StoragePath, img.OriginalName, img.Mime, img.SizeBytes, img.PrincipalID, img.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (*models.UploadedImage, error) {
	var row imageRow
	query := r.db.rebind(`
		SELECT id, storage_path, original_name, mime, size_bytes, principal_id, uploaded_at
		FROM uploaded_images WHERE id = ?`)
	err := r.db.conn.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "image %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return row.toModel(), nil
}

func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	query := r.db.rebind(`DELETE FROM uploaded_images WHERE id = ?`)
	_, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
