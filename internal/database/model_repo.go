package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// ModelRepository holds the admin-managed rows written by the model-sync
// tool. The registry consults it for activation flags at scan time.
type ModelRepository struct {
	db *DB
}

func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) Upsert(ctx context.Context, desc *registry.Descriptor) error {
	bodyParts, err := json.Marshal(desc.BodyParts)
	if err != nil {
		return fmt.Errorf("failed to marshal body parts: %w", err)
	}
	imagingTypes, err := json.Marshal(desc.ImagingTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal imaging types: %w", err)
	}
	labels, err := json.Marshal(desc.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	// Preserve an existing is_active flag; new rows default to active.
	query := r.db.rebind(`
		INSERT INTO model_descriptors (id, name, version, model_type, body_parts, imaging_types, labels, is_active, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			model_type = excluded.model_type,
			body_parts = excluded.body_parts,
			imaging_types = excluded.imaging_types,
			labels = excluded.labels,
			synced_at = excluded.synced_at`)

	_, err = r.db.conn.ExecContext(ctx, query,
		desc.ID, desc.Name, desc.Version, desc.ModelType,
		string(bodyParts), string(imagingTypes), string(labels), true, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert model descriptor: %w", err)
	}
	return nil
}

func (r *ModelRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := r.db.rebind(`UPDATE model_descriptors SET is_active = ? WHERE id = ?`)
	_, err := r.db.conn.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to update activation: %w", err)
	}
	return nil
}

// Activations satisfies registry.ActivationSource.
func (r *ModelRepository) Activations() (map[string]bool, error) {
	rows, err := r.db.conn.Query(`SELECT id, is_active FROM model_descriptors`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var active bool
		if err := rows.Scan(&id, &active); err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		out[id] = active
	}
	return out, rows.Err()
}
