package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
)

// RecordRepository persists medical records. Predictions and the aggregate
// diagnosis live in JSON columns; status transitions are enforced here so no
// caller can put a record into an illegal state.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

var allowedTransitions = map[models.RecordStatus][]models.RecordStatus{
	models.StatusPending:   {models.StatusAnalyzing, models.StatusFailed},
	models.StatusAnalyzing: {models.StatusAnalyzed, models.StatusFailed},
}

// transitionSources returns every status allowed to move into next.
func transitionSources(next models.RecordStatus) []models.RecordStatus {
	var sources []models.RecordStatus
	for from, targets := range allowedTransitions {
		for _, target := range targets {
			if target == next {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

type recordRow struct {
	ID              string         `db:"id"`
	PrincipalID     string         `db:"principal_id"`
	Modality        string         `db:"modality"`
	BodyPart        string         `db:"body_part"`
	ImageIDs        string         `db:"image_ids"`
	Status          string         `db:"status"`
	Predictions     string         `db:"predictions"`
	Aggregate       sql.NullString `db:"aggregate"`
	DoctorDiagnosis string         `db:"doctor_diagnosis"`
	FailureKind     string         `db:"failure_kind"`
	CreatedAt       sql.NullTime   `db:"created_at"`
}

func (r recordRow) toModel() (*models.MedicalRecord, error) {
	rec := &models.MedicalRecord{
		ID:              r.ID,
		PrincipalID:     r.PrincipalID,
		Modality:        r.Modality,
		BodyPart:        r.BodyPart,
		Status:          models.RecordStatus(r.Status),
		DoctorDiagnosis: r.DoctorDiagnosis,
		FailureKind:     r.FailureKind,
		CreatedAt:       r.CreatedAt.Time,
	}

	if err := json.Unmarshal([]byte(r.ImageIDs), &rec.ImageIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image ids: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Predictions), &rec.Predictions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal predictions: %w", err)
	}
	if r.Aggregate.Valid && r.Aggregate.String != "" {
		var agg models.AggregateDiagnosis
		if err := json.Unmarshal([]byte(r.Aggregate.String), &agg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregate: %w", err)
		}
		rec.Aggregate = &agg
	}
	return rec, nil
}

const recordColumns = `id, principal_id, modality, body_part, image_ids, status,
	predictions, aggregate, doctor_diagnosis, failure_kind, created_at`

func (r *RecordRepository) Create(ctx context.Context, rec *models.MedicalRecord) error {
	imageIDs, err := json.Marshal(rec.ImageIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal image ids: %w", err)
	}

	query := r.db.rebind(`
		INSERT INTO medical_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, '[]', NULL, '', '', ?)`)

	_, err = r.db.conn.ExecContext(ctx, query,
		rec.ID, rec.PrincipalID, rec.Modality, rec.BodyPart,
		string(imageIDs), string(rec.Status), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id string) (*models.MedicalRecord, error) {
	var row recordRow
	query := r.db.rebind(`SELECT ` + recordColumns + ` FROM medical_records WHERE id = ?`)
	err := r.db.conn.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "record %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toModel()
}

// UpdateStatus moves a record along the lifecycle. Illegal transitions fail
// with InvalidTransition and leave the row untouched.
func (r *RecordRepository) UpdateStatus(ctx context.Context, id string, next models.RecordStatus) error {
	return r.transition(ctx, id, next, "")
}

// FinalizeAnalysis attaches predictions and the aggregate and marks the
// record analyzed in one statement, so a reader never observes a record
// that is analyzed but missing its diagnosis.
func (r *RecordRepository) FinalizeAnalysis(ctx context.Context, id string, predictions []models.PerImagePrediction, aggregate *models.AggregateDiagnosis) error {
	predJSON, err := json.Marshal(predictions)
	if err != nil {
		return fmt.Errorf("failed to marshal predictions: %w", err)
	}
	aggJSON, err := json.Marshal(aggregate)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	return r.transition(ctx, id, models.StatusAnalyzed,
		"predictions = ?, aggregate = ?", string(predJSON), string(aggJSON))
}

func (r *RecordRepository) MarkFailed(ctx context.Context, id string, kind apperr.Kind) error {
	return r.transition(ctx, id, models.StatusFailed, "failure_kind = ?", string(kind))
}

// transition moves a record to next in a single conditional UPDATE. The
// legal source statuses are part of the WHERE clause, so two concurrent
// callers can never both win the same transition regardless of the
// engine's isolation level.
func (r *RecordRepository) transition(ctx context.Context, id string, next models.RecordStatus, extraSet string, extraArgs ...interface{}) error {
	sources := transitionSources(next)
	if len(sources) == 0 {
		return apperr.New(apperr.InvalidTransition, "record %s: no status may become %s", id, next)
	}

	set := "status = ?"
	if extraSet != "" {
		set += ", " + extraSet
	}
	placeholders := strings.Repeat("?, ", len(sources)-1) + "?"

	args := make([]interface{}, 0, len(extraArgs)+len(sources)+2)
	args = append(args, string(next))
	args = append(args, extraArgs...)
	args = append(args, id)
	for _, s := range sources {
		args = append(args, string(s))
	}

	query := r.db.rebind(`UPDATE medical_records SET ` + set +
		` WHERE id = ? AND status IN (` + placeholders + `)`)
	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		current, err := r.currentStatus(ctx, id)
		if err != nil {
			return err
		}
		return apperr.New(apperr.InvalidTransition, "record %s: %s -> %s", id, current, next)
	}
	return nil
}

func (r *RecordRepository) currentStatus(ctx context.Context, id string) (models.RecordStatus, error) {
	var status string
	query := r.db.rebind(`SELECT status FROM medical_records WHERE id = ?`)
	err := r.db.conn.QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.NotFound, "record %q not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read record status: %w", err)
	}
	return models.RecordStatus(status), nil
}

// SetDoctorDiagnosis stores the free-text override. It never touches the
// aggregate diagnosis and may be called repeatedly.
func (r *RecordRepository) SetDoctorDiagnosis(ctx context.Context, id, diagnosis string) error {
	query := r.db.rebind(`UPDATE medical_records SET doctor_diagnosis = ? WHERE id = ?`)
	res, err := r.db.conn.ExecContext(ctx, query, diagnosis, id)
	if err != nil {
		return fmt.Errorf("failed to set doctor diagnosis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.NotFound, "record %q not found", id)
	}
	return nil
}

type ListFilter struct {
	PrincipalID string // empty means all principals (admin view)
	Status      string
	Modality    string
	Page        int
	Limit       int
}

func (r *RecordRepository) List(ctx context.Context, filter ListFilter) ([]*models.MedicalRecord, int, error) {
	var conds []string
	var args []interface{}

	if filter.PrincipalID != "" {
		conds = append(conds, "principal_id = ?")
		args = append(args, filter.PrincipalID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Modality != "" {
		conds = append(conds, "modality = ?")
		args = append(args, filter.Modality)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := r.db.rebind(`SELECT COUNT(*) FROM medical_records` + where)
	if err := r.db.conn.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	query := r.db.rebind(`SELECT ` + recordColumns + ` FROM medical_records` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	args = append(args, filter.Limit, offset)

	var rows []recordRow
	if err := r.db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*models.MedicalRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, nil
}

func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	query := r.db.rebind(`DELETE FROM medical_records WHERE id = ?`)
	_, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ReferencesImage reports whether any record other than excludeRecordID still
// points at the image. Image ids are stored as a JSON array, so a quoted
// containment match is sufficient.
func (r *RecordRepository) ReferencesImage(ctx context.Context, imageID, excludeRecordID string) (bool, error) {
	var count int
	query := r.db.rebind(`SELECT COUNT(*) FROM medical_records WHERE image_ids LIKE ? AND id != ?`)
	err := r.db.conn.GetContext(ctx, &count, query, `%"`+imageID+`"%`, excludeRecordID)
	if err != nil {
		return false, fmt.Errorf("failed to check image references: %w", err)
	}
	return count > 0, nil
}

