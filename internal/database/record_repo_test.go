package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func pendingRecord(principalID string) *models.MedicalRecord {
	return models.NewMedicalRecord(principalID, "xray", "chest", []string{"img-1", "img-2"})
}

func TestRecordRepositoryCreateAndGet(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if got.Status != models.StatusPending {
		t.Errorf("Expected pending status, got %s", got.Status)
	}
	if len(got.ImageIDs) != 2 || got.ImageIDs[0] != "img-1" {
		t.Errorf("Image ids not round-tripped: %v", got.ImageIDs)
	}
	if got.Aggregate != nil {
		t.Errorf("New record must have no aggregate, got %+v", got.Aggregate)
	}

	if _, err := repo.GetByID(ctx, "missing"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound for missing record, got %v", err)
	}
}

func TestRecordRepositoryStatusTransitions(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, rec.ID, models.StatusAnalyzed); !apperr.Is(err, apperr.InvalidTransition) {
		t.Errorf("pending -> analyzed must be rejected, got %v", err)
	}

	if err := repo.UpdateStatus(ctx, rec.ID, models.StatusAnalyzing); err != nil {
		t.Fatalf("pending -> analyzing failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, rec.ID, models.StatusPending); !apperr.Is(err, apperr.InvalidTransition) {
		t.Errorf("analyzing -> pending must be rejected, got %v", err)
	}
}

func TestRecordRepositoryConcurrentTransitionSingleWinner(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.UpdateStatus(ctx, rec.ID, models.StatusAnalyzing)
		}()
	}
	wg.Wait()
	close(errs)

	var won int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case apperr.Is(err, apperr.InvalidTransition):
		default:
			t.Fatalf("UpdateStatus returned unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("Expected exactly one caller to move the record to analyzing, got %d", won)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.StatusAnalyzing {
		t.Errorf("Record status = %s, want %s", got.Status, models.StatusAnalyzing)
	}
}

func TestRecordRepositoryFinalizeAnalysis(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	preds := []models.PerImagePrediction{{
		ImageID:         "img-1",
		ModelID:         "xray-model",
		ConditionScores: map[string]float64{"Normal": 0.2, "Pneumonia": 0.8},
		TopLabel:        "Pneumonia",
		TopConfidence:   0.8,
		ElapsedMs:       12,
	}}
	agg := &models.AggregateDiagnosis{
		Label:           "Pneumonia",
		Confidence:      0.8,
		ConditionScores: map[string]float64{"Normal": 0.2, "Pneumonia": 0.8},
		ModelID:         "xray-model",
	}

	// Finalize is only legal from analyzing.
	if err := repo.FinalizeAnalysis(ctx, rec.ID, preds, agg); !apperr.Is(err, apperr.InvalidTransition) {
		t.Errorf("Finalize from pending must be rejected, got %v", err)
	}

	if err := repo.UpdateStatus(ctx, rec.ID, models.StatusAnalyzing); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := repo.FinalizeAnalysis(ctx, rec.ID, preds, agg); err != nil {
		t.Fatalf("FinalizeAnalysis failed: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.StatusAnalyzed {
		t.Errorf("Expected analyzed, got %s", got.Status)
	}
	if len(got.Predictions) != 1 || got.Predictions[0].TopLabel != "Pneumonia" {
		t.Errorf("Predictions not persisted: %+v", got.Predictions)
	}
	if got.Aggregate == nil || got.Aggregate.ModelID != "xray-model" {
		t.Errorf("Aggregate not persisted: %+v", got.Aggregate)
	}

	// Terminal: no further transitions.
	if err := repo.MarkFailed(ctx, rec.ID, apperr.InferenceFailed); !apperr.Is(err, apperr.InvalidTransition) {
		t.Errorf("analyzed -> failed must be rejected, got %v", err)
	}
}

func TestRecordRepositoryMarkFailed(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.MarkFailed(ctx, rec.ID, apperr.NoCompatibleModel); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, rec.ID)
	if got.Status != models.StatusFailed || got.FailureKind != string(apperr.NoCompatibleModel) {
		t.Errorf("Failure not recorded: status=%s kind=%s", got.Status, got.FailureKind)
	}
}

func TestRecordRepositoryDoctorDiagnosis(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := pendingRecord("patient-1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for _, note := range []string{"first read", "revised read"} {
		if err := repo.SetDoctorDiagnosis(ctx, rec.ID, note); err != nil {
			t.Fatalf("SetDoctorDiagnosis failed: %v", err)
		}
	}

	got, _ := repo.GetByID(ctx, rec.ID)
	if got.DoctorDiagnosis != "revised read" {
		t.Errorf("Expected latest note, got %q", got.DoctorDiagnosis)
	}

	if err := repo.SetDoctorDiagnosis(ctx, "missing", "x"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound for missing record, got %v", err)
	}
}

func TestRecordRepositoryListScopingAndFilters(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, pendingRecord("patient-1")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	other := models.NewMedicalRecord("patient-2", "mri", "brain", []string{"img-9"})
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	scoped, total, err := repo.List(ctx, ListFilter{PrincipalID: "patient-1", Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected total 3 for patient-1, got %d", total)
	}
	if len(scoped) != 2 {
		t.Errorf("Expected page of 2, got %d", len(scoped))
	}

	all, total, err := repo.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Errorf("Admin view expected 4 records, got total=%d len=%d", total, len(all))
	}

	mri, _, err := repo.List(ctx, ListFilter{Modality: "mri"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(mri) != 1 || mri[0].PrincipalID != "patient-2" {
		t.Errorf("Modality filter broken: %+v", mri)
	}
}

func TestRecordRepositoryReferencesImage(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	a := models.NewMedicalRecord("p", "xray", "chest", []string{"img-shared", "img-a"})
	b := models.NewMedicalRecord("p", "xray", "chest", []string{"img-shared"})
	for _, rec := range []*models.MedicalRecord{a, b} {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	shared, err := repo.ReferencesImage(ctx, "img-shared", b.ID)
	if err != nil {
		t.Fatalf("ReferencesImage failed: %v", err)
	}
	if !shared {
		t.Error("img-shared is still referenced by record a")
	}

	exclusive, err := repo.ReferencesImage(ctx, "img-a", a.ID)
	if err != nil {
		t.Fatalf("ReferencesImage failed: %v", err)
	}
	if exclusive {
		t.Error("img-a has no other referents")
	}
}

func TestImageRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewImageRepository(db)
	ctx := context.Background()

	img := models.NewUploadedImage("patient-1", "patient-1_1_chest.png", "chest.png", "image/png", 1024)
	if err := repo.Create(ctx, img); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.StoragePath != img.StoragePath || got.SizeBytes != 1024 {
		t.Errorf("Image not round-tripped: %+v", got)
	}

	if err := repo.Delete(ctx, img.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, img.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("Expected NotFound after delete, got %v", err)
	}
}
