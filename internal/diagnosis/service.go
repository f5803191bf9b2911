package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/database"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/inference"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/preprocess"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/storage"
)

// Predictor runs one forward pass. *inference.Engine is the production
// implementation.
type Predictor interface {
	Predict(ctx context.Context, desc *registry.Descriptor, t *preprocess.Tensor) (map[string]float64, error)
}

// Upload is one incoming file of a diagnostic study.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Service drives a record through its lifecycle: store the originals, route
// to a compatible model, preprocess and predict each image through the shared
// worker pool, aggregate, and commit the result atomically.
type Service struct {
	store     storage.Storage
	images    *database.ImageRepository
	records   *database.RecordRepository
	catalog   ModelCatalog
	engine    Predictor
	pool      *inference.Pool
	timeout   time.Duration
	maxImages int
	log       *zap.Logger
}

func NewService(
	store storage.Storage,
	images *database.ImageRepository,
	records *database.RecordRepository,
	catalog ModelCatalog,
	engine Predictor,
	pool *inference.Pool,
	timeout time.Duration,
	maxImages int,
	log *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		images:    images,
		records:   records,
		catalog:   catalog,
		engine:    engine,
		pool:      pool,
		timeout:   timeout,
		maxImages: maxImages,
		log:       log,
	}
}

// CreateRecord stores every upload and creates a pending record referencing
// them. The upload is all-or-nothing: a failure part way through removes the
// files and rows already written so no orphans remain.
func (s *Service) CreateRecord(ctx context.Context, principal models.Principal, modality, bodyPart string, uploads []Upload) (*models.MedicalRecord, error) {
	if modality == "" || bodyPart == "" {
		return nil, apperr.New(apperr.InvalidUpload, "modality and body part are required")
	}
	if len(uploads) == 0 {
		return nil, apperr.New(apperr.InvalidUpload, "at least one image is required")
	}
	if len(uploads) > s.maxImages {
		return nil, apperr.New(apperr.InvalidUpload, "a record holds at most %d images, got %d", s.maxImages, len(uploads))
	}

	var saved []*models.UploadedImage
	cleanup := func() {
		for _, img := range saved {
			if err := s.store.Delete(img.StoragePath); err != nil {
				s.log.Warn("Failed to remove file during upload rollback",
					zap.String("path", img.StoragePath), zap.Error(err))
			}
			if err := s.images.Delete(ctx, img.ID); err != nil {
				s.log.Warn("Failed to remove image row during upload rollback",
					zap.String("image_id", img.ID), zap.Error(err))
			}
		}
	}

	for _, u := range uploads {
		path, err := s.store.Save(u.Reader, storage.FileInfo{
			PrincipalID:  principal.ID,
			OriginalName: u.Name,
			ContentType:  u.ContentType,
			Size:         u.Size,
		})
		if err != nil {
			cleanup()
			return nil, err
		}

		img := models.NewUploadedImage(principal.ID, path, u.Name, u.ContentType, u.Size)
		if err := s.images.Create(ctx, img); err != nil {
			if derr := s.store.Delete(path); derr != nil {
				s.log.Warn("Failed to remove file during upload rollback",
					zap.String("path", path), zap.Error(derr))
			}
			cleanup()
			return nil, err
		}
		saved = append(saved, img)
	}

	imageIDs := make([]string, len(saved))
	for i, img := range saved {
		imageIDs[i] = img.ID
	}

	record := models.NewMedicalRecord(principal.ID, modality, bodyPart, imageIDs)
	if err := s.records.Create(ctx, record); err != nil {
		cleanup()
		return nil, err
	}

	s.log.Info("Record created",
		zap.String("record_id", record.ID),
		zap.String("principal_id", principal.ID),
		zap.String("modality", modality),
		zap.String("body_part", bodyPart),
		zap.Int("images", len(imageIDs)))
	return record, nil
}

// Analyze runs the full pipeline for one record. An already analyzed record
// returns its stored result without touching a model. Routing happens before
// the record leaves pending, so an incompatible explicit model or an empty
// candidate set never strands a record in analyzing.
//
// Individual images that cannot be decoded or do not fit the model's input
// are skipped with a warning; the record fails only when no image succeeds
// or the model itself breaks.
func (s *Service) Analyze(ctx context.Context, recordID, modelID string) (*models.MedicalRecord, []string, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}

	switch record.Status {
	case models.StatusAnalyzed:
		return record, nil, nil
	case models.StatusAnalyzing:
		return nil, nil, apperr.New(apperr.InvalidTransition, "record %s is already being analyzed", recordID)
	case models.StatusFailed:
		return nil, nil, apperr.New(apperr.InvalidTransition, "record %s already failed (%s)", recordID, record.FailureKind)
	}

	desc, err := ResolveModel(s.catalog, record, modelID)
	if err != nil {
		if apperr.Is(err, apperr.NoCompatibleModel) {
			s.markFailed(record.ID, apperr.NoCompatibleModel)
		}
		return nil, nil, err
	}

	if err := s.records.UpdateStatus(ctx, record.ID, models.StatusAnalyzing); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	predictions, warnings, err := s.analyzeImages(ctx, record, desc)
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away; leave the record alone.
			return nil, nil, ctx.Err()
		}
		kind := apperr.KindOf(err)
		if errors.Is(err, context.DeadlineExceeded) {
			kind = apperr.InferenceTimeout
			err = apperr.Wrap(kind, err, "analysis of record %s exceeded %s", record.ID, s.timeout)
		}
		s.markFailed(record.ID, kind)
		return nil, nil, err
	}

	if len(predictions) == 0 {
		s.markFailed(record.ID, apperr.ImageDecodeFailed)
		return nil, nil, apperr.New(apperr.ImageDecodeFailed,
			"no image of record %s could be analyzed: %v", record.ID, warnings)
	}

	aggregate, err := Aggregate(predictions, desc.Labels)
	if err != nil {
		s.markFailed(record.ID, apperr.KindOf(err))
		return nil, nil, err
	}

	if err := s.records.FinalizeAnalysis(ctx, record.ID, predictions, aggregate); err != nil {
		return nil, nil, err
	}

	s.log.Info("Record analyzed",
		zap.String("record_id", record.ID),
		zap.String("model_id", desc.ID),
		zap.String("diagnosis", aggregate.Label),
		zap.Float64("confidence", aggregate.Confidence),
		zap.Int("images_analyzed", len(predictions)),
		zap.Int("images_skipped", len(warnings)),
		zap.Duration("elapsed", time.Since(start)))

	record, err = s.records.GetByID(ctx, record.ID)
	if err != nil {
		return nil, nil, err
	}
	return record, warnings, nil
}

// analyzeImages runs preprocessing and inference for every image of the
// record under the service timeout. The returned predictions keep the
// record's image order regardless of completion order.
func (s *Service) analyzeImages(ctx context.Context, record *models.MedicalRecord, desc *registry.Descriptor) ([]models.PerImagePrediction, []string, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]*models.PerImagePrediction, len(record.ImageIDs))
	var mu sync.Mutex
	var warnings []string

	g, gctx := errgroup.WithContext(tctx)
	for i, imageID := range record.ImageIDs {
		i, imageID := i, imageID
		g.Go(func() error {
			pred, err := s.analyzeOne(gctx, imageID, desc)
			if err != nil {
				if skippable(err) {
					mu.Lock()
					warnings = append(warnings, fmt.Sprintf("image %s skipped: %v", imageID, err))
					mu.Unlock()
					s.log.Warn("Image skipped during analysis",
						zap.String("record_id", record.ID),
						zap.String("image_id", imageID),
						zap.Error(err))
					return nil
				}
				return err
			}
			results[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	predictions := make([]models.PerImagePrediction, 0, len(results))
	for _, p := range results {
		if p != nil {
			predictions = append(predictions, *p)
		}
	}
	return predictions, warnings, nil
}

func (s *Service) analyzeOne(ctx context.Context, imageID string, desc *registry.Descriptor) (*models.PerImagePrediction, error) {
	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		return nil, err
	}

	f, err := s.store.Open(img.StoragePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.ImageDecodeFailed, err, "failed to open %s", img.StoragePath)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, apperr.Wrap(apperr.ImageDecodeFailed, err, "failed to read %s", img.StoragePath)
	}

	tensor, err := preprocess.Run(raw, desc.InputShape, desc.Preprocessing)
	if err != nil {
		return nil, err
	}

	var scores map[string]float64
	start := time.Now()
	err = s.pool.Do(ctx, func() error {
		var perr error
		scores, perr = s.engine.Predict(ctx, desc, tensor)
		return perr
	})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	top := TopLabel(scores, desc.Labels)
	return &models.PerImagePrediction{
		ImageID:         imageID,
		ModelID:         desc.ID,
		ConditionScores: scores,
		TopLabel:        top,
		TopConfidence:   scores[top],
		ElapsedMs:       elapsed.Milliseconds(),
	}, nil
}

// skippable reports whether a per-image error only disqualifies that image.
// Model-level and infrastructure errors fail the whole record.
func skippable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.ImageDecodeFailed, apperr.ShapeMismatch:
		return true
	}
	return false
}

// markFailed records a failure on its own context so the outcome survives
// the request context being cancelled or expired.
func (s *Service) markFailed(recordID string, kind apperr.Kind) {
	mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.records.MarkFailed(mctx, recordID, kind); err != nil {
		s.log.Error("Failed to record analysis failure",
			zap.String("record_id", recordID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

// DeleteRecord removes the record and hard-deletes any of its images that no
// other record references.
func (s *Service) DeleteRecord(ctx context.Context, record *models.MedicalRecord) error {
	if err := s.records.Delete(ctx, record.ID); err != nil {
		return err
	}

	for _, imageID := range record.ImageIDs {
		shared, err := s.records.ReferencesImage(ctx, imageID, record.ID)
		if err != nil {
			s.log.Warn("Failed to check image references during delete",
				zap.String("image_id", imageID), zap.Error(err))
			continue
		}
		if shared {
			continue
		}

		img, err := s.images.GetByID(ctx, imageID)
		if err != nil {
			continue
		}
		if err := s.store.Delete(img.StoragePath); err != nil {
			s.log.Warn("Failed to delete stored file",
				zap.String("path", img.StoragePath), zap.Error(err))
		}
		if err := s.images.Delete(ctx, imageID); err != nil {
			s.log.Warn("Failed to delete image row",
				zap.String("image_id", imageID), zap.Error(err))
		}
	}
	return nil
}
