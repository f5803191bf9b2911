package api

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/database"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/diagnosis"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

// maxListLimit caps the page size a client can request when listing records.
const maxListLimit = 100

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type App struct {
	Service       *diagnosis.Service
	Records       *database.RecordRepository
	Registry      *registry.Registry
	Log           *zap.Logger
	MaxUploadSize int64
	MaxImages     int
}

type analyzeRequest struct {
	ModelID string `json:"modelId"`
}

type recordResponse struct {
	Record   *models.MedicalRecord `json:"record"`
	Warnings []string              `json:"warnings,omitempty"`
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	uploads, err := app.parseUploads(w, r, "images")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeUploads(uploads)

	record, err := app.Service.CreateRecord(r.Context(), principal,
		r.FormValue("modality"), r.FormValue("bodyPart"), uploads)
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordResponse{Record: record})
}

func (app *App) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	record, err := app.ownedRecord(r, chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req analyzeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.New(apperr.InvalidUpload, "malformed request body"))
			return
		}
	}

	analyzed, warnings, err := app.Service.Analyze(r.Context(), record.ID, req.ModelID)
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{Record: analyzed, Warnings: warnings})
}

// AnalyzeImageHandler is the one-shot path: store a single image, create the
// record, and run the pipeline in the same request. The record persists even
// when analysis fails.
func (app *App) AnalyzeImageHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	uploads, err := app.parseUploads(w, r, "image")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeUploads(uploads)
	if len(uploads) != 1 {
		writeError(w, apperr.New(apperr.InvalidUpload, "exactly one image is required"))
		return
	}

	record, err := app.Service.CreateRecord(r.Context(), principal,
		r.FormValue("modality"), r.FormValue("bodyPart"), uploads)
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	analyzed, warnings, err := app.Service.Analyze(r.Context(), record.ID, r.FormValue("modelId"))
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{Record: analyzed, Warnings: warnings})
}

func (app *App) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	filter := database.ListFilter{
		Status:   r.URL.Query().Get("status"),
		Modality: r.URL.Query().Get("modality"),
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", 20),
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if !principal.IsAdmin() {
		filter.PrincipalID = principal.ID
	}

	records, total, err := app.Records.List(r.Context(), filter)
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (app *App) GetRecordHandler(w http.ResponseWriter, r *http.Request) {
	record, err := app.ownedRecord(r, chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: record})
}

func (app *App) DoctorDiagnosisHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !principal.CanDiagnose() {
		writeError(w, apperr.New(apperr.Forbidden, "role %s cannot set a diagnosis", principal.Role))
		return
	}

	var req struct {
		DoctorDiagnosis string `json:"doctorDiagnosis"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DoctorDiagnosis == "" {
		writeError(w, apperr.New(apperr.InvalidUpload, "doctorDiagnosis is required"))
		return
	}

	recordID := chi.URLParam(r, "recordID")
	if err := app.Records.SetDoctorDiagnosis(r.Context(), recordID, req.DoctorDiagnosis); err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}

	record, err := app.Records.GetByID(r.Context(), recordID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: record})
}

func (app *App) DeleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	record, err := app.ownedRecord(r, chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := app.Service.DeleteRecord(r.Context(), record); err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) ListModelsHandler(w http.ResponseWriter, r *http.Request) {
	active := app.Registry.Active()
	out := make([]registry.PublicDescriptor, 0, len(active))
	for _, d := range active {
		out = append(out, d.Public())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": out})
}

func (app *App) RefreshModelsHandler(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if !principal.IsAdmin() {
		writeError(w, apperr.New(apperr.Forbidden, "only admins can refresh the registry"))
		return
	}

	n, err := app.Registry.Scan()
	if err != nil {
		app.logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models_loaded": n})
}

// ownedRecord fetches a record and hides its existence from principals that
// neither own it nor hold the admin role.
func (app *App) ownedRecord(r *http.Request, recordID string) (*models.MedicalRecord, error) {
	principal := principalFrom(r.Context())

	record, err := app.Records.GetByID(r.Context(), recordID)
	if err != nil {
		return nil, err
	}
	if record.PrincipalID != principal.ID && !principal.IsAdmin() {
		return nil, apperr.New(apperr.NotFound, "record %s not found", recordID)
	}
	return record, nil
}

func (app *App) parseUploads(w http.ResponseWriter, r *http.Request, field string) ([]diagnosis.Upload, error) {
	limit := app.MaxUploadSize * int64(app.MaxImages)
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, apperr.Wrap(apperr.InvalidUpload, err, "failed to parse multipart form")
	}

	headers := r.MultipartForm.File[field]
	uploads := make([]diagnosis.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeUploads(uploads)
			return nil, apperr.Wrap(apperr.InvalidUpload, err, "failed to open %s", h.Filename)
		}
		uploads = append(uploads, diagnosis.Upload{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Reader:      f,
		})
	}
	return uploads, nil
}

func closeUploads(uploads []diagnosis.Upload) {
	for _, u := range uploads {
		if c, ok := u.Reader.(multipart.File); ok {
			c.Close()
		}
	}
}

func (app *App) logFailure(r *http.Request, err error) {
	app.Log.Warn("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
