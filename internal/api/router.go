package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(app.Log))
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api/diagnostics", func(r chi.Router) {
		r.Use(Authenticate)

		r.Post("/upload", app.UploadHandler)
		r.Post("/analyze/{recordID}", app.AnalyzeHandler)
		r.Post("/analyze-image", app.AnalyzeImageHandler)
		r.Get("/records", app.ListRecordsHandler)
		r.Get("/records/{recordID}", app.GetRecordHandler)
		r.Patch("/records/{recordID}/diagnosis", app.DoctorDiagnosisHandler)
		r.Delete("/records/{recordID}", app.DeleteRecordHandler)
		r.Get("/models", app.ListModelsHandler)
		r.Post("/models/refresh", app.RefreshModelsHandler)
	})

	return r
}
