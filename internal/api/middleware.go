package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/models"
)

type contextKey int

const principalKey contextKey = iota

// Authenticate reads the principal the upstream auth proxy attached to the
// request. X-Principal-ID is mandatory; X-Principal-Role defaults to patient.
// X-Auth-Expires-At, when present, carries the upstream token expiry as a
// unix timestamp.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Principal-ID")
		if id == "" {
			writeError(w, apperr.New(apperr.AuthMissing, "missing principal"))
			return
		}

		if exp := r.Header.Get("X-Auth-Expires-At"); exp != "" {
			ts, err := strconv.ParseInt(exp, 10, 64)
			if err != nil || time.Now().Unix() >= ts {
				writeError(w, apperr.New(apperr.AuthExpired, "credentials expired"))
				return
			}
		}

		role := r.Header.Get("X-Principal-Role")
		switch role {
		case "":
			role = models.RolePatient
		case models.RolePatient, models.RoleDoctor, models.RoleAdmin:
		default:
			writeError(w, apperr.New(apperr.AuthMissing, "unknown role %q", role))
			return
		}

		principal := models.Principal{ID: id, Role: role}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey).(models.Principal)
	return p
}

// RequestLogger logs one line per request once the response is written.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Info("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
