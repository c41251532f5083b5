package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"attendance-sync-service/internal/config"
	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

type Handler struct {
	cfg       config.ServerConfig
	manager   *sync.Manager
	scheduler *sync.Scheduler
	store     store.Store

	// manual detections awaiting review, by location id
	mu      stdsync.Mutex
	reviews map[int64]*sync.Detection
}

func NewHandler(cfg config.ServerConfig, manager *sync.Manager, scheduler *sync.Scheduler, st store.Store) *Handler {
	return &Handler{
		cfg:       cfg,
		manager:   manager,
		scheduler: scheduler,
		store:     st,
		reviews:   make(map[int64]*sync.Detection),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/sync/status", h.GetSyncStatus)
		r.Put("/sync/settings", h.UpdateSettings)
		r.Post("/sync/trigger", h.TriggerSync)

		r.Get("/locations", h.ListLocations)
		r.Route("/locations/{id}", func(r chi.Router) {
			r.Get("/history", h.GetHistory)
			r.Post("/detect", h.Detect)
			r.Get("/changes", h.GetChanges)
			r.Delete("/changes", h.DiscardChanges)
			r.Post("/changes/{index}/approve", h.approveChange(true))
			r.Post("/changes/{index}/reject", h.approveChange(false))
			r.Post("/apply", h.Apply)
		})
	})

	return r
}

// RequestLogger writes one zap line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			logger.Log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin(origin string) string {
	for _, o := range h.cfg.CorsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

// AuthMiddleware requires "Authorization: Bearer <token>" when an auth token is
// configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
