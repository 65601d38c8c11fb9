// Package api is the local HTTP surface the UI shell talks to. It
// adapts requests onto the collection, sync, catalog, and GNSS
// subsystems; no domain decisions live here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"field-sync-service/internal/auth"
	"field-sync-service/internal/catalog"
	"field-sync-service/internal/collect"
	"field-sync-service/internal/gnss"
	"field-sync-service/internal/logger"
	"field-sync-service/internal/netwatch"
	"field-sync-service/internal/remote"
	"field-sync-service/internal/store"
	"field-sync-service/internal/sync"
)

type Handler struct {
	store        store.Store
	monitor      *gnss.Monitor
	collector    *collect.Collector
	engine       *sync.Engine
	gate         *sync.Gate
	orchestrator *sync.Orchestrator
	session      *auth.Session
	catalog      *catalog.Manager
	remote       *remote.Client
	watcher      *netwatch.Watcher

	validate *validator.Validate
	upgrader websocket.Upgrader
}

// Deps collects everything the handlers adapt onto.
type Deps struct {
	Store        store.Store
	Monitor      *gnss.Monitor
	Collector    *collect.Collector
	Engine       *sync.Engine
	Gate         *sync.Gate
	Orchestrator *sync.Orchestrator
	Session      *auth.Session
	Catalog      *catalog.Manager
	Remote       *remote.Client
	Watcher      *netwatch.Watcher
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:        deps.Store,
		monitor:      deps.Monitor,
		collector:    deps.Collector,
		engine:       deps.Engine,
		gate:         deps.Gate,
		orchestrator: deps.Orchestrator,
		session:      deps.Session,
		catalog:      deps.Catalog,
		remote:       deps.Remote,
		watcher:      deps.Watcher,
		validate:     validator.New(),
		upgrader: websocket.Upgrader{
			// The shell runs on loopback next to us.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(ZapLogger)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/sync", h.TriggerSync)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Post("/sync", h.TriggerProjectSync)
				r.Get("/features", h.ProjectFeatures)
				r.Get("/server-features", h.ServerFeatures)
				r.Post("/catalog/refresh", h.RefreshCatalog)
				r.Post("/activate", h.ActivateProject)
			})
		})

		r.Get("/catalog/{projectID}", h.Catalog)

		r.Route("/collection", func(r chi.Router) {
			r.Get("/", h.CurrentSession)
			r.Post("/start", h.StartCollection)
			r.Post("/record", h.RecordPoint)
			r.Post("/save", h.SaveCurrentPoint)
			r.Post("/complete", h.CompleteFeature)
			r.Post("/cancel", h.CancelCollection)
			r.Post("/reserve", h.ReserveMarker)
			r.Post("/commit", h.CommitMarker)
			r.Post("/rollback", h.RollbackMarker)
		})

		r.Route("/points/{clientID}", func(r chi.Router) {
			r.Get("/", h.GetPoint)
			r.Put("/", h.UpdatePoint)
		})
		r.Delete("/features/{clientID}", h.DeactivateFeature)

		r.Route("/gnss", func(r chi.Router) {
			r.Get("/", h.CurrentFix)
			r.Get("/stream", h.StreamFixes)
			r.Post("/sentences", h.IngestSentences)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/token", h.SetToken)
			r.Delete("/token", h.Logout)
			r.Post("/offline", h.SetOffline)
		})

		r.Post("/lifecycle/foreground", h.Foreground)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func ZapLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Log.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// decode unmarshals and validates a request body, answering the 400
// itself when either step fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			msgs := make([]string, 0, len(fields))
			for _, fe := range fields {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			respondError(w, http.StatusBadRequest, strings.Join(msgs, "; "))
			return false
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// remoteStatus maps upstream failures: a transport problem with the
// authoritative server is a 502 from the UI's point of view.
func remoteStatus(err error) int {
	var te *remote.TransportError
	if errors.As(err, &te) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
