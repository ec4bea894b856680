package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brainctl/internal/orchestrator"
	"brainctl/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Nodes() []types.NodeSummary
	Ready() bool
	ResetNode(ctx context.Context, id string, rewarm bool) error
	WarmupNode(ctx context.Context, id string) error
	StopNode(ctx context.Context, id string) error
	SyncVolumes(ctx context.Context) (orchestrator.SyncReport, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.NodesResponse{Nodes: svc.Nodes()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/nodes/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rewarm := boolParam(r, "rewarm")
		if r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			var req types.ResetRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			// body wins over the query parameter
			rewarm = req.Rewarm
		}
		runNodeOp(w, r, "reset", id, func(ctx context.Context) error {
			return svc.ResetNode(ctx, id, rewarm)
		})
	})

	r.Post("/nodes/{id}/warmup", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		runNodeOp(w, r, "warmup", id, func(ctx context.Context) error {
			return svc.WarmupNode(ctx, id)
		})
	})

	r.Post("/nodes/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		runNodeOp(w, r, "stop", id, func(ctx context.Context) error {
			return svc.StopNode(ctx, id)
		})
	})

	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, cancel := opContext(r)
		defer cancel()
		rep, err := svc.SyncVolumes(ctx)
		if err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := writeServiceError(w, err)
			logOp(r, "sync", status, start, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.SyncResponse{
			FilesCopied:     rep.Stats.FilesCopied,
			BytesCopied:     rep.Stats.BytesCopied,
			SkippedExisting: rep.Stats.Skipped,
			DurationMS:      rep.Took.Milliseconds(),
		})
		logOp(r, "sync", http.StatusOK, start, nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// runNodeOp runs a per-node workflow operation and writes the JSON result.
func runNodeOp(w http.ResponseWriter, r *http.Request, op, id string, run func(ctx context.Context) error) {
	start := time.Now()
	ctx, cancel := opContext(r)
	defer cancel()
	if err := run(ctx); err != nil {
		// If context was canceled (client disconnect), just return.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := writeServiceError(w, err)
		logOp(r, op, status, start, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.NodeOpResponse{Node: id, Op: op, Status: "ok"})
	logOp(r, op, http.StatusOK, start, nil)
}

// boolParam reads a query parameter as a boolean ("1" or "true").
func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || strings.EqualFold(v, "true")
}
