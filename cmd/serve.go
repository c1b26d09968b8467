package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/config"
	"github.com/live-cpu/exhibition-sub000/internal/ingest"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	Long:  "Serves health, metrics, job status and on-demand sync/repair endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(a, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the admin API on top of an initialized app.
func newRouter(a *app, c *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handlers{app: a, cfg: c, log: zap.L().With(zap.String("component", "http"))}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Get("/{name}", h.getJob)
		r.Post("/{name}/run", h.runJob)
	})
	r.Get("/quota", h.quota)
	r.Post("/sync", h.sync)
	r.Post("/repair", h.repair)
	return r
}

type handlers struct {
	app *app
	cfg *config.Config
	log *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) quota(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Governor.Load(r.Context(), h.app.Store); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.app.Governor.Snapshot()})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	dateKey := h.app.Scheduler.DateKey()
	rows, err := jobStatuses(r.Context(), h.app.Store, h.cfg.Scheduler.Jobs, dateKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"job":        row.Name,
			"at":         row.At,
			"daily_cap":  row.DailyCap,
			"runs_today": row.Runs,
			"last_run":   row.LastRun,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": dateKey, "jobs": out})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.knownJob(name) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":           name,
		"can_run_today": h.app.Service.CanJobRunToday(r.Context(), name),
	})
}

func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.knownJob(name) {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	outcome, err := h.app.Scheduler.RunNow(r.Context(), name, force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": name, "outcome": outcome})
}

func (h *handlers) sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxNewInserts *int `json:"max_new_inserts"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	opts := ingest.SyncOptions{MaxNewInserts: h.cfg.Sync.MaxNewInserts}
	if req.MaxNewInserts != nil {
		opts.MaxNewInserts = *req.MaxNewInserts
	}

	rep, err := h.app.Service.RunSyncCycle(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) repair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []string `json:"sources"`
		Limit   int      `json:"limit"`
		Force   bool     `json:"force"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.cfg.Repair.Limit
	}

	rep, err := h.app.Service.RunPeriodRepair(r.Context(), ingest.RepairOptions{
		Sources: req.Sources,
		Limit:   req.Limit,
		Force:   req.Force,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) knownJob(name string) bool {
	for _, j := range h.cfg.Scheduler.Jobs {
		if j.Name == name {
			return true
		}
	}
	return false
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
