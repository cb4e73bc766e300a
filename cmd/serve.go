package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/ingest"
	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/scheduler"
	"github.com/listify/reviewsync/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		q := queue.NewService(st)
		sched := scheduler.New(st, q, cfg.Queue.TargetDepth)
		led := ledger.New(st)
		importer := ingest.New(st, led, quota.NewEnforcer(nil),
			ingest.WithChunkDelay(time.Duration(cfg.Import.ChunkDelayMillis)*time.Millisecond))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, port),
			Handler: buildRouter(st, q, sched, led, importer),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter assembles the API routes.
func buildRouter(st store.Store, q *queue.Service, sched *scheduler.Scheduler, led *ledger.Ledger, importer *ingest.Importer) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/queue/status", func(w http.ResponseWriter, req *http.Request) {
		status, err := q.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Post("/queue/enqueue", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			BusinessID string `json:"business_id"`
			Priority   *int   `json:"priority,omitempty"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if body.BusinessID == "" {
			http.Error(w, `{"error":"business_id is required"}`, http.StatusBadRequest)
			return
		}

		b, err := st.GetBusiness(req.Context(), body.BusinessID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if b.PlaceID == "" {
			http.Error(w, `{"error":"business has no place ID"}`, http.StatusUnprocessableEntity)
			return
		}

		priority := scheduler.Priority(b.Tier, b.LastSyncAt, time.Now())
		if body.Priority != nil {
			priority = *body.Priority
		}

		added, err := q.Enqueue(req.Context(), queue.Request{
			BusinessID: b.ID,
			PlaceID:    b.PlaceID,
			Priority:   priority,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		code := http.StatusAccepted
		if !added {
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]any{
			"business_id": b.ID,
			"added":       added,
			"priority":    priority,
		})
	})

	r.Post("/queue/refill", func(w http.ResponseWriter, req *http.Request) {
		result, err := sched.Refill(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/import", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Source  string         `json:"source"`
			Mapping ingest.Mapping `json:"mapping"`
			Header  []string       `json:"header"`
			Rows    [][]string     `json:"rows"`
			Force   bool           `json:"force"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(body.Rows) == 0 {
			http.Error(w, `{"error":"rows are required"}`, http.StatusBadRequest)
			return
		}

		source := body.Source
		if source == "" {
			source = "api"
		}

		batch, err := importer.Run(req.Context(), model.BatchTypeExternalBulk, source,
			body.Header, body.Rows, &body.Mapping, body.Force)
		if err != nil {
			if errors.Is(err, store.ErrBatchCompleted) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	})

	r.Get("/businesses/{id}", func(w http.ResponseWriter, req *http.Request) {
		b, err := st.GetBusiness(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	})

	r.Get("/batches/{id}", func(w http.ResponseWriter, req *http.Request) {
		batch, err := led.GetBatch(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
