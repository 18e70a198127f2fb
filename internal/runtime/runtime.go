// Package runtime assembles the murmurd daemon: embedded bus, history
// store, capture host, transcription worker, pipeline, and the HTTP API.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/capture"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/history"
	"github.com/murmurlabs/murmur-core/internal/models"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/notify"
	"github.com/murmurlabs/murmur-core/internal/pipeline"
	"github.com/murmurlabs/murmur-core/internal/state"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded *natsserver.EmbeddedServer
	busConn  *bus.Client
	store    *history.Store
	worker   *transcribe.Worker
	pipeline *pipeline.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up in dependency order, serves until ctx is
// cancelled, then tears down in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}

	r.busConn, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable, continuing without it", slog.String("error", err.Error()))
		r.busConn = nil
	}

	r.store, err = history.Open(r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	host, err := capture.NewHost(r.cfg.Capture)
	if err != nil {
		return fmt.Errorf("init capture backend: %w", err)
	}

	r.worker, err = transcribe.NewWorker(r.cfg.Transcribe, r.logger)
	if err != nil {
		return fmt.Errorf("init transcribe worker: %w", err)
	}

	var conn *nats.Conn
	if r.busConn != nil {
		conn = r.busConn.Conn()
	}
	sink := notify.NewBusSink(conn, r.logger)
	machine := state.NewMachine()
	r.pipeline = pipeline.New(r.cfg, r.logger, conn, machine, host, r.worker, r.store, sink)
	if err := r.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/status", r.handleStatus)
	mux.HandleFunc("/v1/control/", r.handleControl)
	mux.HandleFunc("/v1/history", r.handleHistory)
	mux.HandleFunc("/v1/history/", r.handleHistoryByID)
	mux.HandleFunc("/v1/models", r.handleModels)
	mux.HandleFunc("/v1/models/", r.handleModelDownload)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("capture_backend", r.cfg.Capture.Backend),
		slog.String("transcribe_mode", r.cfg.Transcribe.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := r.pipeline.Close(); err != nil {
		r.logger.Error("pipeline shutdown error", slog.String("error", err.Error()))
	}
	if err := r.worker.Close(); err != nil {
		r.logger.Error("worker shutdown error", slog.String("error", err.Error()))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("history shutdown error", slog.String("error", err.Error()))
	}
	r.busConn.Close()
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"status": string(r.pipeline.Status()),
		"input":  r.pipeline.InputStatus(),
		"model":  r.cfg.Transcribe.Model,
	})
}

// handleControl mirrors the bus control subjects for clients that only
// speak HTTP.
func (r *Runtime) handleControl(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	op := strings.TrimPrefix(req.URL.Path, "/v1/control/")

	var err error
	switch op {
	case "start":
		err = r.pipeline.StartRecording()
	case "stop":
		err = r.pipeline.StopRecording()
	case "toggle":
		err = r.pipeline.ToggleRecording()
	case "cancel":
		err = r.pipeline.CancelTranscription()
	default:
		http.Error(w, "unknown control operation", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": string(r.pipeline.Status())})
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var (
		entries []history.Entry
		err     error
	)
	if q := req.URL.Query().Get("q"); q != "" {
		entries, err = r.store.Search(req.Context(), q, limit)
	} else {
		entries, err = r.store.List(req.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, entries)
}

func (r *Runtime) handleHistoryByID(w http.ResponseWriter, req *http.Request) {
	raw := strings.TrimPrefix(req.URL.Path, "/v1/history/")
	if raw == "search" {
		r.handleHistory(w, req)
		return
	}
	if req.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := r.store.Delete(req.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleModels(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos, err := models.List(r.cfg.Transcribe.ModelsDir, r.cfg.Transcribe.Model)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, infos)
}

// handleModelDownload fetches a catalog model into the models directory.
func (r *Runtime) handleModelDownload(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/v1/models/")
	name, op, ok := strings.Cut(rest, "/")
	if !ok || op != "download" || name == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var lastTenth int64 = -1
	progress := func(received, total int64) {
		if total <= 0 {
			return
		}
		if tenth := received * 10 / total; tenth > lastTenth {
			lastTenth = tenth
			r.logger.Debug("model download progress",
				slog.String("model", name),
				slog.Int64("received", received),
				slog.Int64("total", total))
		}
	}
	if err := models.Download(req.Context(), r.cfg.Transcribe.ModelsDir, name, progress); err != nil {
		if errors.Is(err, models.ErrUnknownModel) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	r.logger.Info("model downloaded", slog.String("model", name))
	writeJSON(w, map[string]string{"model": name, "status": "installed"})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
