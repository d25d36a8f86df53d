package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txtparrot/voicegate/internal/orchestrator"
	"github.com/txtparrot/voicegate/internal/pipeline"
	"github.com/txtparrot/voicegate/internal/trace"
)

const (
	// statusProbeTimeout bounds the per-backend health probes behind
	// GET /api/status.
	statusProbeTimeout = 5 * time.Second

	// defaultTraceSessionLimit is how many trace sessions are returned
	// when the caller omits the ?limit= query parameter.
	defaultTraceSessionLimit = 20
)

type deps struct {
	pipe       *pipeline.Pipeline
	router     *pipeline.SynthRouter
	openvoice  *pipeline.OpenVoiceClient
	wsHandler  http.Handler
	svcMgr     orchestrator.ServiceManager
	traceStore *trace.Store
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("GET /{$}", handleWelcome)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("POST /clone", d.handleClone)
	mux.HandleFunc("POST /tts", d.handleTTS)
	if d.wsHandler != nil {
		mux.Handle("/ws/speak", d.wsHandler)
	}
	mux.HandleFunc("GET /api/voices", d.handleVoices)
	mux.HandleFunc("GET /api/status", d.handleStatus)
	mux.HandleFunc("POST /api/tts/warmup", d.handleWarmup)
	mux.HandleFunc("GET /api/tts/health", d.handleTTSHealth)
	mux.HandleFunc("GET /api/services", d.handleServices)
	mux.HandleFunc("POST /api/services/{name}/start", d.handleServiceStart)
	mux.HandleFunc("POST /api/services/{name}/stop", d.handleServiceStop)
	mux.HandleFunc("GET /api/services/{name}/status", d.handleServiceStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	registerTraceRoutes(mux, d.traceStore)
}

func handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Welcome to txtparrot!"))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d deps) handleClone(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided.")
		return
	}
	defer file.Close()

	userID := r.FormValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Missing 'userId' in request payload.")
		return
	}

	sample, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clone speaker: "+err.Error())
		return
	}

	res, err := d.pipe.Clone(r.Context(), userID, sample)
	if err != nil {
		slog.Error("clone failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clone speaker: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"success": fmt.Sprintf("Audio cloned successfully for user %s! Audio path: %s", userID, res.AudioID),
	})
}

func (d deps) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SpeakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload. Please send a JSON object.")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Missing 'text' in request payload.")
		return
	}
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "Missing 'language' in request payload.")
		return
	}
	if req.UserID == "" {
		req.UserID = d.pipe.DefaultVoice()
	}

	res, err := d.pipe.Speak(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrSpeakerNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Speaker %s not found. Please clone the speaker first.", req.UserID))
			return
		}
		slog.Error("synthesis failed", "user", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(res.Audio)
}

func (d deps) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engines":       d.router.Engines(),
		"engine":        d.pipe.Engine(),
		"default_voice": d.pipe.DefaultVoice(),
		"base_speaker":  d.pipe.BaseSpeaker(),
	})
}

func (d deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
	defer cancel()

	overall := "ok"
	engines := map[string]string{}
	for _, name := range d.router.Engines() {
		backend, err := d.router.Route(name)
		if err != nil {
			continue
		}
		if err := backend.Healthy(ctx); err != nil {
			engines[name] = err.Error()
			overall = "degraded"
			continue
		}
		engines[name] = "ok"
	}

	openvoice := "ok"
	if err := d.openvoice.Healthy(ctx); err != nil {
		openvoice = err.Error()
		overall = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall,
		"engines":   engines,
		"openvoice": openvoice,
	})
}

func (d deps) handleWarmup(w http.ResponseWriter, r *http.Request) {
	slog.Info("warming up synthesis engine", "engine", d.pipe.Engine())
	elapsed, size, err := d.pipe.Warmup(r.Context())
	if err != nil {
		slog.Error("warmup failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": d.pipe.Engine(),
		"ms":     elapsed.Milliseconds(),
		"bytes":  size,
	})
}

func (d deps) handleTTSHealth(w http.ResponseWriter, r *http.Request) {
	engine := r.URL.Query().Get("engine")
	if engine == "" {
		engine = d.pipe.Engine()
	}
	if !d.router.Has(engine) {
		writeError(w, http.StatusNotFound, "engine not available")
		return
	}
	backend, err := d.router.Route(engine)
	if err != nil {
		writeError(w, http.StatusNotFound, "engine not available")
		return
	}
	if err := backend.Healthy(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": engine})
}

func (d deps) handleServices(w http.ResponseWriter, r *http.Request) {
	if d.svcMgr == nil {
		http.Error(w, "service management disabled", http.StatusNotFound)
		return
	}
	services, err := d.svcMgr.StatusAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (d deps) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	if d.svcMgr == nil {
		http.Error(w, "service management disabled", http.StatusNotFound)
		return
	}
	name := r.PathValue("name")
	slog.Info("service start requested", "name", name)
	if err := d.svcMgr.Start(r.Context(), name); err != nil {
		slog.Error("service start failed", "name", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (d deps) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	if d.svcMgr == nil {
		http.Error(w, "service management disabled", http.StatusNotFound)
		return
	}
	name := r.PathValue("name")
	slog.Info("service stop requested", "name", name)
	if err := d.svcMgr.Stop(r.Context(), name); err != nil {
		slog.Error("service stop failed", "name", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (d deps) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	if d.svcMgr == nil {
		http.Error(w, "service management disabled", http.StatusNotFound)
		return
	}
	info, err := d.svcMgr.Status(r.Context(), r.PathValue("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, runs, err := store.GetSession(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "runs": runs})
	})

	mux.HandleFunc("GET /api/traces/{id}/runs/{runId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		run, spans, err := store.GetRun(r.PathValue("id"), r.PathValue("runId"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
