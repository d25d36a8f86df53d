// Command modelcontrol is a host-side control server for one model sidecar
// (a MeloTTS or OpenVoice process). The gateway's service manager drives it
// over HTTP so model processes can be started and stopped without shelling
// into the box.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/txtparrot/voicegate/internal/env"
)

var (
	port      = env.Str("CONTROL_PORT", "8087")
	modelName = env.Str("MODEL_NAME", "melo")
	modelCmd  = env.Str("MODEL_CMD", "")
	healthURL = env.Str("MODEL_HEALTH_URL", "http://localhost:8085/health")
)

// startupTimeout bounds how long /start waits for the model server to come
// up. On timeout the start is still reported; the caller keeps polling
// /status until the health probe goes green.
const startupTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if modelCmd == "" {
		slog.Error("MODEL_CMD is required")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", handleStart)
	mux.HandleFunc("POST /stop", handleStop)
	mux.HandleFunc("GET /status", handleStatus)
	mux.HandleFunc("GET /health", handleHealth)

	slog.Info("modelcontrol listening", "port", port, "model", modelName)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func handleStart(w http.ResponseWriter, r *http.Request) {
	if isRunning() {
		writeJSON(w, map[string]string{"status": "already_running"})
		return
	}

	logFile := filepath.Join(os.TempDir(), modelName+".log")
	cmd := fmt.Sprintf("nohup %s > %s 2>&1 &", modelCmd, logFile)
	out, err := exec.Command("bash", "-c", cmd).CombinedOutput()
	if err != nil {
		slog.Error("start model server", "model", modelName, "error", err, "output", string(out))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if healthURL != "" {
		slog.Info("waiting for model server health", "model", modelName, "url", healthURL)
		waitForHealth(healthURL, startupTimeout)
	}
	slog.Info("model server started", "model", modelName, "log", logFile)
	writeJSON(w, map[string]string{"status": "started"})
}

func handleStop(w http.ResponseWriter, r *http.Request) {
	exec.Command("pkill", "-f", modelCmd).Run()
	waitForExit(5 * time.Second)
	slog.Info("model server stopped", "model", modelName)
	writeJSON(w, map[string]string{"status": "stopped"})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"running": isRunning()})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// waitForHealth polls a URL until it returns 200 or the timeout expires.
func waitForHealth(url string, timeout time.Duration) {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if healthOK(client, url) {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	slog.Warn("health check timed out", "url", url)
}

func healthOK(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitForExit polls until the process is gone or the timeout expires.
func waitForExit(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isRunning() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func isRunning() bool {
	return exec.Command("pgrep", "-f", modelCmd).Run() == nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
