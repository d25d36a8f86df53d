package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(map[string]ServiceMeta{
		"openvoice": {Category: "conversion"},
		"melo":      {Category: "tts"},
	})

	meta, ok := r.Lookup("melo")
	require.True(t, ok)
	assert.Equal(t, "tts", meta.Category)

	_, ok = r.Lookup("whisper")
	assert.False(t, ok)

	assert.Equal(t, []string{"melo", "openvoice"}, r.Names())
}

func TestParseComposeState(t *testing.T) {
	state, err := parseComposeState([]byte(`{"Name":"voicegate-melo-1","State":"Running"}`))
	require.NoError(t, err)
	assert.Equal(t, "running", state)

	state, err = parseComposeState([]byte("{\"State\":\"exited\"}\n{\"State\":\"running\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "exited", state)

	_, err = parseComposeState([]byte("  \n"))
	assert.Error(t, err)

	_, err = parseComposeState([]byte("not json"))
	assert.Error(t, err)
}

// fakeControl is a minimal modelcontrol server: POST /start and /stop flip
// the running flag, GET /status reports it.
func fakeControl(t *testing.T) (*httptest.Server, *atomic.Bool) {
	t.Helper()
	var running atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", func(w http.ResponseWriter, r *http.Request) {
		running.Store(true)
		w.Write([]byte(`{"status":"started"}`))
	})
	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, r *http.Request) {
		running.Store(false)
		w.Write([]byte(`{"status":"stopped"}`))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if running.Load() {
			w.Write([]byte(`{"running":true}`))
			return
		}
		w.Write([]byte(`{"running":false}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &running
}

func TestControlManagerLifecycle(t *testing.T) {
	control, running := fakeControl(t)
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(health.Close)

	mgr := NewControlManager(NewRegistry(map[string]ServiceMeta{
		"melo": {Category: "tts", HealthURL: health.URL + "/health", ControlURL: control.URL},
	}))
	ctx := context.Background()

	info, err := mgr.Status(ctx, "melo")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, info.Status)

	require.NoError(t, mgr.Start(ctx, "melo"))
	assert.True(t, running.Load())

	info, err = mgr.Status(ctx, "melo")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, info.Status)
	assert.Equal(t, "tts", info.Category)

	require.NoError(t, mgr.Stop(ctx, "melo"))
	assert.False(t, running.Load())
}

func TestControlManagerRunningButUnhealthy(t *testing.T) {
	control, running := fakeControl(t)
	running.Store(true)
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(health.Close)

	mgr := NewControlManager(NewRegistry(map[string]ServiceMeta{
		"melo": {Category: "tts", HealthURL: health.URL, ControlURL: control.URL},
	}))

	info, err := mgr.Status(context.Background(), "melo")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)
}

func TestControlManagerProbeOnly(t *testing.T) {
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(health.Close)

	mgr := NewControlManager(NewRegistry(map[string]ServiceMeta{
		"openvoice": {Category: "conversion", HealthURL: health.URL},
	}))
	ctx := context.Background()

	// No control URL means no start/stop, but health still reflects reality.
	info, err := mgr.Status(ctx, "openvoice")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, info.Status)

	err = mgr.Start(ctx, "openvoice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no control URL")
}

func TestControlManagerUnknownService(t *testing.T) {
	mgr := NewControlManager(NewRegistry(nil))

	_, err := mgr.Status(context.Background(), "whisper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in registry")

	err = mgr.Start(context.Background(), "whisper")
	assert.Error(t, err)
}

func TestControlManagerStatusAll(t *testing.T) {
	control, running := fakeControl(t)
	running.Store(true)

	mgr := NewControlManager(NewRegistry(map[string]ServiceMeta{
		"melo":      {Category: "tts", ControlURL: control.URL},
		"openvoice": {Category: "conversion"},
	}))

	infos, err := mgr.StatusAll(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "melo", infos[0].Name)
	assert.Equal(t, StatusRunning, infos[0].Status)
	assert.Equal(t, "openvoice", infos[1].Name)
	assert.Equal(t, StatusStopped, infos[1].Status)
}
