// Package orchestrator manages the lifecycle of the model sidecars voicegate
// fronts: the TTS engines and the tone-conversion server. Managers exist for
// Docker Compose deployments and for bare host processes behind modelcontrol
// servers.
package orchestrator

import (
	"context"
	"net/http"
	"time"
)

// ServiceStatus represents the lifecycle state of a managed model service.
type ServiceStatus string

const (
	StatusStopped  ServiceStatus = "stopped"
	StatusStarting ServiceStatus = "starting"
	StatusRunning  ServiceStatus = "running"
	StatusHealthy  ServiceStatus = "healthy"
)

// ServiceInfo holds the current state of a managed model service.
type ServiceInfo struct {
	Name     string        `json:"name"`
	Status   ServiceStatus `json:"status"`
	Category string        `json:"category"`
}

// ServiceManager controls the lifecycle of model services.
type ServiceManager interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (*ServiceInfo, error)
	StatusAll(ctx context.Context) ([]ServiceInfo, error)
}

// probeHealth reports whether the service answers 200 on its health URL.
func probeHealth(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func newProbeClient() *http.Client {
	return &http.Client{Timeout: 3 * time.Second}
}
