package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ControlManager drives model services running as bare host processes behind
// modelcontrol servers (see cmd/modelcontrol).
type ControlManager struct {
	registry *Registry
	client   *http.Client
	probe    *http.Client
}

var _ ServiceManager = (*ControlManager)(nil)

func NewControlManager(registry *Registry) *ControlManager {
	return &ControlManager{
		registry: registry,
		// Starting a model server blocks until its weights load, so the
		// control client gets a longer leash than the probe client.
		client: &http.Client{Timeout: 60 * time.Second},
		probe:  newProbeClient(),
	}
}

// Start launches the service via its modelcontrol server.
func (m *ControlManager) Start(ctx context.Context, name string) error {
	return m.control(ctx, name, "start")
}

// Stop kills the service via its modelcontrol server.
func (m *ControlManager) Stop(ctx context.Context, name string) error {
	return m.control(ctx, name, "stop")
}

func (m *ControlManager) control(ctx context.Context, name, action string) error {
	meta, ok := m.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("service %q not in registry", name)
	}
	if meta.ControlURL == "" {
		return fmt.Errorf("service %q has no control URL", name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.ControlURL+"/"+action, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, name, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: control server returned %d", action, name, resp.StatusCode)
	}
	return nil
}

// Status reports the state of a single service. Without a control URL the
// service can still be health-probed, which covers containers managed
// outside voicegate.
func (m *ControlManager) Status(ctx context.Context, name string) (*ServiceInfo, error) {
	meta, ok := m.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("service %q not in registry", name)
	}
	info := &ServiceInfo{Name: name, Category: meta.Category, Status: StatusStopped}

	if meta.ControlURL == "" {
		if meta.HealthURL != "" && probeHealth(ctx, m.probe, meta.HealthURL) {
			info.Status = StatusHealthy
		}
		return info, nil
	}

	if !m.processRunning(ctx, meta.ControlURL) {
		return info, nil
	}
	info.Status = StatusRunning
	if meta.HealthURL != "" && probeHealth(ctx, m.probe, meta.HealthURL) {
		info.Status = StatusHealthy
	}
	return info, nil
}

// StatusAll returns the status of every registered service.
func (m *ControlManager) StatusAll(ctx context.Context) ([]ServiceInfo, error) {
	names := m.registry.Names()
	results := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		info, _ := m.Status(ctx, name)
		results = append(results, *info)
	}
	return results, nil
}

func (m *ControlManager) processRunning(ctx context.Context, controlURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := m.probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var result struct {
		Running bool `json:"running"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.Running
}
