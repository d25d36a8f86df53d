package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
)

// ComposeManager drives model services as Docker Compose containers by
// shelling out to the docker CLI.
type ComposeManager struct {
	composeFile string
	projectName string
	registry    *Registry
	client      *http.Client
}

var _ ServiceManager = (*ComposeManager)(nil)

func NewComposeManager(composeFile, projectName string, registry *Registry) *ComposeManager {
	return &ComposeManager{
		composeFile: composeFile,
		projectName: projectName,
		registry:    registry,
		client:      newProbeClient(),
	}
}

func (c *ComposeManager) composeArgs(args ...string) []string {
	base := []string{"compose", "-f", c.composeFile, "-p", c.projectName}
	return append(base, args...)
}

// PullAll pre-pulls images for every registered service without starting
// them, so the first start does not stall on a download.
func (c *ComposeManager) PullAll(ctx context.Context) {
	names := c.registry.Names()
	slog.Info("pre-pulling model service images", "count", len(names))
	args := c.composeArgs(append([]string{"pull"}, names...)...)
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		slog.Warn("pre-pull failed (images will be pulled on first start)", "error", err, "output", string(out))
		return
	}
	slog.Info("model service images pulled")
}

// Start launches a model service container.
func (c *ComposeManager) Start(ctx context.Context, name string) error {
	if _, ok := c.registry.Lookup(name); !ok {
		return fmt.Errorf("service %q not in registry", name)
	}

	slog.Info("starting model service", "name", name)
	args := c.composeArgs("up", "-d", "--force-recreate", name)
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("compose up %s: %w: %s", name, err, string(out))
	}
	return nil
}

// Stop halts a model service container.
func (c *ComposeManager) Stop(ctx context.Context, name string) error {
	if _, ok := c.registry.Lookup(name); !ok {
		return fmt.Errorf("service %q not in registry", name)
	}

	slog.Info("stopping model service", "name", name)
	args := c.composeArgs("stop", name)
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("compose stop %s: %w: %s", name, err, string(out))
	}
	return nil
}

// Status reports the state of a single service. A missing container counts
// as stopped, a running one is promoted to healthy when its probe answers.
func (c *ComposeManager) Status(ctx context.Context, name string) (*ServiceInfo, error) {
	meta, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("service %q not in registry", name)
	}

	info := &ServiceInfo{Name: name, Category: meta.Category, Status: StatusStopped}

	state, err := c.containerState(ctx, name)
	if err != nil {
		return info, nil
	}
	if state != "running" {
		info.Status = StatusStarting
		return info, nil
	}

	info.Status = StatusRunning
	if meta.HealthURL != "" && probeHealth(ctx, c.client, meta.HealthURL) {
		info.Status = StatusHealthy
	}
	return info, nil
}

// StatusAll returns the status of every registered service.
func (c *ComposeManager) StatusAll(ctx context.Context) ([]ServiceInfo, error) {
	names := c.registry.Names()
	results := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		info, _ := c.Status(ctx, name)
		results = append(results, *info)
	}
	return results, nil
}

func (c *ComposeManager) containerState(ctx context.Context, name string) (string, error) {
	args := c.composeArgs("ps", "--format", "json", name)
	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		return "", err
	}
	return parseComposeState(out)
}

// parseComposeState extracts the container state from docker compose ps
// output. Compose emits one JSON object per line; only the first matters
// here since we query a single service.
func parseComposeState(out []byte) (string, error) {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return "", fmt.Errorf("no container")
	}
	line, _, _ := strings.Cut(trimmed, "\n")

	var entry struct {
		State string `json:"State"`
	}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return "", fmt.Errorf("parse compose ps: %w", err)
	}
	return strings.ToLower(entry.State), nil
}
