package orchestrator

import "sort"

// ServiceMeta holds static metadata for a managed model service.
type ServiceMeta struct {
	Category   string // "tts" or "conversion"
	HealthURL  string // readiness probe URL
	ControlURL string // modelcontrol server driving the host process
}

// Registry is the whitelist of model services a manager may touch. Anything
// not registered here cannot be started or stopped through the API.
type Registry struct {
	services map[string]ServiceMeta
}

func NewRegistry(services map[string]ServiceMeta) *Registry {
	return &Registry{services: services}
}

// Lookup returns metadata for a service, or false if not whitelisted.
func (r *Registry) Lookup(name string) (ServiceMeta, bool) {
	m, ok := r.services[name]
	return m, ok
}

// Names returns all registered service names in sorted order so status
// listings stay stable.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for k := range r.services {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
