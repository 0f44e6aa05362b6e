package transport

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Transport is a named protocol definition bound to one or more logical
// services, with the parameters needed to reach an instance over it.
type Transport struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Protocol       string   `yaml:"protocol"`
	ListenPort     int      `yaml:"listen_port"`
	ScriptTemplate string   `yaml:"script_template"`
	Priority       int      `yaml:"priority"`
	Services       []string `yaml:"services"`
}

// Registry holds the configured transports and their service bindings.
type Registry struct {
	transports []Transport
	byID       map[string]Transport
}

type registryFile struct {
	Transports []Transport `yaml:"transports"`
}

// LoadRegistry reads the transport definitions from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transports file: %w", err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry builds a registry from raw YAML.
func ParseRegistry(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse transports file: %w", err)
	}
	byID := make(map[string]Transport, len(file.Transports))
	for _, tr := range file.Transports {
		if tr.ID == "" {
			return nil, fmt.Errorf("transport with empty id")
		}
		if _, dup := byID[tr.ID]; dup {
			return nil, fmt.Errorf("duplicate transport id %q", tr.ID)
		}
		byID[tr.ID] = tr
	}
	return &Registry{transports: file.Transports, byID: byID}, nil
}

// ForService returns the transport if it exists and is bound to serviceID.
func (r *Registry) ForService(serviceID, transportID string) (Transport, bool) {
	tr, ok := r.byID[transportID]
	if !ok {
		return Transport{}, false
	}
	for _, svc := range tr.Services {
		if svc == serviceID {
			return tr, true
		}
	}
	return Transport{}, false
}

// ListForService returns the transports offered for serviceID ordered by
// priority (lower first).
func (r *Registry) ListForService(serviceID string) []Transport {
	var out []Transport
	for _, tr := range r.transports {
		for _, svc := range tr.Services {
			if svc == serviceID {
				out = append(out, tr)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
