package backend

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/kvmtray/internal/domain"
)

// Registry holds all known backends, keyed by ID.
type Registry struct {
	backends map[string]domain.BackendConfig
}

// NewRegistry creates a registry with the built-in presets.
func NewRegistry() *Registry {
	return NewRegistryWithBackends(
		NewDeskflowBackend(),
		NewInputLeapBackend(),
		NewBarrierBackend(),
	)
}

// NewRegistryWithBackends creates a registry with custom backends (for testing).
func NewRegistryWithBackends(backends ...Backend) *Registry {
	r := &Registry{
		backends: make(map[string]domain.BackendConfig),
	}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds a backend to the registry, replacing any with the same ID.
func (r *Registry) Register(b Backend) {
	r.backends[b.ID()] = ToConfig(b)
}

// Get returns a backend config by ID.
func (r *Registry) Get(id string) (domain.BackendConfig, error) {
	cfg, ok := r.backends[id]
	if !ok {
		return domain.BackendConfig{}, fmt.Errorf("%w: %s", domain.ErrUnknownBackend, id)
	}
	return cfg, nil
}

// GetAll returns all registered backends sorted by ID.
func (r *Registry) GetAll() []domain.BackendConfig {
	result := make([]domain.BackendConfig, 0, len(r.backends))
	for _, id := range r.List() {
		result = append(result, r.backends[id])
	}
	return result
}

// List returns all backend IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// overridesFile is the on-disk shape of backends.yaml.
type overridesFile struct {
	Backends []domain.BackendConfig `yaml:"backends"`
}

// LoadOverrides merges backends.yaml into the registry.
// Entries with a known ID override only the fields they set; unknown IDs are
// added as new backends. A missing file is not an error.
func (r *Registry) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", domain.ErrConfigLoad, path, err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrConfigLoad, path, err)
	}

	for _, o := range file.Backends {
		if o.ID == "" {
			return fmt.Errorf("%w: %s: backend entry without id", domain.ErrConfigLoad, path)
		}
		base, ok := r.backends[o.ID]
		if !ok {
			if o.Name == "" {
				o.Name = o.ID
			}
			r.backends[o.ID] = o
			continue
		}
		r.backends[o.ID] = merge(base, o)
	}
	return nil
}

// SaveOverrides writes the given backends as a backends.yaml template.
func SaveOverrides(path string, backends []domain.BackendConfig) error {
	data, err := yaml.Marshal(overridesFile{Backends: backends})
	if err != nil {
		return fmt.Errorf("marshal backends: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func merge(base, o domain.BackendConfig) domain.BackendConfig {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.ConfigDir != "" {
		base.ConfigDir = o.ConfigDir
	}
	if o.Peer != "" {
		base.Peer = o.Peer
	}
	base.Server = mergeProfile(base.Server, o.Server)
	base.Client = mergeProfile(base.Client, o.Client)
	return base
}

func mergeProfile(base, o domain.RoleProfile) domain.RoleProfile {
	if o.Executable != "" {
		base.Executable = o.Executable
	}
	if o.Args != nil {
		base.Args = o.Args
	}
	if o.LogFile != "" {
		base.LogFile = o.LogFile
	}
	if o.Connected != "" {
		base.Connected = o.Connected
	}
	if o.Disconnected != "" {
		base.Disconnected = o.Disconnected
	}
	return base
}
