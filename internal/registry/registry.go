package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"FinScreen/internal/pipeline"
	"FinScreen/pkg/logger"
)

var (
	ErrAlreadyRegistered = errors.New("filter already registered")
	ErrNotRegistered     = errors.New("filter not registered")
)

// Factory builds a stage instance from its current configuration. A plain
// constructor is the degenerate case.
type Factory func(cfg pipeline.Config) (pipeline.Stage, error)

// FilterInfo describes a catalogue entry for reporting surfaces.
type FilterInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Enabled     bool     `json:"enabled"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type entry struct {
	info    FilterInfo
	factory Factory
	config  pipeline.Config
}

// Registry is a thread-safe catalogue of named filter stages. Registration
// tracks a version and configuration per name; a separate ordered list of
// enabled names defines execution order. All methods observe or mutate the
// catalogue at a single instant, never a partial mix of an in-progress change.
type Registry struct {
	logger *logger.Logger

	mutex        sync.RWMutex
	entries      map[string]*entry
	enabledOrder []string
}

// New returns an empty registry.
func New(lgr *logger.Logger) *Registry {
	return &Registry{
		logger:  lgr,
		entries: make(map[string]*entry),
	}
}

// RegisterOption decorates a catalogue entry at registration time.
type RegisterOption func(*entry)

// WithDescription attaches a human-readable description.
func WithDescription(description string) RegisterOption {
	return func(e *entry) {
		e.info.Description = description
	}
}

// WithTags attaches categorization tags.
func WithTags(tags ...string) RegisterOption {
	return func(e *entry) {
		e.info.Tags = tags
	}
}

// WithConfig sets the configuration passed to the factory on instantiation.
func WithConfig(cfg pipeline.Config) RegisterOption {
	return func(e *entry) {
		if cfg != nil {
			e.config = cfg
		}
	}
}

// Register adds a filter under a unique name. New entries start disabled.
// Registering an existing name fails; unregister first or use UpdateConfig.
func (r *Registry) Register(name, version string, factory Factory, opts ...RegisterOption) error {
	if factory == nil {
		return fmt.Errorf("filter %q: nil factory", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("filter %q: %w", name, ErrAlreadyRegistered)
	}

	e := &entry{
		info:    FilterInfo{Name: name, Version: version},
		factory: factory,
		config:  pipeline.Config{},
	}
	for _, opt := range opts {
		opt(e)
	}
	r.entries[name] = e

	r.logger.Info("registered filter",
		logger.String("filter", name),
		logger.String("version", version))
	return nil
}

// Unregister removes a filter from the catalogue and from the enabled order.
// Returns false if the name is unknown.
func (r *Registry) Unregister(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.logger.Warn("cannot unregister unknown filter", logger.String("filter", name))
		return false
	}

	delete(r.entries, name)
	r.enabledOrder = remove(r.enabledOrder, name)

	r.logger.Info("unregistered filter", logger.String("filter", name))
	return true
}

// EnableFilters replaces the entire enabled set atomically: every name must
// already be registered or the call fails with the prior set untouched.
// Duplicate names collapse to their first occurrence.
func (r *Registry) EnableFilters(names []string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var unknown []string
	for _, name := range names {
		if _, exists := r.entries[name]; !exists {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown filters %v: %w", unknown, ErrNotRegistered)
	}

	for _, e := range r.entries {
		e.info.Enabled = false
	}

	order := make([]string, 0, len(names))
	for _, name := range names {
		if r.entries[name].info.Enabled {
			continue
		}
		r.entries[name].info.Enabled = true
		order = append(order, name)
	}
	r.enabledOrder = order

	r.logger.Info("enabled filters", logger.Any("filters", order))
	return nil
}

// Enable switches one filter on, appending it to the execution order if it
// is not already there. Returns false if the name is unknown.
func (r *Registry) Enable(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return false
	}

	e.info.Enabled = true
	if !contains(r.enabledOrder, name) {
		r.enabledOrder = append(r.enabledOrder, name)
	}

	r.logger.Info("enabled filter", logger.String("filter", name))
	return true
}

// Disable switches one filter off and drops it from the execution order.
// The catalogue entry stays. Returns false if the name is unknown.
func (r *Registry) Disable(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return false
	}

	e.info.Enabled = false
	r.enabledOrder = remove(r.enabledOrder, name)

	r.logger.Info("disabled filter", logger.String("filter", name))
	return true
}

// UpdateConfig swaps the stored configuration so future instantiations use
// it. Already-built stages are unaffected. Returns false if the name is
// unknown.
func (r *Registry) UpdateConfig(name string, cfg pipeline.Config) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return false
	}

	e.config = cfg
	r.logger.Info("updated filter config", logger.String("filter", name))
	return true
}

// EnabledStages instantiates the enabled filters in execution order. A
// factory failure is logged and that entry skipped rather than failing the
// whole call. Factories run under the registry lock and must not call back
// into the registry.
func (r *Registry) EnabledStages() []pipeline.Stage {
	return r.EnabledStagesWith(nil)
}

// EnabledStagesWith instantiates the enabled filters with per-name overrides
// merged on top of each stored configuration. The stored configuration is
// untouched; overrides live only in the returned stages. Override names
// without a catalogue entry are ignored.
func (r *Registry) EnabledStagesWith(overrides map[string]pipeline.Config) []pipeline.Stage {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stages := make([]pipeline.Stage, 0, len(r.enabledOrder))
	for _, name := range r.enabledOrder {
		e, exists := r.entries[name]
		if !exists || !e.info.Enabled {
			continue
		}

		cfg := e.config
		if o, ok := overrides[name]; ok {
			cfg = cfg.Merged(o)
		}

		stage, err := e.factory(cfg)
		if err != nil {
			r.logger.Error("filter construction failed",
				logger.String("filter", name),
				logger.Error(err))
			continue
		}
		stages = append(stages, stage)
	}
	return stages
}

// Stage instantiates a single filter by name with its stored configuration.
func (r *Registry) Stage(name string) (pipeline.Stage, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("filter %q: %w", name, ErrNotRegistered)
	}

	stage, err := e.factory(e.config)
	if err != nil {
		return nil, fmt.Errorf("construct filter %q: %w", name, err)
	}
	return stage, nil
}

// Version returns a filter's registered version.
func (r *Registry) Version(name string) (string, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return "", false
	}
	return e.info.Version, true
}

// Versions maps every registered filter name to its version.
func (r *Registry) Versions() map[string]string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	versions := make(map[string]string, len(r.entries))
	for name, e := range r.entries {
		versions[name] = e.info.Version
	}
	return versions
}

// Infos lists all catalogue entries sorted by name.
func (r *Registry) Infos() []FilterInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	infos := make([]FilterInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// EnabledNames returns a copy of the execution order.
func (r *Registry) EnabledNames() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, len(r.enabledOrder))
	copy(names, r.enabledOrder)
	return names
}

// EnabledCount returns the number of enabled filters.
func (r *Registry) EnabledCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.enabledOrder)
}

// RegisteredCount returns the catalogue size.
func (r *Registry) RegisteredCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Clear removes every catalogue entry.
func (r *Registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = make(map[string]*entry)
	r.enabledOrder = nil

	r.logger.Info("cleared filter registry")
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
