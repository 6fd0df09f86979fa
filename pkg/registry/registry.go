// Package registry creates, looks up and terminates region actors. It owns
// only the map from region id to handle; all geometric state lives inside
// the regions themselves.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/1F47E/geo-region-index/pkg/metrics"
	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/1F47E/geo-region-index/pkg/region"
	"github.com/google/uuid"
)

// ErrNotFound is returned for an id that names no live region.
var ErrNotFound = errors.New("region not found")

// Entry is a live region and its identifier.
type Entry[T comparable] struct {
	ID     string
	Region *region.Region[T]
}

// Option configures a Registry.
type Option func(o *options)

type options struct {
	cfg     region.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// WithRegionConfig sets the configuration every new region starts with.
func WithRegionConfig(cfg region.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger shared by the registry and its regions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors shared by every region.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Registry tracks live regions. It is safe for concurrent use.
type Registry[T comparable] struct {
	opts options

	mu      sync.RWMutex
	regions map[string]*region.Region[T]
}

// New returns an empty registry.
func New[T comparable](opts ...Option) *Registry[T] {
	o := options{
		cfg:   region.DefaultConfig(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Registry[T]{
		opts:    o,
		regions: make(map[string]*region.Region[T]),
	}
}

// Create starts a region named name centered on (lat, lon) with the
// configured coverage radius and an empty index, and registers it under a
// fresh id.
func (r *Registry[T]) Create(name string, lat, lon float64) (*region.Region[T], error) {
	center := models.Location{Lat: lat, Lon: lon}
	if err := center.Validate(); err != nil {
		return nil, err
	}

	id := r.opts.newID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regions[id]; exists {
		return nil, fmt.Errorf("region id collision: %s", id)
	}

	reg, err := region.New[T](id, name, center,
		region.WithConfig(r.opts.cfg),
		region.WithLogger(r.opts.logger),
		region.WithMetrics(r.opts.metrics),
		region.WithTerminateHook(r.forget),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create region %q: %w", name, err)
	}
	r.regions[id] = reg
	return reg, nil
}

// Get returns the live region registered under id.
func (r *Registry[T]) Get(id string) (*region.Region[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return reg, nil
}

// Shutdown terminates the region registered under id and discards its
// state. It is irreversible.
func (r *Registry[T]) Shutdown(id string) error {
	r.mu.Lock()
	reg, ok := r.regions[id]
	delete(r.regions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	reg.Shutdown()
	return nil
}

// ListAll returns the live regions ordered by id.
func (r *Registry[T]) ListAll() []Entry[T] {
	r.mu.RLock()
	entries := make([]Entry[T], 0, len(r.regions))
	for id, reg := range r.regions {
		entries = append(entries, Entry[T]{ID: id, Region: reg})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Len returns the number of live regions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// Close shuts down every live region.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	regions := r.regions
	r.regions = make(map[string]*region.Region[T])
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, reg := range regions {
		wg.Add(1)
		go func(reg *region.Region[T]) {
			defer wg.Done()
			reg.Shutdown()
		}(reg)
	}
	wg.Wait()
}

// forget drops a region that stopped on its own.
func (r *Registry[T]) forget(id string, cause error) {
	r.mu.Lock()
	_, ok := r.regions[id]
	delete(r.regions, id)
	r.mu.Unlock()

	if ok && !errors.Is(cause, region.ErrTerminated) {
		r.opts.logger.Warn("region removed after failure", "region_id", id, "error", cause)
	}
}
