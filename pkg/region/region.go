// Package region implements the region actor: a goroutine that exclusively
// owns one coverage area's object table and spatial index and processes
// mutations and queries against them one at a time.
package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1F47E/geo-region-index/pkg/geo"
	"github.com/1F47E/geo-region-index/pkg/metrics"
	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/1F47E/geo-region-index/pkg/rtree"
)

// DefaultCoverageRadius is the coverage radius of a new region in meters.
const DefaultCoverageRadius = 10000.0

// Config tunes a region's index and request handling.
type Config struct {
	CoverageRadius float64
	MailboxSize    int
	OverFetch      int
	Dimensions     int
	MinChildren    int
	MaxChildren    int
}

// DefaultConfig returns the settings used when no Config is given.
func DefaultConfig() Config {
	return Config{
		CoverageRadius: DefaultCoverageRadius,
		MailboxSize:    64,
		OverFetch:      geo.DefaultOverFetch,
		Dimensions:     2,
		MinChildren:    rtree.DefaultMinChildren,
		MaxChildren:    rtree.DefaultMaxChildren,
	}
}

type options struct {
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	onTerminate func(id string, cause error)
}

// Option configures a Region.
type Option func(o *options)

// WithConfig replaces the default region configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger the region writes lifecycle events to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors the region reports to. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTerminateHook registers fn to run once the region has stopped,
// whether it was shut down or failed. fn runs on the region goroutine before
// Done is closed and must not wait for the region.
func WithTerminateHook(fn func(id string, cause error)) Option {
	return func(o *options) {
		o.onTerminate = fn
	}
}

// state is only ever touched by the region's own goroutine.
type state[T comparable] struct {
	objects map[string]models.Object[T]
	index   *rtree.Index[T]
}

func (s *state[T]) checkSize() error {
	if len(s.objects) != s.index.Size() {
		return &invariantError{msg: fmt.Sprintf("%d objects but %d indexed points", len(s.objects), s.index.Size())}
	}
	return nil
}

type request[T comparable] struct {
	op    string
	fn    func(*state[T]) (any, error)
	reply chan response
}

// response carries a request's result back to the caller. The value is only
// ever read by the caller after it has been received.
type response struct {
	value any
	err   error
}

// Region is a handle to a running region actor. All methods are safe for
// concurrent use; requests are applied in arrival order.
type Region[T comparable] struct {
	id       string
	name     string
	center   models.Location
	coverage geo.SearchBox
	cfg      Config

	logger      *slog.Logger
	metrics     *metrics.Metrics
	onTerminate func(id string, cause error)

	mailbox  chan request[T]
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	cause error
}

// New starts a region actor with an empty object table and index.
func New[T comparable](id, name string, center models.Location, opts ...Option) (*Region[T], error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.cfg.MailboxSize < 0 {
		return nil, fmt.Errorf("invalid mailbox size: %d", o.cfg.MailboxSize)
	}

	if err := center.Validate(); err != nil {
		return nil, fmt.Errorf("invalid region center: %w", err)
	}
	coverage, err := geo.NewSearchBox(center, o.cfg.CoverageRadius)
	if err != nil {
		return nil, fmt.Errorf("invalid coverage radius: %w", err)
	}
	index, err := rtree.NewWithBranching[T](o.cfg.Dimensions, o.cfg.MinChildren, o.cfg.MaxChildren)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	r := &Region[T]{
		id:          id,
		name:        name,
		center:      center,
		coverage:    coverage,
		cfg:         o.cfg,
		logger:      o.logger.With("region_id", id, "region_name", name),
		metrics:     o.metrics,
		onTerminate: o.onTerminate,
		mailbox:     make(chan request[T], o.cfg.MailboxSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	st := &state[T]{
		objects: make(map[string]models.Object[T]),
		index:   index,
	}

	r.metrics.RegionStarted()
	r.logger.Info("region started",
		"lat", center.Lat, "lon", center.Lon, "coverage_radius", o.cfg.CoverageRadius)

	go r.run(st)
	return r, nil
}

func (r *Region[T]) ID() string              { return r.id }
func (r *Region[T]) Name() string            { return r.name }
func (r *Region[T]) Center() models.Location { return r.center }
func (r *Region[T]) Coverage() geo.SearchBox { return r.coverage }
func (r *Region[T]) CoverageRadius() float64 { return r.cfg.CoverageRadius }
func (r *Region[T]) Done() <-chan struct{}   { return r.done }

// Err returns nil while the region runs. After termination it returns
// ErrTerminated for a shutdown, or the fault that stopped the region.
func (r *Region[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Shutdown stops the actor and discards its state. Queued requests are not
// drained; their callers receive ErrTerminated. Safe to call more than once.
func (r *Region[T]) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Region[T]) run(st *state[T]) {
	defer func() {
		r.metrics.RegionTerminated()
		if r.onTerminate != nil {
			r.onTerminate(r.id, r.Err())
		}
		close(r.done)
	}()

	for {
		select {
		case <-r.stop:
			r.terminate(ErrTerminated)
			r.logger.Info("region shut down")
			return
		case req := <-r.mailbox:
			value, err := r.execute(st, req)

			var fault *invariantError
			if errors.As(err, &fault) {
				r.terminate(err)
				r.logger.Error("region failed", "op", req.op, "error", err)
				req.reply <- response{err: fmt.Errorf("%w: %v", ErrTerminated, err)}
				return
			}
			req.reply <- response{value: value, err: err}
		}
	}
}

func (r *Region[T]) terminate(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cause == nil {
		r.cause = cause
	}
}

func (r *Region[T]) execute(st *state[T], req request[T]) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			err = &invariantError{msg: fmt.Sprintf("panic during %s: %v", req.op, rec)}
		}
	}()
	return req.fn(st)
}

// call enqueues fn and waits for the actor to apply it. ctx bounds only the
// wait: a request that was enqueued still runs to completion.
func (r *Region[T]) call(ctx context.Context, op string, fn func(*state[T]) error) error {
	_, err := ask(ctx, r, op, func(st *state[T]) (struct{}, error) {
		return struct{}{}, fn(st)
	})
	return err
}

// ask is call for requests that produce a value. The value travels back on
// the reply channel, so a caller that stops waiting gets the zero value and
// shares nothing with the actor.
func ask[T comparable, R any](ctx context.Context, r *Region[T], op string, fn func(*state[T]) (R, error)) (R, error) {
	value, err := r.send(ctx, op, func(st *state[T]) (any, error) {
		return fn(st)
	})
	r.metrics.ObserveRequest(op, outcome(err))

	var zero R
	if err != nil {
		return zero, err
	}
	v, ok := value.(R)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func (r *Region[T]) send(ctx context.Context, op string, fn func(*state[T]) (any, error)) (any, error) {
	req := request[T]{op: op, fn: fn, reply: make(chan response, 1)}

	select {
	case <-r.done:
		return nil, ErrTerminated
	default:
	}

	select {
	case r.mailbox <- req:
	case <-r.done:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-r.done:
		select {
		case resp := <-req.reply:
			return resp.value, resp.err
		default:
			return nil, ErrTerminated
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTerminated):
		return "terminated"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "invalid"
	}
}

// AddObject stores point under id. An id that is already present is rejected
// with ErrAlreadyExists and the stored point is left as it was.
func (r *Region[T]) AddObject(ctx context.Context, id string, point models.Point[T]) error {
	if id == "" {
		r.metrics.ObserveRequest("add", outcome(ErrInvalidID))
		return ErrInvalidID
	}
	if err := point.Validate(); err != nil {
		r.metrics.ObserveRequest("add", outcome(err))
		return err
	}

	return r.call(ctx, "add", func(st *state[T]) error {
		if _, ok := st.objects[id]; ok {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		}
		st.objects[id] = models.Object[T]{ID: id, Point: point}
		st.index.Insert(point)
		return st.checkSize()
	})
}

// RemoveObject deletes id from the table and the index.
func (r *Region[T]) RemoveObject(ctx context.Context, id string) error {
	return r.call(ctx, "remove", func(st *state[T]) error {
		obj, ok := st.objects[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		delete(st.objects, id)
		if !st.index.Delete(obj.Point) {
			return &invariantError{msg: fmt.Sprintf("object %s missing from index", id)}
		}
		return st.checkSize()
	})
}

// GetObject returns the object stored under id.
func (r *Region[T]) GetObject(ctx context.Context, id string) (models.Object[T], error) {
	return ask(ctx, r, "get", func(st *state[T]) (models.Object[T], error) {
		obj, ok := st.objects[id]
		if !ok {
			return models.Object[T]{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return obj, nil
	})
}

// ListObjects returns the ids of all stored objects in no particular order.
func (r *Region[T]) ListObjects(ctx context.Context) ([]string, error) {
	return ask(ctx, r, "list", func(st *state[T]) ([]string, error) {
		ids := make([]string, 0, len(st.objects))
		for id := range st.objects {
			ids = append(ids, id)
		}
		return ids, nil
	})
}

// Count returns the number of stored objects.
func (r *Region[T]) Count(ctx context.Context) (int, error) {
	return ask(ctx, r, "count", func(st *state[T]) (int, error) {
		return len(st.objects), nil
	})
}

// QueryAround returns the stored points within distance meters of center.
func (r *Region[T]) QueryAround(ctx context.Context, center models.Location, distance float64) ([]models.Point[T], error) {
	points, err := ask(ctx, r, "around", func(st *state[T]) ([]models.Point[T], error) {
		return geo.Around[T](st.index, center, distance)
	})
	if err == nil {
		r.metrics.ObserveQueryResults("around", len(points))
	}
	return points, err
}

// QueryNearest returns up to k stored points closest to center with their distances.
func (r *Region[T]) QueryNearest(ctx context.Context, center models.Location, k int) ([]geo.Neighbor[T], error) {
	neighbors, err := ask(ctx, r, "nearest", func(st *state[T]) ([]geo.Neighbor[T], error) {
		return geo.Nearest[T](st.index, center, k, r.cfg.OverFetch)
	})
	if err == nil {
		r.metrics.ObserveQueryResults("nearest", len(neighbors))
	}
	return neighbors, err
}

// QueryCoverage returns the stored points inside the region's coverage disc.
func (r *Region[T]) QueryCoverage(ctx context.Context) ([]models.Point[T], error) {
	return r.QueryAround(ctx, r.center, r.cfg.CoverageRadius)
}
