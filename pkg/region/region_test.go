package region

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/1F47E/geo-region-index/pkg/metrics"
	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bogota = models.Location{Lat: 4.6097, Lon: -74.0817}

func newRegion(t *testing.T, opts ...Option) *Region[string] {
	t.Helper()
	r, err := New[string]("test-region", "bogota", bogota, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)
	return r
}

func mustPoint(t *testing.T, id string, lat, lon float64) models.Point[string] {
	t.Helper()
	p, err := models.NewPoint(lat, lon, id)
	require.NoError(t, err)
	return p
}

func sortedPayloads(points []models.Point[string]) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, p.Payload)
	}
	sort.Strings(out)
	return out
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New[string]("id", "nowhere", models.Location{Lat: 91}, WithConfig(DefaultConfig()))
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)

	cfg := DefaultConfig()
	cfg.Dimensions = 0
	_, err = New[string]("id", "flat", bogota, WithConfig(cfg))
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.CoverageRadius = -5
	_, err = New[string]("id", "tiny", bogota, WithConfig(cfg))
	assert.Error(t, err)
}

func TestRegionAttributes(t *testing.T) {
	r := newRegion(t)

	assert.Equal(t, "test-region", r.ID())
	assert.Equal(t, "bogota", r.Name())
	assert.Equal(t, bogota, r.Center())
	assert.Equal(t, DefaultCoverageRadius, r.CoverageRadius())
	assert.True(t, r.Coverage().Contains(bogota))
	assert.NoError(t, r.Err())
}

func TestAddObjectRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "driver-1", mustPoint(t, "driver-1", 4.634562, -74.076297)))

	err := r.AddObject(ctx, "driver-1", mustPoint(t, "driver-1", 4.7, -74.1))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The original location is kept.
	obj, err := r.GetObject(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 4.634562, obj.Point.Lat)
	assert.Equal(t, "driver-1", obj.ID)
}

func TestAddObjectValidation(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	assert.ErrorIs(t, r.AddObject(ctx, "", mustPoint(t, "x", 1, 1)), ErrInvalidID)

	bad := models.Point[string]{Location: models.Location{Lat: math.NaN()}}
	assert.ErrorIs(t, r.AddObject(ctx, "nan", bad), models.ErrInvalidCoordinate)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddObjectRejectsUnequalPayload(t *testing.T) {
	ctx := context.Background()
	r, err := New[float64]("id", "name", bogota)
	require.NoError(t, err)
	t.Cleanup(r.Shutdown)

	p := models.Point[float64]{Location: models.Location{Lat: 4.6, Lon: -74.08}, Payload: math.NaN()}
	assert.ErrorIs(t, r.AddObject(ctx, "nan", p), models.ErrInvalidPayload)

	// The region keeps serving after the rejection.
	ok := models.Point[float64]{Location: models.Location{Lat: 4.6, Lon: -74.08}, Payload: 1}
	require.NoError(t, r.AddObject(ctx, "one", ok))
	require.NoError(t, r.RemoveObject(ctx, "one"))
	assert.NoError(t, r.Err())
}

func TestRemoveObject(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))
	require.NoError(t, r.AddObject(ctx, "b", mustPoint(t, "b", 4.61, -74.09)))

	assert.ErrorIs(t, r.RemoveObject(ctx, "missing"), ErrNotFound)
	ids, err := r.ListObjects(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, r.RemoveObject(ctx, "a"))
	assert.ErrorIs(t, r.RemoveObject(ctx, "a"), ErrNotFound)

	_, err = r.GetObject(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = r.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	points, err := r.QueryAround(ctx, models.Location{Lat: 4.6, Lon: -74.08}, 100)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRemoveThenReAdd(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))
	require.NoError(t, r.RemoveObject(ctx, "a"))
	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.65, -74.05)))

	obj, err := r.GetObject(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4.65, obj.Point.Lat)
}

func TestQueryAroundDrivers(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.634562, -74.076297)))
	require.NoError(t, r.AddObject(ctx, "b", mustPoint(t, "b", 4.631415, -74.074769)))
	require.NoError(t, r.AddObject(ctx, "c", mustPoint(t, "c", 5.631415, -72.074769)))

	points, err := r.QueryAround(ctx, models.Location{Lat: 4.634999, Lon: -74.071882}, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sortedPayloads(points))

	points, err = r.QueryAround(ctx, models.Location{Lat: 4.626682, Lon: -74.071308}, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sortedPayloads(points))

	_, err = r.QueryAround(ctx, bogota, 0)
	assert.Error(t, err)
}

func TestQueryNearest(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.634562, -74.076297)))
	require.NoError(t, r.AddObject(ctx, "b", mustPoint(t, "b", 4.631415, -74.074769)))
	require.NoError(t, r.AddObject(ctx, "c", mustPoint(t, "c", 5.631415, -72.074769)))

	neighbors, err := r.QueryNearest(ctx, models.Location{Lat: 4.626682, Lon: -74.071308}, 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "b", neighbors[0].Point.Payload)
	assert.Equal(t, "a", neighbors[1].Point.Payload)
	assert.Less(t, neighbors[0].Distance, neighbors[1].Distance)

	_, err = r.QueryNearest(ctx, bogota, 0)
	assert.Error(t, err)
}

func TestQueryCoverage(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "inside", mustPoint(t, "inside", 4.634562, -74.076297)))
	require.NoError(t, r.AddObject(ctx, "outside", mustPoint(t, "outside", 5.631415, -72.074769)))

	points, err := r.QueryCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inside"}, sortedPayloads(points))
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	conflicts := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Every id is attempted by two workers.
				id := fmt.Sprintf("obj-%d-%d", w/2, i)
				p := mustPoint(t, id, 4.6+float64(i)*0.0001, -74.08+float64(w)*0.0001)
				err := r.AddObject(ctx, id, p)
				if errors.Is(err, ErrAlreadyExists) {
					mu.Lock()
					conflicts++
					mu.Unlock()
					continue
				}
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers/2*perWorker, count)
	assert.Equal(t, workers/2*perWorker, conflicts)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()

	var hookCalls int
	var hookCause error
	r, err := New[string]("id", "name", bogota, WithTerminateHook(func(id string, cause error) {
		hookCalls++
		hookCause = cause
	}))
	require.NoError(t, err)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))

	r.Shutdown()
	r.Shutdown()

	select {
	case <-r.Done():
	default:
		t.Fatal("region should be done after shutdown")
	}

	assert.ErrorIs(t, r.Err(), ErrTerminated)
	assert.Equal(t, 1, hookCalls)
	assert.ErrorIs(t, hookCause, ErrTerminated)

	assert.ErrorIs(t, r.AddObject(ctx, "b", mustPoint(t, "b", 4.6, -74.08)), ErrTerminated)
	_, err = r.ListObjects(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestInvariantViolationTerminatesRegion(t *testing.T) {
	ctx := context.Background()
	r := newRegion(t)

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))

	// Corrupt the index behind the table's back.
	err := r.call(ctx, "corrupt", func(st *state[string]) error {
		st.index.Delete(st.objects["a"].Point)
		return nil
	})
	require.NoError(t, err)

	err = r.RemoveObject(ctx, "a")
	assert.ErrorIs(t, err, ErrTerminated)

	<-r.Done()
	var fault *invariantError
	assert.ErrorAs(t, r.Err(), &fault)

	_, err = r.Count(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestPanicTerminatesOnlyThatRegion(t *testing.T) {
	ctx := context.Background()
	failing := newRegion(t)
	healthy := newRegion(t)

	err := failing.call(ctx, "explode", func(st *state[string]) error {
		panic("boom")
	})
	assert.ErrorIs(t, err, ErrTerminated)
	<-failing.Done()

	require.NoError(t, healthy.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))
	count, err := healthy.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func blockActor(t *testing.T, r *Region[string]) (release func()) {
	t.Helper()
	ch := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = r.call(context.Background(), "block", func(st *state[string]) error {
			close(started)
			<-ch
			return nil
		})
	}()
	<-started
	return func() { close(ch) }
}

func TestContextBoundsWaiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MailboxSize = 0
	r := newRegion(t, WithConfig(cfg))

	release := blockActor(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Count(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	count, err := r.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestContextExpiresAfterEnqueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MailboxSize = 8
	r := newRegion(t, WithConfig(cfg))

	require.NoError(t, r.AddObject(context.Background(), "a", mustPoint(t, "a", 4.634562, -74.076297)))

	release := blockActor(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	points, err := r.QueryAround(ctx, bogota, 5000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, points)

	neighbors, err := r.QueryNearest(ctx, bogota, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, neighbors)

	// The accepted query still runs once the actor is free, and its reply
	// is dropped without reaching the caller.
	release()
	points, err = r.QueryAround(context.Background(), bogota, 5000)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	count, err := r.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	r, err := New[string]("id", "name", bogota, WithMetrics(m))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegionsActive))

	require.NoError(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)))
	assert.ErrorIs(t, r.AddObject(ctx, "a", mustPoint(t, "a", 4.6, -74.08)), ErrAlreadyExists)
	assert.ErrorIs(t, r.RemoveObject(ctx, "zzz"), ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("add", "already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("remove", "not_found")))

	r.Shutdown()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegionsActive))
}
