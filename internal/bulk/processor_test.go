package bulk_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/noah-isme/cekresi/internal/bulk"
	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/obs"
	"github.com/noah-isme/cekresi/internal/shipping"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type progressCall struct {
	current int
	total   int
	at      time.Time
}

type recorder struct {
	mu        sync.Mutex
	progress  []progressCall
	results   []bulk.Result
	summaries []bulk.Summary
	once      sync.Once
	done      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) callbacks() bulk.Callbacks {
	return bulk.Callbacks{
		OnProgress: func(current, total int) {
			r.mu.Lock()
			r.progress = append(r.progress, progressCall{current: current, total: total, at: time.Now()})
			r.mu.Unlock()
		},
		OnResult: func(res bulk.Result) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
		},
		OnComplete: func(s bulk.Summary) {
			r.mu.Lock()
			r.summaries = append(r.summaries, s)
			r.mu.Unlock()
			r.once.Do(func() { close(r.done) })
		},
	}
}

func (r *recorder) wait(t *testing.T, timeout time.Duration) bulk.Summary {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("run did not complete within %s", timeout)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.summaries, 1)
	return r.summaries[0]
}

func (r *recorder) resultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *recorder) resultsByID() map[string]bulk.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bulk.Result, len(r.results))
	for _, res := range r.results {
		out[res.TrackingNumber] = res
	}
	return out
}

func trackingNumbers(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("CGK%010d", i+1)
	}
	return ids
}

func TestEndToEndSevenItems(t *testing.T) {
	t.Parallel()

	const delay = 80 * time.Millisecond
	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(delay))
	require.NoError(t, p.Submit(trackingNumbers(7)))
	require.True(t, p.Start(context.Background()))

	summary := rec.wait(t, 5*time.Second)
	require.Equal(t, 7, summary.Total)
	require.Equal(t, 7, summary.Dispatched)
	require.Equal(t, 7, summary.Succeeded)
	require.False(t, summary.Cancelled)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.progress, 7)
	require.Len(t, rec.results, 7)
	for i, call := range rec.progress {
		require.Equal(t, i+1, call.current)
		require.Equal(t, 7, call.total)
	}
	require.GreaterOrEqual(t, rec.progress[3].at.Sub(rec.progress[2].at), delay)
	require.GreaterOrEqual(t, rec.progress[6].at.Sub(rec.progress[5].at), delay)
	require.False(t, p.Running())
	require.Equal(t, bulk.PhaseIdle, p.Phase())
}

func TestTotalConservation(t *testing.T) {
	t.Parallel()

	for _, k := range []int{1, 2, 3, 4, 10, 100} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			t.Parallel()
			rec := newRecorder()
			p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(0))
			ids := trackingNumbers(k)
			require.NoError(t, p.Submit(ids))
			require.True(t, p.Run(context.Background()))

			summary := rec.wait(t, 5*time.Second)
			require.Equal(t, k, summary.Total)
			require.Zero(t, summary.Skipped())

			got := rec.resultsByID()
			require.Len(t, got, k)
			for _, id := range ids {
				require.Contains(t, got, id)
			}
		})
	}
}

func TestBatchBound(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return shipping.TrackResult{Found: true, Status: "delivered"}, nil
	})

	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithDelay(5*time.Millisecond))
	require.NoError(t, p.Submit(trackingNumbers(10)))
	p.Start(context.Background())
	rec.wait(t, 5*time.Second)

	require.Equal(t, int32(3), peak.Load())
}

func TestNoTrailingDelay(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(time.Hour))
	require.NoError(t, p.Submit(trackingNumbers(3)))

	started := time.Now()
	p.Start(context.Background())
	summary := rec.wait(t, 2*time.Second)
	require.Less(t, time.Since(started), time.Second)
	require.Equal(t, 3, summary.Dispatched)
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()

	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		if strings.HasPrefix(req.TrackingNumber, "PANIC") {
			panic("provider exploded")
		}
		return shipping.Mock{}.Track(ctx, req)
	})
	ids := []string{"CGK0000000001", "CGK0000000500", "CGK0000000404", "PANIC0000001", "CGK0000000002"}

	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithDelay(time.Millisecond))
	require.NoError(t, p.Submit(ids))
	p.Start(context.Background())
	summary := rec.wait(t, 5*time.Second)

	require.Equal(t, 5, summary.Dispatched)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 3, summary.Failed)

	got := rec.resultsByID()
	ok := got["CGK0000000001"]
	require.False(t, ok.IsError)
	require.Equal(t, courier.JNE, ok.Courier)
	require.Equal(t, shipping.StatusDelivered, ok.Status)
	require.Equal(t, "2024-01-04 13:05", ok.Date)

	transport := got["CGK0000000500"]
	require.True(t, transport.IsError)
	require.Equal(t, courier.Unknown, transport.Courier)
	require.Equal(t, bulk.StatusError, transport.Status)
	require.Equal(t, shipping.ErrMockTransport.Error(), transport.ErrorMessage)

	notFound := got["CGK0000000404"]
	require.True(t, notFound.IsError)
	require.Equal(t, courier.JNE, notFound.Courier)
	require.Equal(t, bulk.StatusNotFound, notFound.Status)
	require.Equal(t, bulk.DateUnavailable, notFound.Date)
	require.Empty(t, notFound.ErrorMessage)

	panicked := got["PANIC0000001"]
	require.True(t, panicked.IsError)
	require.Equal(t, bulk.StatusError, panicked.Status)
	require.Contains(t, panicked.ErrorMessage, "provider exploded")

	require.False(t, got["CGK0000000002"].IsError)
}

func TestFoundWithoutStatusOrDate(t *testing.T) {
	t.Parallel()

	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		return shipping.TrackResult{Found: true}, nil
	})
	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks())
	require.NoError(t, p.Submit([]string{"JP1234567890"}))
	p.Run(context.Background())
	rec.wait(t, time.Second)

	res := rec.resultsByID()["JP1234567890"]
	require.False(t, res.IsError)
	require.Equal(t, courier.JNT, res.Courier)
	require.Equal(t, shipping.StatusUnknown, res.Status)
	require.Equal(t, bulk.DateUnavailable, res.Date)
}

func TestAbortStopsAfterInFlightBatch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started atomic.Int32
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		started.Add(1)
		<-release
		return shipping.TrackResult{Found: true, Status: "delivered"}, nil
	})

	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithDelay(time.Hour))
	ids := trackingNumbers(7)
	require.NoError(t, p.Submit(ids))
	require.True(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, 5*time.Millisecond)
	p.Abort()
	require.True(t, p.Running())
	close(release)

	summary := rec.wait(t, 2*time.Second)
	require.True(t, summary.Cancelled)
	require.Equal(t, 3, summary.Dispatched)
	require.Equal(t, 4, summary.Skipped())
	require.Equal(t, 3, rec.resultCount())
	require.Equal(t, int32(3), started.Load())
	require.Equal(t, ids[3:], p.Pending())
}

func TestAbortWakesDelay(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(time.Hour))
	require.NoError(t, p.Submit(trackingNumbers(5)))
	p.Start(context.Background())

	require.Eventually(t, func() bool { return p.Phase() == bulk.PhaseDelay }, time.Second, 5*time.Millisecond)
	p.Abort()
	p.Abort()

	summary := rec.wait(t, time.Second)
	require.True(t, summary.Cancelled)
	require.Equal(t, 3, summary.Dispatched)
}

func TestResumeAfterAbort(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		mu.Lock()
		seen = append(seen, req.TrackingNumber)
		mu.Unlock()
		return shipping.TrackResult{Found: true}, nil
	})
	p := bulk.NewProcessor(provider, bulk.Callbacks{}, bulk.WithDelay(time.Hour))
	ids := trackingNumbers(5)
	require.NoError(t, p.Submit(ids))
	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Phase() == bulk.PhaseDelay }, time.Second, 5*time.Millisecond)
	p.Abort()
	p.Wait()

	require.Len(t, p.Pending(), 2)
	require.True(t, p.Run(context.Background()))
	require.Empty(t, p.Pending())

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, ids, seen)
}

func TestContextCancellationActsLikeAbort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(time.Hour))
	require.NoError(t, p.Submit(trackingNumbers(6)))
	p.Start(ctx)

	require.Eventually(t, func() bool { return rec.resultCount() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	summary := rec.wait(t, time.Second)
	require.True(t, summary.Cancelled)
	require.Equal(t, 3, summary.Skipped())
}

func TestContextCancellationLetsInFlightBatchSettle(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		started.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return shipping.TrackResult{}, ctx.Err()
		}
		return shipping.TrackResult{Found: true, Status: "delivered", Date: "2024-01-02"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithDelay(time.Hour))
	require.NoError(t, p.Submit(trackingNumbers(6)))
	p.Start(ctx)

	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, time.Millisecond)
	cancel()

	summary := rec.wait(t, 2*time.Second)
	require.True(t, summary.Cancelled)
	require.Equal(t, 3, summary.Dispatched)
	require.Equal(t, 3, summary.Succeeded)
	require.Zero(t, summary.Failed)

	results := rec.resultsByID()
	require.Len(t, results, 3)
	for id, res := range results {
		assert.False(t, res.IsError, id)
		assert.Equal(t, shipping.StatusDelivered, res.Status, id)
	}
	require.Equal(t, int32(3), started.Load())
}

func TestWaitReturnsAfterOnComplete(t *testing.T) {
	t.Parallel()

	var completed atomic.Bool
	waited := make(chan struct{})
	var p *bulk.Processor
	p = bulk.NewProcessor(shipping.Mock{}, bulk.Callbacks{
		OnComplete: func(bulk.Summary) {
			go func() {
				p.Wait()
				close(waited)
			}()
			time.Sleep(20 * time.Millisecond)
			completed.Store(true)
		},
	})
	require.NoError(t, p.Submit(trackingNumbers(1)))
	p.Start(context.Background())

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
	require.True(t, completed.Load())
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		<-release
		return shipping.TrackResult{Found: true}, nil
	})
	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithDelay(0))
	require.NoError(t, p.Submit(trackingNumbers(4)))

	require.True(t, p.Start(context.Background()))
	require.False(t, p.Start(context.Background()))
	require.False(t, p.Run(context.Background()))
	require.ErrorIs(t, p.Submit(trackingNumbers(2)), bulk.ErrRunning)
	close(release)

	summary := rec.wait(t, 2*time.Second)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 4, rec.resultCount())

	p.Wait()
	rec.mu.Lock()
	require.Len(t, rec.summaries, 1)
	rec.mu.Unlock()
}

func TestAbortWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks(), bulk.WithDelay(0))
	p.Abort()
	p.Wait()
	require.NoError(t, p.Submit(trackingNumbers(2)))
	p.Run(context.Background())

	summary := rec.wait(t, time.Second)
	require.False(t, summary.Cancelled)
	require.Equal(t, 2, summary.Dispatched)
}

func TestSubmitRejectsTooManyItems(t *testing.T) {
	t.Parallel()

	p := bulk.NewProcessor(shipping.Mock{}, bulk.Callbacks{}, bulk.WithMaxItems(5))
	require.ErrorIs(t, p.Submit(trackingNumbers(6)), bulk.ErrTooManyItems)
	require.NoError(t, p.Submit(trackingNumbers(5)))

	def := bulk.NewProcessor(shipping.Mock{}, bulk.Callbacks{})
	require.ErrorIs(t, def.Submit(trackingNumbers(bulk.DefaultMaxItems+1)), bulk.ErrTooManyItems)
}

func TestEmptyRunCompletes(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := bulk.NewProcessor(shipping.Mock{}, rec.callbacks())
	require.True(t, p.Run(context.Background()))
	summary := rec.wait(t, time.Second)
	require.Zero(t, summary.Total)
	require.False(t, summary.Cancelled)
}

func TestLookupTimeoutSettlesAsError(t *testing.T) {
	t.Parallel()

	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		<-ctx.Done()
		return shipping.TrackResult{}, ctx.Err()
	})
	rec := newRecorder()
	p := bulk.NewProcessor(provider, rec.callbacks(), bulk.WithLookupTimeout(20*time.Millisecond))
	require.NoError(t, p.Submit([]string{"SPXID0123456789"}))
	p.Run(context.Background())
	rec.wait(t, time.Second)

	res := rec.resultsByID()["SPXID0123456789"]
	require.True(t, res.IsError)
	require.Equal(t, bulk.StatusError, res.Status)
	require.Contains(t, res.ErrorMessage, "timed out")
}

func TestNilProviderFailsEveryItem(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := bulk.NewProcessor(nil, rec.callbacks(), bulk.WithDelay(0))
	require.NoError(t, p.Submit(trackingNumbers(4)))
	p.Run(context.Background())
	summary := rec.wait(t, time.Second)
	require.Equal(t, 4, summary.Failed)
	for _, res := range rec.resultsByID() {
		assert.Equal(t, bulk.ErrNoProvider.Error(), res.ErrorMessage)
	}
}

func TestCourierInferenceAndHint(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	couriers := map[string]courier.Code{}
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		mu.Lock()
		couriers[req.TrackingNumber] = req.Courier
		mu.Unlock()
		return shipping.TrackResult{Found: true}, nil
	})
	ids := []string{"JP1234567890", "001234567890123", "NV1234567890", "9999999999999"}

	p := bulk.NewProcessor(provider, bulk.Callbacks{}, bulk.WithDelay(0))
	require.NoError(t, p.Submit(ids))
	p.Run(context.Background())
	mu.Lock()
	require.Equal(t, courier.JNT, couriers["JP1234567890"])
	require.Equal(t, courier.SiCepat, couriers["001234567890123"])
	require.Equal(t, courier.Ninja, couriers["NV1234567890"])
	require.Equal(t, courier.POS, couriers["9999999999999"])
	mu.Unlock()

	hinted := bulk.NewProcessor(provider, bulk.Callbacks{}, bulk.WithDelay(0), bulk.WithCourier(courier.SPX))
	require.NoError(t, hinted.Submit(ids))
	hinted.Run(context.Background())
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		require.Equal(t, courier.SPX, couriers[id])
	}
}

func TestWithBatchSize(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	provider := shipping.ProviderFunc(func(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return shipping.TrackResult{}, errors.New("boom")
	})
	p := bulk.NewProcessor(provider, bulk.Callbacks{}, bulk.WithBatchSize(5), bulk.WithDelay(0))
	require.NoError(t, p.Submit(trackingNumbers(12)))
	p.Run(context.Background())
	require.Equal(t, int32(5), peak.Load())
}

func TestRunMetrics(t *testing.T) {
	obs.MustRegisterDomainMetrics("cekresi_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.BulkRunsTotal.WithLabelValues("completed"))
	notFoundBefore := testutil.ToFloat64(obs.BulkLookupsTotal.WithLabelValues("jne", "not_found"))

	p := bulk.NewProcessor(shipping.Mock{}, bulk.Callbacks{}, bulk.WithDelay(0))
	require.NoError(t, p.Submit([]string{"CGK0000000001", "CGK0000000404"}))
	p.Run(context.Background())

	require.Equal(t, before+1, testutil.ToFloat64(obs.BulkRunsTotal.WithLabelValues("completed")))
	require.Equal(t, notFoundBefore+1, testutil.ToFloat64(obs.BulkLookupsTotal.WithLabelValues("jne", "not_found")))
	require.Equal(t, 0.0, testutil.ToFloat64(obs.BulkLookupsInFlight))
}
