package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/health"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/registry"
	"github.com/nestwatch/sentryd/internal/secrets"
)

// fakeDriver is a controllable driver installed behind the "sched_test"
// tag so registry construction goes through the ordinary factory path.
type fakeDriver struct {
	mu         sync.Mutex
	probeDelay time.Duration
	fail       bool
	panicNext  bool

	probes  atomic.Int64
	acts    atomic.Int64
	closed  atomic.Bool
	busy    atomic.Int32
	overlap atomic.Bool
}

func (f *fakeDriver) Probe(ctx context.Context) model.Reading {
	if f.busy.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.busy.Add(-1)

	f.probes.Add(1)
	f.mu.Lock()
	delay, fail, panicNext := f.probeDelay, f.fail, f.panicNext
	f.mu.Unlock()

	if panicNext {
		panic("injected driver panic")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.Failed("sched-test", model.CauseTimeout, "probe cancelled", time.Now().UTC())
		}
	}
	if fail {
		return model.Failed("sched-test", model.CauseTransport, "injected failure", time.Now().UTC())
	}
	return model.Success("sched-test", model.PlugPayload{On: true, PowerWatts: 12}, time.Now().UTC())
}

func (f *fakeDriver) Act(ctx context.Context, action string, params map[string]any) driver.ActResult {
	if f.busy.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.busy.Add(-1)
	f.acts.Add(1)
	return driver.Ok(map[string]any{"action": action})
}

func (f *fakeDriver) Describe() driver.Capabilities { return driver.Capabilities{Controllable: true} }

func (f *fakeDriver) Close() error {
	f.closed.Store(true)
	return nil
}

var (
	fakesMu sync.Mutex
	fakes   = map[string]*fakeDriver{}
)

func init() {
	driver.Register("sched_test", func(cfg driver.Config) (driver.Driver, error) {
		fakesMu.Lock()
		defer fakesMu.Unlock()
		f, ok := fakes[cfg.Descriptor.ID]
		if !ok {
			f = &fakeDriver{}
			fakes[cfg.Descriptor.ID] = f
		}
		return f, nil
	})
}

func installFake(t *testing.T, id string, f *fakeDriver) {
	t.Helper()
	fakesMu.Lock()
	fakes[id] = f
	fakesMu.Unlock()
	t.Cleanup(func() {
		fakesMu.Lock()
		delete(fakes, id)
		fakesMu.Unlock()
	})
}

func testHarness(t *testing.T, id string, f *fakeDriver, interval time.Duration) (*Scheduler, *eventstore.Store, registry.Handle) {
	t.Helper()
	installFake(t, id, f)

	reg := registry.New(secrets.New())
	h, err := reg.Register(context.Background(), model.Descriptor{
		ID: id, Driver: "sched_test", Category: model.CategoryPlug,
		IntervalOverride: interval,
	})
	require.NoError(t, err)

	store := eventstore.New(100, 16, nil)
	s := New(reg, health.New(3), store, nil, 0)
	return s, store, h
}

func TestProbeAndActNeverOverlap(t *testing.T) {
	f := &fakeDriver{probeDelay: 150 * time.Millisecond}
	s, _, h := testHarness(t, "sched-overlap", f, MinInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartDevice(ctx, h)
	defer s.Stop()

	// Fire acts continuously while a manual cycle is in flight.
	s.mu.Lock()
	task := s.tasks[h]
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		task.cycle(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		res := s.Act(h, "noop", nil)
		assert.True(t, res.Success)
	}
	wg.Wait()

	assert.False(t, f.overlap.Load(), "probe and act overlapped on the same device")
}

func TestActWhileProbeInFlightWaitsForProbe(t *testing.T) {
	f := &fakeDriver{probeDelay: 300 * time.Millisecond}
	s, _, h := testHarness(t, "sched-wait", f, MinInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartDevice(ctx, h)
	defer s.Stop()

	s.mu.Lock()
	task := s.tasks[h]
	s.mu.Unlock()

	started := time.Now()
	go task.cycle(ctx)
	time.Sleep(50 * time.Millisecond)

	res := s.Act(h, "power_set", map[string]any{"on": false})
	elapsed := time.Since(started)

	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "act should have waited for the in-flight probe")
}

func TestProbesOnDistinctDevicesRunInParallel(t *testing.T) {
	const n = 8
	delay := 200 * time.Millisecond

	reg := registry.New(secrets.New())
	store := eventstore.New(1000, 16, nil)
	s := New(reg, health.New(3), store, nil, 0)

	handles := make([]registry.Handle, 0, n)
	for i := 0; i < n; i++ {
		id := "par-" + string(rune('a'+i))
		installFake(t, id, &fakeDriver{probeDelay: delay})
		h, err := reg.Register(context.Background(), model.Descriptor{
			ID: id, Driver: "sched_test", Category: model.CategoryPlug,
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	ctx := context.Background()
	for _, h := range handles {
		s.StartDevice(ctx, h)
	}
	defer s.Stop()

	start := time.Now()
	var wg sync.WaitGroup
	s.mu.Lock()
	for _, tsk := range s.tasks {
		wg.Add(1)
		go func(tk *task) {
			defer wg.Done()
			tk.cycle(ctx)
		}(tsk)
	}
	s.mu.Unlock()
	wg.Wait()

	// N devices each sleeping delay should finish in roughly delay, not
	// N*delay.
	assert.Less(t, time.Since(start), 3*delay)
}

func TestPanicInsideProbeBecomesProtocolFailure(t *testing.T) {
	f := &fakeDriver{panicNext: true}
	s, store, h := testHarness(t, "sched-panic", f, MinInterval)

	ctx := context.Background()
	s.StartDevice(ctx, h)
	defer s.Stop()

	s.mu.Lock()
	task := s.tasks[h]
	s.mu.Unlock()

	require.NotPanics(t, func() { task.cycle(ctx) })

	events := store.Query(0, "", model.CategoryDeviceConnection, 0)
	require.NotEmpty(t, events)
	assert.Equal(t, model.SeverityWarning, events[0].Severity)

	_, view, err := s.reg.Lookup("sched-panic")
	require.NoError(t, err)
	require.NotNil(t, view.Runtime.LastReading)
	require.NotNil(t, view.Runtime.LastReading.Failure)
	assert.Equal(t, model.CauseProtocol, view.Runtime.LastReading.Failure.Cause)
}

func TestSecondPanicWithinWindowForcesMaxInterval(t *testing.T) {
	f := &fakeDriver{panicNext: true}
	s, _, h := testHarness(t, "sched-panic2", f, MinInterval)

	ctx := context.Background()
	s.StartDevice(ctx, h)
	defer s.Stop()

	s.mu.Lock()
	task := s.tasks[h]
	s.mu.Unlock()

	task.cycle(ctx)
	task.cycle(ctx)

	delay := task.nextDelay()
	low := time.Duration(float64(MaxBackoffInterval) * (1 - jitterFraction))
	assert.GreaterOrEqual(t, delay, low, "after two panics the next delay should sit at the max interval")
}

func TestStopClosesDriver(t *testing.T) {
	f := &fakeDriver{}
	s, _, h := testHarness(t, "sched-close", f, MinInterval)

	s.StartDevice(context.Background(), h)
	s.Stop()

	assert.True(t, f.closed.Load())
	assert.False(t, s.Running())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 10 * time.Second
	assert.Equal(t, base, backoff(base, 0))
	assert.Equal(t, 20*time.Second, backoff(base, 1))
	assert.Equal(t, 40*time.Second, backoff(base, 2))
	assert.Equal(t, MaxBackoffInterval, backoff(base, 10))
}

func TestJitterStaysWithinFraction(t *testing.T) {
	base := 30 * time.Second
	low := time.Duration(float64(base) * (1 - jitterFraction))
	high := time.Duration(float64(base) * (1 + jitterFraction))
	for i := 0; i < 200; i++ {
		j := jitter(base)
		assert.GreaterOrEqual(t, j, low)
		assert.LessOrEqual(t, j, high)
	}
}

func TestActOnUnknownHandleFailsUnavailable(t *testing.T) {
	reg := registry.New(secrets.New())
	s := New(reg, health.New(3), eventstore.New(10, 4, nil), nil, 0)

	res := s.Act(registry.Handle{}, "noop", nil)
	require.False(t, res.Success)
	assert.Equal(t, model.CauseUnavailable, res.Failure.Cause)
}
