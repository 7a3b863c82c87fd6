// Package scheduler runs one logical scrape loop per device:
// jittered/backed-off probing, probe/act mutual exclusion, cancellation
// with a grace period, and panic-boundary recovery. Each loop is a
// self-rescheduling timer rather than a ticker, since backoff needs a
// variable interval a ticker cannot express.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nestwatch/sentryd/infrastructure/metrics"
	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/health"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/registry"
)

const (
	// DefaultInterval / MinInterval are the per-device scrape
	// interval defaults.
	DefaultInterval = 30 * time.Second
	MinInterval     = 5 * time.Second

	// MaxBackoffInterval caps the exponential backoff applied to the
	// next interval after consecutive failures.
	MaxBackoffInterval = 300 * time.Second

	jitterFraction = 0.20

	// ActWaitTimeout is how long an Act call waits for an in-flight
	// probe to finish before failing `unavailable`.
	ActWaitTimeout = 15 * time.Second

	// CloseGracePeriod is how long Stop waits for an in-flight probe to
	// notice cancellation before abandoning it as leaked.
	CloseGracePeriod = 5 * time.Second

	// panicWindow/panicEscalateAfter pin the device to its maximum
	// interval after the second driver panic within one minute, until a
	// success.
	panicWindow        = time.Minute
	panicEscalateAfter = 2
)

// Scheduler owns one task per registered device.
type Scheduler struct {
	reg   *registry.Registry
	eval  *health.Evaluator
	store *eventstore.Store
	mets  *metrics.Metrics

	defaultInterval time.Duration

	mu      sync.Mutex
	tasks   map[registry.Handle]*task
	stopped bool
}

// New builds a Scheduler. mets may be nil (tests); defaultInterval <= 0
// falls back to DefaultInterval, below MinInterval is clamped.
func New(reg *registry.Registry, eval *health.Evaluator, store *eventstore.Store, mets *metrics.Metrics, defaultInterval time.Duration) *Scheduler {
	if defaultInterval <= 0 {
		defaultInterval = DefaultInterval
	}
	if defaultInterval < MinInterval {
		defaultInterval = MinInterval
	}
	return &Scheduler{
		reg:             reg,
		eval:            eval,
		store:           store,
		mets:            mets,
		defaultInterval: defaultInterval,
		tasks:           make(map[registry.Handle]*task),
	}
}

// Running reports whether Stop has not yet been called, for the /healthz
// probe; it does not look at how many tasks are live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Start launches one task for every device currently in the registry.
func (s *Scheduler) Start(ctx context.Context) {
	for _, h := range s.reg.Handles() {
		s.StartDevice(ctx, h)
	}
}

// StartDevice launches a task for a single handle, used both at startup
// and when Reload adds a new device.
func (s *Scheduler) StartDevice(ctx context.Context, h registry.Handle) {
	desc, err := s.reg.Descriptor(h)
	if err != nil {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		sched:      s,
		handle:     h,
		descriptor: desc,
		cancel:     cancel,
		doneCh:     make(chan struct{}),
		slot:       make(chan struct{}, 1),
	}
	t.slot <- struct{}{}

	s.mu.Lock()
	s.tasks[h] = t
	s.mu.Unlock()

	go t.run(taskCtx)
}

// StopDevice cancels and removes a single device's task, used when Reload
// removes or replaces a device.
func (s *Scheduler) StopDevice(h registry.Handle) {
	s.mu.Lock()
	t, ok := s.tasks[h]
	if ok {
		delete(s.tasks, h)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.stop()
}

// Stop cancels every task and waits up to CloseGracePeriod for in-flight
// probes to unwind. Tasks that do not unwind in time are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[registry.Handle]*task)
	s.stopped = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			t.stop()
		}(t)
	}
	wg.Wait()
}

// Act invokes an action on a device through its task, serialized against
// that device's probe cycle.
func (s *Scheduler) Act(h registry.Handle, action string, params map[string]any) driver.ActResult {
	s.mu.Lock()
	t, ok := s.tasks[h]
	s.mu.Unlock()
	if !ok {
		return driver.Fail(model.CauseUnavailable, "device has no running scheduler task")
	}
	return t.act(action, params)
}

type task struct {
	sched      *Scheduler
	handle     registry.Handle
	descriptor model.Descriptor

	cancel context.CancelFunc
	doneCh chan struct{}
	slot   chan struct{} // capacity 1; held by whichever of probe/act is active

	mu            sync.Mutex
	failures      int
	panicTimes    []time.Time
	forcedMaxNext bool
}

func (t *task) stop() {
	t.cancel()
	driverInstance, err := t.sched.reg.Driver(t.handle)

	select {
	case <-t.doneCh:
	case <-time.After(CloseGracePeriod):
		// Probe did not notice cancellation in time; it is leaked. We
		// still return so shutdown/reload is not held up indefinitely.
	}

	if err == nil && driverInstance != nil {
		_ = driverInstance.Close()
	}
}

func (t *task) run(ctx context.Context) {
	defer close(t.doneCh)

	for {
		timer := time.NewTimer(t.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		t.cycle(ctx)
	}
}

// nextDelay computes the next fire delay: base interval (per-device
// override or scheduler default), scaled by exponential backoff when the
// device has consecutive failures or a recent panic streak, then
// jittered +-20% so a fleet of devices never probes in lockstep.
func (t *task) nextDelay() time.Duration {
	t.mu.Lock()
	failures := t.failures
	forced := t.forcedMaxNext
	t.mu.Unlock()

	base := t.baseInterval()
	next := backoff(base, failures)
	if forced {
		next = MaxBackoffInterval
	}
	return jitter(next)
}

// acquireSlot blocks until the slot is free or ctx is done.
func (t *task) acquireSlot(ctx context.Context) bool {
	select {
	case <-t.slot:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *task) releaseSlot() {
	t.slot <- struct{}{}
}

func (t *task) cycle(ctx context.Context) {
	if !t.acquireSlot(ctx) {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, driver.DefaultProbeDeadline)
	started := time.Now()
	reading := t.runProbeWithRecovery(probeCtx)
	elapsed := time.Since(started)
	cancel()
	t.releaseSlot()

	if m := t.sched.mets; m != nil {
		cause := ""
		if !reading.IsSuccess() {
			cause = string(reading.Failure.Cause)
		}
		m.RecordProbe(t.descriptor.ID, elapsed, cause)
	}

	t.applyReading(reading)
}

func (t *task) runProbeWithRecovery(ctx context.Context) (reading model.Reading) {
	defer func() {
		if r := recover(); r != nil {
			t.recordPanic()
			reading = model.Failed(t.descriptor.ID, model.CauseProtocol, fmt.Sprintf("driver panicked: %v", r), time.Now().UTC())
		}
	}()

	d, err := t.sched.reg.Driver(t.handle)
	if err != nil {
		return model.Failed(t.descriptor.ID, model.CauseUnavailable, "device no longer registered", time.Now().UTC())
	}
	return d.Probe(ctx)
}

func (t *task) recordPanic() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-panicWindow)
	kept := t.panicTimes[:0]
	for _, ts := range t.panicTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.panicTimes = append(kept, now)
	if len(t.panicTimes) >= panicEscalateAfter {
		t.forcedMaxNext = true
	}
}

func (t *task) applyReading(reading model.Reading) {
	_, prevView, err := t.sched.reg.Lookup(t.descriptor.ID)
	prev := model.RuntimeState{Phase: model.PhaseOK}
	if err == nil {
		prev = prevView.Runtime
	}

	next, events := t.sched.eval.Evaluate(t.descriptor, prev, reading, time.Now().UTC())

	_ = t.sched.reg.UpdateRuntime(t.handle, func(rt *model.RuntimeState) {
		*rt = next
	})

	for _, e := range events {
		t.sched.store.Append(e)
	}

	if m := t.sched.mets; m != nil {
		m.SetDeviceUp(t.descriptor.ID, string(t.descriptor.Category), t.descriptor.Driver, next.Phase == model.PhaseOK)
	}

	t.mu.Lock()
	t.failures = next.ConsecutiveFailures
	if reading.IsSuccess() {
		t.forcedMaxNext = false
		t.panicTimes = nil
	}
	t.mu.Unlock()
}

// act serializes against the probe cycle through the same slot channel;
// the action waits up to ActWaitTimeout for an in-flight probe, then
// fails `unavailable`. Event emission for the invocation is
// the dispatcher's job, so manual and tool-driven acts audit identically.
func (t *task) act(action string, params map[string]any) driver.ActResult {
	timer := time.NewTimer(ActWaitTimeout)
	defer timer.Stop()

	select {
	case <-t.slot:
	case <-timer.C:
		return driver.Fail(model.CauseUnavailable, "device busy with an in-flight probe")
	}
	defer t.releaseSlot()

	d, err := t.sched.reg.Driver(t.handle)
	if err != nil {
		return driver.Fail(model.CauseUnavailable, "device no longer registered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), driver.DefaultActDeadline)
	defer cancel()

	return t.safeAct(ctx, d, action, params)
}

func (t *task) safeAct(ctx context.Context, d driver.Driver, action string, params map[string]any) (result driver.ActResult) {
	defer func() {
		if r := recover(); r != nil {
			t.recordPanic()
			result = driver.Fail(model.CauseProtocol, fmt.Sprintf("driver panicked: %v", r))
		}
	}()
	return d.Act(ctx, action, params)
}

func (t *task) baseInterval() time.Duration {
	if t.descriptor.IntervalOverride > 0 {
		return t.descriptor.IntervalOverride
	}
	return t.sched.defaultInterval
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(base) + offset)
	if result < 0 {
		result = 0
	}
	return result
}

func backoff(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	scaled := base
	for i := 0; i < failures && scaled < MaxBackoffInterval; i++ {
		scaled *= 2
	}
	if scaled > MaxBackoffInterval {
		scaled = MaxBackoffInterval
	}
	return scaled
}
