// Package eventstore implements the bounded, ordered event log with
// subscription fan-out: append, query, acknowledge, and
// subscribe/unsubscribe over a single mutex-guarded, capacity-bounded
// sequence.
package eventstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
	"github.com/nestwatch/sentryd/internal/model"
)

// DefaultCapacity and DefaultSubscriptionBuffer are the standard retention defaults.
const (
	DefaultCapacity           = 10000
	DefaultSubscriptionBuffer = 256

	// maxCascade bounds how many synthetic event_dropped alarms one
	// Append call may chain-produce if capacity is small enough that an
	// eviction notice itself evicts another severity>=warning event.
	// Default capacity never comes close to this; it only protects
	// pathological tiny-capacity configurations from looping
	// unboundedly.
	maxCascade = 16
)

// TruncateFunc is called once per event evicted for capacity, regardless
// of severity — the Structured Logger uses this to emit the
// "event_store_truncated" log line, without that notice itself
// consuming a slot in the bounded store (which would
// otherwise make every eviction spawn another eviction).
type TruncateFunc func(droppedSeq uint64, category string, severity model.Severity)

// AppendHook observes every stored event synchronously, outside the
// store's lock. The composition root uses it to mirror each event into
// the structured log stream and the events_total counter; it must not
// block on I/O slower than a stdout write.
type AppendHook func(model.Event)

type subscription struct {
	id      uuid.UUID
	filter  model.SubscriptionFilter
	ch      chan model.Event
	lagging bool
}

// Store is the bounded event log. All state is guarded by one mutex;
// reads take RLock, mutations take Lock. Subscriber delivery happens
// inside the same critical section as the append that produced the
// event, so every subscriber observes events in exactly sequence order
// and Subscribe has a clear linearization point against concurrent
// Append calls.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []model.Event // ascending by Seq, oldest first
	nextSeq  uint64

	onTruncate TruncateFunc
	appendHook AppendHook

	subBufSize int
	subs       map[uuid.UUID]*subscription

	categoryIdx *lru.Cache[string, []uint64]
}

// New builds an empty Store. capacity/subBufSize <= 0 fall back to the
// standard defaults. onTruncate may be nil.
func New(capacity, subBufSize int, onTruncate TruncateFunc) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if subBufSize <= 0 {
		subBufSize = DefaultSubscriptionBuffer
	}
	idx, _ := lru.New[string, []uint64](64)
	return &Store{
		capacity:    capacity,
		subBufSize:  subBufSize,
		onTruncate:  onTruncate,
		subs:        make(map[uuid.UUID]*subscription),
		categoryIdx: idx,
	}
}

// SetAppendHook installs fn as the per-event observer. Call before any
// Append; the hook is read without synchronization afterwards.
func (s *Store) SetAppendHook(fn AppendHook) {
	s.appendHook = fn
}

// Append adds e to the log, assigning it the next sequence number, and
// returns that sequence number. If the log is at capacity the oldest
// event is evicted; an eviction of a severity>=warning event produces a
// companion "event_dropped" alarm, itself appended and delivered in the
// same call.
func (s *Store) Append(e model.Event) uint64 {
	s.mu.Lock()

	primarySeq := uint64(0)
	produced := s.appendBatchLocked(e)
	if len(produced) > 0 {
		primarySeq = produced[0].Seq
	}

	// Fan-out happens under the same lock as the append: deliver is a
	// non-blocking buffered-channel send, so the lock is never held
	// across I/O, and two concurrent Appends can neither reorder a
	// subscription's stream nor race Unsubscribe's channel close.
	for _, ev := range produced {
		for _, sub := range s.subs {
			s.deliver(sub, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range produced {
		if s.appendHook != nil {
			s.appendHook(ev)
		}
	}
	return primarySeq
}

func (s *Store) appendBatchLocked(first model.Event) []model.Event {
	pending := []model.Event{first}
	var produced []model.Event

	for i := 0; len(pending) > 0 && i < maxCascade; i++ {
		e := pending[0]
		pending = pending[1:]

		e.Seq = s.nextSeq + 1
		s.nextSeq++
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		s.events = append(s.events, e)
		s.categoryIdx.Remove(e.Category)
		produced = append(produced, e)

		if len(s.events) <= s.capacity {
			continue
		}

		dropped := s.events[0]
		s.events = s.events[1:]
		s.categoryIdx.Remove(dropped.Category)

		if s.onTruncate != nil {
			s.onTruncate(dropped.Seq, dropped.Category, dropped.Severity)
		}

		if dropped.Severity.AtLeast(model.SeverityWarning) {
			pending = append(pending, model.Event{
				Severity: model.SeverityAlarm,
				Category: model.CategoryEventDropped,
				Source:   model.SourceSystem,
				Message:  fmt.Sprintf("event %d dropped to enforce capacity", dropped.Seq),
				Detail: map[string]any{
					"dropped_seq":      dropped.Seq,
					"dropped_category": dropped.Category,
					"dropped_severity": dropped.Severity,
				},
			})
		}
	}
	return produced
}

// Query returns events matching the filters, newest first, up to limit
// (limit<=0 means unlimited). sinceSeq excludes that sequence and
// everything before it; severityFloor and category are optional.
func (s *Store) Query(sinceSeq uint64, severityFloor model.Severity, category string, limit int) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if category != "" {
		return s.queryByCategoryLocked(sinceSeq, severityFloor, category, limit)
	}

	var results []model.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Seq <= sinceSeq {
			break // events are ascending by seq, nothing older matches either
		}
		if severityFloor != "" && !e.Severity.AtLeast(severityFloor) {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

func (s *Store) queryByCategoryLocked(sinceSeq uint64, severityFloor model.Severity, category string, limit int) []model.Event {
	seqs := s.seqsForCategoryLocked(category)
	var results []model.Event
	for i := len(seqs) - 1; i >= 0; i-- {
		seq := seqs[i]
		if seq <= sinceSeq {
			break
		}
		e, ok := s.findBySeqLocked(seq)
		if !ok {
			continue // evicted since the index was built
		}
		if severityFloor != "" && !e.Severity.AtLeast(severityFloor) {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

func (s *Store) seqsForCategoryLocked(category string) []uint64 {
	if cached, ok := s.categoryIdx.Get(category); ok {
		return cached
	}
	var seqs []uint64
	for _, e := range s.events {
		if e.Category == category {
			seqs = append(seqs, e.Seq)
		}
	}
	s.categoryIdx.Add(category, seqs)
	return seqs
}

// findBySeqLocked binary searches the ascending-by-seq event slice.
func (s *Store) findBySeqLocked(seq uint64) (model.Event, bool) {
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq >= seq })
	if i < len(s.events) && s.events[i].Seq == seq {
		return s.events[i], true
	}
	return model.Event{}, false
}

// Acknowledge marks an event acknowledged. Returns NotFound if the
// sequence was never issued or has since been evicted, AlreadyAcked if
// it was already acknowledged.
func (s *Store) Acknowledge(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq >= seq })
	if i >= len(s.events) || s.events[i].Seq != seq {
		return infraerrors.NotFound("event", fmt.Sprintf("%d", seq))
	}
	if s.events[i].Acknowledged {
		return infraerrors.AlreadyAcknowledged(seq)
	}
	s.events[i].Acknowledged = true
	return nil
}

// Subscribe registers a new subscriber and returns its handle and
// receive-only delivery channel. The channel is closed by Unsubscribe.
func (s *Store) Subscribe(filter model.SubscriptionFilter) (uuid.UUID, <-chan model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	sub := &subscription{id: id, filter: filter, ch: make(chan model.Event, s.subBufSize)}
	s.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (s *Store) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(sub.ch)
}

// deliver sends e to sub if it matches the subscription's filter,
// dropping the oldest pending event and injecting one
// "subscription_lagging" notice if the subscriber's buffer is full. A
// notice that a later overflow evicts is replaced by a fresh one.
// Called with s.mu held; every send is non-blocking, so a
// slow consumer loses events rather than blocking appenders.
func (s *Store) deliver(sub *subscription, e model.Event) {
	if !sub.filter.Matches(e) {
		return
	}

	select {
	case sub.ch <- e:
		sub.lagging = false
		return
	default:
	}

	select {
	case dropped := <-sub.ch:
		if dropped.Category == model.CategorySubscriptionLag {
			// The pending notice itself was evicted; re-arm so a fresh
			// one follows and the gap stays visible to the subscriber.
			sub.lagging = false
		}
	default:
	}
	select {
	case sub.ch <- e:
	default:
	}

	if sub.lagging {
		return
	}
	sub.lagging = true

	lag := model.Event{
		Timestamp: time.Now().UTC(),
		Severity:  model.SeverityWarning,
		Category:  model.CategorySubscriptionLag,
		Source:    model.SourceSystem,
		Message:   "subscription buffer overflowed, events were dropped",
	}
	select {
	case sub.ch <- lag:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- lag:
		default:
		}
	}
}

// Size reports how many events the log currently holds.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// UnacknowledgedBySeverity counts unacknowledged events grouped by
// severity, for the events_unacknowledged{severity} gauge.
func (s *Store) UnacknowledgedBySeverity() map[model.Severity]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[model.Severity]int{}
	for _, e := range s.events {
		if e.RequiresAcknowledgement() && !e.Acknowledged {
			counts[e.Severity]++
		}
	}
	return counts
}
