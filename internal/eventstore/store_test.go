package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/sentryd/internal/model"
)

func infoEvent(msg string) model.Event {
	return model.Event{Timestamp: time.Now().UTC(), Severity: model.SeverityInfo, Category: "test", Source: "dev-1", Message: msg}
}

func TestAppendAssignsIncreasingSequences(t *testing.T) {
	s := New(100, 10, nil)
	seq1 := s.Append(infoEvent("a"))
	seq2 := s.Append(infoEvent("b"))
	assert.Less(t, seq1, seq2)
}

func TestQueryIsMonotoneInSinceSeq(t *testing.T) {
	s := New(100, 10, nil)
	var seqs []uint64
	for i := 0; i < 5; i++ {
		seqs = append(seqs, s.Append(infoEvent("e")))
	}

	all := s.Query(0, "", "", 0)
	some := s.Query(seqs[1], "", "", 0)
	assert.Greater(t, len(all), len(some))
	for _, e := range some {
		assert.Greater(t, e.Seq, seqs[1])
	}
}

// Capacity truncation: capacity=10, 15 info appends, no alarms in the mix.
// Store ends up holding seq 6..15, size 10, no event_dropped alarm.
func TestCapacityTruncationNoAlarmForInfoOnly(t *testing.T) {
	s := New(10, 100, nil)
	var lastSeq uint64
	for i := 0; i < 15; i++ {
		lastSeq = s.Append(infoEvent("e"))
	}
	assert.Equal(t, uint64(15), lastSeq)
	assert.Equal(t, 10, s.Size())

	results := s.Query(0, "", "", 0)
	require.Len(t, results, 10)
	assert.Equal(t, uint64(15), results[0].Seq)
	assert.Equal(t, uint64(6), results[len(results)-1].Seq)

	dropped := s.Query(0, model.SeverityAlarm, model.CategoryEventDropped, 0)
	assert.Empty(t, dropped)
}

// Alarm loss visibility: capacity=5, 4 infos then 1 alarm (seq5), then 5 more
// infos. The alarm is eventually evicted but an event_dropped alarm
// referencing it survives.
func TestAlarmNeverSilentlyLost(t *testing.T) {
	s := New(5, 100, nil)
	for i := 0; i < 4; i++ {
		s.Append(infoEvent("e"))
	}
	alarmSeq := s.Append(model.Event{Severity: model.SeverityAlarm, Category: "device_connection", Source: "dev-1", Message: "offline"})
	require.Equal(t, uint64(5), alarmSeq)

	for i := 0; i < 5; i++ {
		s.Append(infoEvent("e"))
	}

	survivors := s.Query(0, model.SeverityAlarm, "", 0)
	require.NotEmpty(t, survivors)

	found := false
	for _, e := range survivors {
		if e.Category == model.CategoryEventDropped {
			if seq, ok := e.Detail["dropped_seq"].(uint64); ok && seq == alarmSeq {
				found = true
			}
		}
	}
	assert.True(t, found, "an event_dropped alarm referencing the lost alarm must survive")
}

func TestTruncateCallbackFiresOnEveryEviction(t *testing.T) {
	var dropped []uint64
	s := New(3, 100, func(seq uint64, category string, severity model.Severity) {
		dropped = append(dropped, seq)
	})
	for i := 0; i < 5; i++ {
		s.Append(infoEvent("e"))
	}
	assert.Len(t, dropped, 2)
}

func TestAcknowledgeTransitionsAndRejectsDoubleAck(t *testing.T) {
	s := New(100, 10, nil)
	seq := s.Append(model.Event{Severity: model.SeverityWarning, Category: "x", Message: "m"})

	require.NoError(t, s.Acknowledge(seq))
	err := s.Acknowledge(seq)
	require.Error(t, err)
}

func TestAcknowledgeUnknownSequenceIsNotFound(t *testing.T) {
	s := New(100, 10, nil)
	err := s.Acknowledge(999)
	require.Error(t, err)
}

func TestSubscribeReceivesEventsInOrder(t *testing.T) {
	s := New(100, 10, nil)
	_, ch := s.Subscribe(model.SubscriptionFilter{})

	s.Append(infoEvent("first"))
	s.Append(infoEvent("second"))

	e1 := <-ch
	e2 := <-ch
	assert.Equal(t, "first", e1.Message)
	assert.Equal(t, "second", e2.Message)
}

func TestSubscribeFilterExcludesNonMatchingEvents(t *testing.T) {
	s := New(100, 10, nil)
	_, ch := s.Subscribe(model.SubscriptionFilter{SeverityFloor: model.SeverityAlarm})

	s.Append(infoEvent("ignored"))
	s.Append(model.Event{Severity: model.SeverityAlarm, Category: "x", Message: "loud"})

	select {
	case e := <-ch:
		assert.Equal(t, "loud", e.Message)
	default:
		t.Fatal("expected the alarm event to be delivered")
	}
}

func TestSubscriptionOverflowInjectsLagNoticeAndContinues(t *testing.T) {
	s := New(1000, 2, nil)
	_, ch := s.Subscribe(model.SubscriptionFilter{})

	for i := 0; i < 10; i++ {
		s.Append(infoEvent("e"))
	}

	var sawLag bool
	for len(ch) > 0 {
		e := <-ch
		if e.Category == model.CategorySubscriptionLag {
			sawLag = true
		}
	}
	assert.True(t, sawLag)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := New(100, 10, nil)
	id, _ := s.Subscribe(model.SubscriptionFilter{})
	s.Unsubscribe(id)
	assert.NotPanics(t, func() { s.Unsubscribe(id) })
}

func TestUnacknowledgedBySeverityCountsOnlyWarningAndAbove(t *testing.T) {
	s := New(100, 10, nil)
	s.Append(infoEvent("info"))
	s.Append(model.Event{Severity: model.SeverityWarning, Category: "x", Message: "w"})
	s.Append(model.Event{Severity: model.SeverityAlarm, Category: "x", Message: "a"})

	counts := s.UnacknowledgedBySeverity()
	assert.Equal(t, 1, counts[model.SeverityWarning])
	assert.Equal(t, 1, counts[model.SeverityAlarm])
	assert.Zero(t, counts[model.SeverityInfo])
}
