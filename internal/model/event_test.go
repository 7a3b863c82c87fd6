package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityAlarm.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
}

func TestEventRequiresAcknowledgement(t *testing.T) {
	assert.False(t, Event{Severity: SeverityInfo}.RequiresAcknowledgement())
	assert.True(t, Event{Severity: SeverityWarning}.RequiresAcknowledgement())
	assert.True(t, Event{Severity: SeverityAlarm}.RequiresAcknowledgement())
}

func TestSubscriptionFilterMatches(t *testing.T) {
	f := SubscriptionFilter{SeverityFloor: SeverityWarning, Categories: []string{"device_connection"}}

	assert.True(t, f.Matches(Event{Severity: SeverityAlarm, Category: "device_connection"}))
	assert.False(t, f.Matches(Event{Severity: SeverityInfo, Category: "device_connection"}))
	assert.False(t, f.Matches(Event{Severity: SeverityAlarm, Category: "energy_alert"}))
}

func TestSubscriptionFilterEmptyCategoriesMatchesAll(t *testing.T) {
	f := SubscriptionFilter{SeverityFloor: SeverityInfo}
	assert.True(t, f.Matches(Event{Severity: SeverityInfo, Category: "anything"}))
}
