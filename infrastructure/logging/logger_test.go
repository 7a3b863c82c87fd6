package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestwatch/sentryd/infrastructure/redaction"
)

func capture(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	l := New("test", "info", "json", redaction.New(nil))
	var buf bytes.Buffer
	l.SetOutput(&buf)
	return l, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestLevelsAreUppercased(t *testing.T) {
	l, buf := capture(t)

	l.WithFields(map[string]interface{}{"k": "v"}).Warn("watch out")
	m := lastLine(t, buf)
	assert.Equal(t, "WARNING", m["level"])
	assert.Equal(t, "watch out", m["message"])

	buf.Reset()
	l.WithFields(nil).Error("bad")
	m = lastLine(t, buf)
	assert.Equal(t, "ERROR", m["level"])
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	l, buf := capture(t)

	l.WithFields(map[string]interface{}{
		"device_password": "hunter2",
		"host":            "10.0.0.5",
	}).Info("probing")

	raw := buf.String()
	assert.NotContains(t, raw, "hunter2")
	m := lastLine(t, buf)
	assert.Equal(t, redaction.RedactedValue, m["device_password"])
	assert.Equal(t, "10.0.0.5", m["host"])
}

func TestNestedDetailMapsAreRedacted(t *testing.T) {
	l, buf := capture(t)

	l.WithFields(map[string]interface{}{
		"details": map[string]interface{}{"api_token": "abc", "room": "garage"},
	}).Info("event")

	raw := buf.String()
	assert.NotContains(t, raw, "abc")
	assert.Contains(t, raw, "garage")
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}
