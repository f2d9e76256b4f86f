package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", "domain", "global")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "global", rec["domain"])

	buf.Reset()
	NewLogger(&buf, "bogus", "text").Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.Writes.WithLabelValues("global").Inc()
	m.MembersWritten.Add(4)
	m.TimeCount.Set(3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Writes.WithLabelValues("global")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.MembersWritten), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.TimeCount), 0)

	// A second set must not collide.
	_ = NewMetricsForTesting()
}
