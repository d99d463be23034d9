package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should be nanos.")
	}

	statp := stat.Precision(time.Millisecond).(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should still nanos.")
	}
	if statp.precision != time.Millisecond {
		t.Fatal("New stat precision should be millis.")
	}
	if statp.Latency("x").GetPrecision() != time.Millisecond {
		t.Fatal("Latency should inherit receiver precision.")
	}
}

func TestStatNameScrubsSlashes(t *testing.T) {
	assert.Equal(t, "a_SLASH_b/c", statName("a/b", "c"))

	stat := NewFinagleStatsReceiver()
	stat.Counter("capability", "u@h/1").Inc(1)
	var out map[string]int64
	require.NoError(t, json.Unmarshal(stat.Render(false), &out))
	assert.Contains(t, out, "capability/u@h_SLASH_1")
}

func TestRegister(t *testing.T) {
	reg := NewFinagleStatsRegistry()
	if reg.GetOrRegister("counter", NewCounter()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gauge", NewGauge()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("histogram", NewHistogram()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("latency", NewLatency()) == nil {
		t.Fatal("Registry did not save instrument")
	}
}

func TestMarshal(t *testing.T) {
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*5)
	defer func() { Time = DefaultStatsTime() }()

	reg := NewFinagleStatsRegistry()
	reg.GetOrRegister("counter", NewCounter()).(Counter).Inc(1)
	reg.GetOrRegister("gauge", NewGauge()).(Gauge).Update(2)

	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*10)
	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()

	bytes, err := reg.(MarshalerPretty).MarshalJSONPretty()
	expected :=
		`{
  "counter": 1,
  "gauge": 2,
  "latency.avg": 7.5,
  "latency.count": 2,
  "latency.max": 10,
  "latency.min": 5,
  "latency.p50": 7.5,
  "latency.p90": 10,
  "latency.p95": 10,
  "latency.p99": 10,
  "latency.p999": 10,
  "latency.p9999": 10,
  "latency.sum": 15
}`
	if string(bytes) != expected {
		t.Fatal("Wrong json marshal output: ", string(bytes), err)
	}
}

func TestFinagleReceiverRender(t *testing.T) {
	Time = NewTestTime(time.Unix(0, 0), 3*time.Millisecond)
	defer func() { Time = DefaultStatsTime() }()

	stat := NewFinagleStatsReceiver()
	stat.Counter(PlannerProbeOkCounter).Inc(2)
	stat.Gauge(PlannerScheduledWorkersGauge).Update(8)
	stat.Precision(time.Millisecond).Latency(PlannerPlanLatency_ms).Time().Stop()

	var out map[string]float64
	require.NoError(t, json.Unmarshal(stat.Render(false), &out))
	assert.Equal(t, float64(2), out["probe_ok"])
	assert.Equal(t, float64(8), out["scheduled_workers"])
	assert.Equal(t, float64(1), out["plan_ms.count"])
	assert.Equal(t, float64(3), out["plan_ms.max"])

	// histograms are cleared by a render, counters are not
	require.NoError(t, json.Unmarshal(stat.Render(false), &out))
	assert.Equal(t, float64(0), out["plan_ms.count"])
	assert.Equal(t, float64(2), out["probe_ok"])
}

func TestNilReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Counter("c").Inc(1)
	stat.Gauge("g").Update(1)
	stat.Latency("l").Time().Stop()
	assert.Equal(t, int64(0), stat.Counter("c").Count())
	assert.Empty(t, stat.Render(true))
}
