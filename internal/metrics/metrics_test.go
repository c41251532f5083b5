package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return sums
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	r, err := New(mp.Meter("test"))
	require.NoError(t, err)

	r.RecordRun(ctx, Run{Location: "north", SyncType: "Automatic", Status: "Success", Added: 3, Updated: 2, Duration: 40 * time.Millisecond})
	r.RecordRun(ctx, Run{Location: "south", SyncType: "Manual", Status: "Partial", Added: 1, Failed: 1})
	r.RecordProbe(ctx, "north", true)
	r.RecordProbe(ctx, "east", false)
	r.RecordConflicts(ctx, "south", 4)
	r.RecordConflicts(ctx, "south", 0)

	sums := collect(t, reader)
	require.Equal(t, int64(2), sums["sync.runs"])
	require.Equal(t, int64(7), sums["sync.records"])
	require.Equal(t, int64(2), sums["sync.probes"])
	require.Equal(t, int64(4), sums["sync.conflicts"])
	require.Equal(t, int64(2), sums["sync.duration"])
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	r.RecordRun(ctx, Run{Added: 1})
	r.RecordProbe(ctx, "x", false)
	r.RecordConflicts(ctx, "x", 1)
}
