package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "attendance-sync-service"

// Recorder publishes sync outcomes. A nil *Recorder discards everything.
type Recorder struct {
	runs      otelmetric.Int64Counter
	records   otelmetric.Int64Counter
	probes    otelmetric.Int64Counter
	conflicts otelmetric.Int64Counter
	duration  otelmetric.Int64Histogram
}

func New(meter otelmetric.Meter) (*Recorder, error) {
	runs, err := meter.Int64Counter("sync.runs",
		otelmetric.WithDescription("Apply passes per location"), otelmetric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	records, err := meter.Int64Counter("sync.records",
		otelmetric.WithDescription("Records handled by the applier, by outcome"), otelmetric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	probes, err := meter.Int64Counter("sync.probes",
		otelmetric.WithDescription("Connectivity probes, by result"), otelmetric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("sync.conflicts",
		otelmetric.WithDescription("Conflicting changes held for review"), otelmetric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Int64Histogram("sync.duration",
		otelmetric.WithDescription("Apply pass duration"), otelmetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		runs:      runs,
		records:   records,
		probes:    probes,
		conflicts: conflicts,
		duration:  duration,
	}, nil
}

// NewGlobal builds a Recorder on the global meter provider, which is a no-op
// unless Setup installed one.
func NewGlobal() *Recorder {
	r, err := New(otel.Meter(meterName))
	if err != nil {
		return nil
	}
	return r
}

type Run struct {
	Location string
	SyncType string
	Status   string
	Added    int
	Updated  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

func (r *Recorder) RecordRun(ctx context.Context, run Run) {
	if r == nil {
		return
	}
	loc := attribute.String("location", run.Location)
	r.runs.Add(ctx, 1, otelmetric.WithAttributes(loc,
		attribute.String("sync_type", run.SyncType),
		attribute.String("status", run.Status)))

	for outcome, n := range map[string]int{
		"added":   run.Added,
		"updated": run.Updated,
		"skipped": run.Skipped,
		"failed":  run.Failed,
	} {
		if n > 0 {
			r.records.Add(ctx, int64(n), otelmetric.WithAttributes(loc, attribute.String("outcome", outcome)))
		}
	}

	r.duration.Record(ctx, run.Duration.Milliseconds(), otelmetric.WithAttributes(loc))
}

func (r *Recorder) RecordProbe(ctx context.Context, location string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.probes.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("location", location),
		attribute.String("result", result)))
}

func (r *Recorder) RecordConflicts(ctx context.Context, location string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.conflicts.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("location", location)))
}

// Setup installs a meter provider that periodically writes to stdout and
// returns its shutdown function.
func Setup(interval time.Duration) (func(context.Context) error, error) {
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
