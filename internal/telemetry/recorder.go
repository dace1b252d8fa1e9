// Package telemetry records best-effort OpenTelemetry counters for the
// Maker loop, the Manager's catalog operations, and the job dispatch
// protocol. Structured, human-readable logging of the same events is
// the job of internal/events; this package only counts them. Recording
// never fails the caller: instrument creation errors are ignored and
// recording proceeds against the (possibly no-op) instrument.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/JeremyHeleine/hateno-go"

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	makerIterationsTotal  metric.Int64Counter
	makerCorruptionsTotal metric.Int64Counter
	makerFailuresTotal    metric.Int64Counter
	makerPauseTotal       metric.Int64Counter

	jobDispatchedTotal metric.Int64Counter

	managerAddTotal     metric.Int64Counter
	managerDeleteTotal  metric.Int64Counter
	managerExtractTotal metric.Int64Counter

	generateDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Lazy: the real provider, if any, is
// only wired up by the hosting process, and the default no-op provider
// works fine with no special setup.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.makerIterationsTotal, _ = m.Int64Counter("hateno.maker.iterations.total",
			metric.WithDescription("Total Maker loop iterations"),
		)
		inst.makerCorruptionsTotal, _ = m.Int64Counter("hateno.maker.corruptions.total",
			metric.WithDescription("Total simulations marked corrupted during a Maker iteration"),
		)
		inst.makerFailuresTotal, _ = m.Int64Counter("hateno.maker.failures.total",
			metric.WithDescription("Total step failures recorded by the Maker"),
		)
		inst.makerPauseTotal, _ = m.Int64Counter("hateno.maker.pauses.total",
			metric.WithDescription("Total times the Maker paused or resumed"),
		)

		inst.jobDispatchedTotal, _ = m.Int64Counter("hateno.job.dispatched.total",
			metric.WithDescription("Total command lines dispatched by a job server"),
		)

		inst.managerAddTotal, _ = m.Int64Counter("hateno.manager.add.total",
			metric.WithDescription("Total simulations added to the catalog"),
		)
		inst.managerDeleteTotal, _ = m.Int64Counter("hateno.manager.delete.total",
			metric.WithDescription("Total simulations deleted from the catalog"),
		)
		inst.managerExtractTotal, _ = m.Int64Counter("hateno.manager.extract.total",
			metric.WithDescription("Total simulations extracted from the catalog"),
		)

		inst.generateDurationHist, _ = m.Float64Histogram("hateno.generate.duration_ms",
			metric.WithDescription("Script generation latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordMakerIteration records one pass through the Maker's state
// machine.
func RecordMakerIteration(ctx context.Context, step string, err error) {
	initInstruments()
	inst.makerIterationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", statusStr(err)),
		),
	)
}

// RecordMakerCorruption records a simulation found corrupted during
// integrity checking.
func RecordMakerCorruption(ctx context.Context, archive string) {
	initInstruments()
	inst.makerCorruptionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("archive", archive)))
}

// RecordMakerFailure records a step failure.
func RecordMakerFailure(ctx context.Context, step string) {
	initInstruments()
	inst.makerFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordMakerPause records a pause or resume transition. event is
// "paused" or "resumed".
func RecordMakerPause(ctx context.Context, event string) {
	initInstruments()
	inst.makerPauseTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordJobDispatch records one command line handed out by a job
// server.
func RecordJobDispatch(ctx context.Context) {
	initInstruments()
	inst.jobDispatchedTotal.Add(ctx, 1)
}

// RecordManagerAdd records a catalog addition.
func RecordManagerAdd(ctx context.Context, err error) {
	initInstruments()
	inst.managerAddTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusStr(err))))
}

// RecordManagerDelete records a catalog deletion.
func RecordManagerDelete(ctx context.Context, err error) {
	initInstruments()
	inst.managerDeleteTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusStr(err))))
}

// RecordManagerExtract records a catalog extraction.
func RecordManagerExtract(ctx context.Context, err error) {
	initInstruments()
	inst.managerExtractTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusStr(err))))
}

// RecordGenerateDuration records how long one Generate call took.
func RecordGenerateDuration(ctx context.Context, durationMs float64, err error) {
	initInstruments()
	inst.generateDurationHist.Record(ctx, durationMs, metric.WithAttributes(attribute.String("status", statusStr(err))))
}
