// Package otelgax records gax lifecycle hooks as OpenTelemetry metrics.
package otelgax

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/byte4ever/gax"
)

// ScopeName is the instrumentation scope used when no meter is given.
const ScopeName = "github.com/byte4ever/gax"

// Metric names.
const (
	MetricRetries          = "gax.retries"
	MetricRetriesExhausted = "gax.retries_exhausted"
	MetricTimeouts         = "gax.timeouts"
	MetricBundleElements   = "gax.bundle.elements"
	MetricBundleCallers    = "gax.bundle.callers"
	MetricBundleDelay      = "gax.bundle.delay_ms"
	MetricDemuxMismatches  = "gax.bundle.demux_mismatches"
	MetricPageResources    = "gax.page.resources"
	MetricOperationPolls   = "gax.operation.polls"
)

type instruments struct {
	retries          metric.Int64Counter
	retriesExhausted metric.Int64Counter
	timeouts         metric.Int64Counter
	bundleElements   metric.Int64Histogram
	bundleCallers    metric.Int64Histogram
	bundleDelay      metric.Float64Histogram
	demuxMismatches  metric.Int64Counter
	pageResources    metric.Int64Histogram
	operationPolls   metric.Int64Counter
}

// NewHooks returns hooks recording to meter. A nil meter uses the global
// meter provider.
func NewHooks(meter metric.Meter) (*gax.Hooks, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(ScopeName)
	}

	ins, err := newInstruments(meter)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	return &gax.Hooks{
		OnRetry: func(_ int, err error) {
			ins.retries.Add(ctx, 1, metric.WithAttributes(codeAttr(err)))
		},
		OnRetriesExhausted: func(_ int, err error) {
			ins.retriesExhausted.Add(ctx, 1, metric.WithAttributes(codeAttr(err)))
		},
		OnTimeout: func() {
			ins.timeouts.Add(ctx, 1)
		},
		OnBundleSent: func(elements, callers int, elapsed time.Duration) {
			ins.bundleElements.Record(ctx, int64(elements))
			ins.bundleCallers.Record(ctx, int64(callers))
			ins.bundleDelay.Record(ctx, float64(elapsed)/float64(time.Millisecond))
		},
		OnDemuxMismatch: func(_, _ int) {
			ins.demuxMismatches.Add(ctx, 1)
		},
		OnPageFetched: func(resources int) {
			ins.pageResources.Record(ctx, int64(resources))
		},
		OnOperationPolled: func(_ string, done bool) {
			ins.operationPolls.Add(ctx, 1, metric.WithAttributes(attribute.Bool("done", done)))
		},
	}, nil
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		ins  instruments
		errs [9]error
	)

	ins.retries, errs[0] = m.Int64Counter(MetricRetries,
		metric.WithDescription("Failed attempts followed by a retry."))
	ins.retriesExhausted, errs[1] = m.Int64Counter(MetricRetriesExhausted,
		metric.WithDescription("Calls that ran out of retry time."))
	ins.timeouts, errs[2] = m.Int64Counter(MetricTimeouts,
		metric.WithDescription("Calls that exceeded their timeout."))
	ins.bundleElements, errs[3] = m.Int64Histogram(MetricBundleElements,
		metric.WithDescription("Elements per dispatched bundle."))
	ins.bundleCallers, errs[4] = m.Int64Histogram(MetricBundleCallers,
		metric.WithDescription("Scheduled calls per dispatched bundle."))
	ins.bundleDelay, errs[5] = m.Float64Histogram(MetricBundleDelay,
		metric.WithDescription("Time from bundle creation to dispatch."),
		metric.WithUnit("ms"))
	ins.demuxMismatches, errs[6] = m.Int64Counter(MetricDemuxMismatches,
		metric.WithDescription("Bundled responses broadcast for lack of matching subresponses."))
	ins.pageResources, errs[7] = m.Int64Histogram(MetricPageResources,
		metric.WithDescription("Resources per fetched page."))
	ins.operationPolls, errs[8] = m.Int64Counter(MetricOperationPolls,
		metric.WithDescription("Long-running operation status fetches."))

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("otelgax: creating instrument: %w", err)
		}
	}

	return &ins, nil
}

func codeAttr(err error) attribute.KeyValue {
	return attribute.String("code", gax.CodeName(gax.Code(err)))
}
