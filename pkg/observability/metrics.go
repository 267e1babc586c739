package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "detect.requests.total"
	metricRequestDuration  = "detect.request.duration.seconds"
	metricErrorsTotal      = "detect.errors.total"
	metricInflightRequests = "detect.inflight.requests"

	metricRuns               = "detect.runs"
	metricRunDuration        = "detect.run.duration.seconds"
	metricChangedDirs        = "detect.changed_dirs"
	metricFallbacks          = "detect.fallbacks"
	metricQueryFailures      = "detect.query_failures"
	metricValidationFailures = "detect.validation_failures"

	attrOp     = "op"
	attrStatus = "status"
	attrKind   = "kind"

	// StatusOK marks a successful request or run.
	StatusOK = "ok"
	// StatusError marks a failed request or run.
	StatusError = "error"
)

// durationBucketBoundaries covers 1ms to 60s. Detection runs are dominated by
// git process startup and a directory walk.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// of MCP tool calls.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	reqTotal, err := mt.Int64Counter(metricRequestsTotal,
		metric.WithDescription("Total number of requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestsTotal, err)
	}

	reqDuration, err := mt.Float64Histogram(metricRequestDuration,
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRequestDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightRequests,
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightRequests, err)
	}

	return &REDMetrics{
		requestsTotal:    reqTotal,
		requestDuration:  reqDuration,
		errorsTotal:      errTotal,
		inflightRequests: inflight,
	}, nil
}

// RecordRequest records a completed request with its operation, status, and duration.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// DetectMetrics holds the instruments recorded by a change detection run.
type DetectMetrics struct {
	runs               metric.Int64Counter
	runDuration        metric.Float64Histogram
	changedDirs        metric.Int64Counter
	fallbacks          metric.Int64Counter
	queryFailures      metric.Int64Counter
	validationFailures metric.Int64Counter
}

// NewDetectMetrics creates detection instruments from the given meter.
func NewDetectMetrics(mt metric.Meter) (*DetectMetrics, error) {
	runs, err := mt.Int64Counter(metricRuns,
		metric.WithDescription("Detection runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRuns, err)
	}

	runDuration, err := mt.Float64Histogram(metricRunDuration,
		metric.WithDescription("Detection run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunDuration, err)
	}

	changedDirs, err := mt.Int64Counter(metricChangedDirs,
		metric.WithDescription("Changed package directories found"),
		metric.WithUnit("{dir}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricChangedDirs, err)
	}

	fallbacks, err := mt.Int64Counter(metricFallbacks,
		metric.WithDescription("Runs that fell back to all tracked files"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFallbacks, err)
	}

	queryFailures, err := mt.Int64Counter(metricQueryFailures,
		metric.WithDescription("Version control queries that failed"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricQueryFailures, err)
	}

	validationFailures, err := mt.Int64Counter(metricValidationFailures,
		metric.WithDescription("Manifest validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricValidationFailures, err)
	}

	return &DetectMetrics{
		runs:               runs,
		runDuration:        runDuration,
		changedDirs:        changedDirs,
		fallbacks:          fallbacks,
		queryFailures:      queryFailures,
		validationFailures: validationFailures,
	}, nil
}

// RecordRun records a finished run with its status, result size, and duration.
func (dm *DetectMetrics) RecordRun(ctx context.Context, status string, dirs int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	dm.runs.Add(ctx, 1, attrs)
	dm.runDuration.Record(ctx, duration.Seconds(), attrs)
	dm.changedDirs.Add(ctx, int64(dirs))
}

// RecordFallback records a run that listed all tracked files.
func (dm *DetectMetrics) RecordFallback(ctx context.Context) {
	dm.fallbacks.Add(ctx, 1)
}

// RecordQueryFailure records a failed version control query.
func (dm *DetectMetrics) RecordQueryFailure(ctx context.Context, op string) {
	dm.queryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
}

// RecordValidationFailure records a manifest that failed the name check.
// Kind is "mismatch" or "read".
func (dm *DetectMetrics) RecordValidationFailure(ctx context.Context, kind string) {
	dm.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}
