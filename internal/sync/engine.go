package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope                = "medsync/sync"
	spanRun                  = "sync.run"
	metricRuns               = "medsync.sync.runs"
	metricMerged             = "medsync.sync.records.merged"
	metricPushFailures       = "medsync.sync.push.failures"
	metricCollectionFailures = "medsync.sync.collection.failures"
)

// Engine drives the [Orchestrator]: one run per poll interval, plus on-demand
// runs requested with [Engine.Trigger]. Create one with [NewEngine] and start
// it with [Engine.Run].
type Engine struct {
	orch         *Orchestrator
	pollInterval time.Duration
	trigger      chan struct{}
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer                trace.Tracer
	cntRuns               metric.Int64Counter
	cntMerged             metric.Int64Counter
	cntPushFailures       metric.Int64Counter
	cntCollectionFailures metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(orch *Orchestrator, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		orch:         orch,
		pollInterval: pollInterval,
		trigger:      make(chan struct{}, 1),
		log:          logger,

		tracer:                tracer,
		cntRuns:               mustCounter(metricRuns, "Number of full sync runs"),
		cntMerged:             mustCounter(metricMerged, "Number of records persisted after merge"),
		cntPushFailures:       mustCounter(metricPushFailures, "Number of records whose remote push failed"),
		cntCollectionFailures: mustCounter(metricCollectionFailures, "Number of collection syncs that failed"),
	}
}

// run performs one full sync, recording a trace span and metrics.
func (e *Engine) run(ctx context.Context) Result {
	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.run_id", runID)))
	defer span.End()

	start := time.Now()
	res := e.orch.SyncAll(ctx)

	e.cntRuns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", res.Success)))
	for _, o := range res.Outcomes {
		attrs := metric.WithAttributes(attribute.String("collection", string(o.Collection)))
		if o.MergedCount > 0 {
			e.cntMerged.Add(ctx, int64(o.MergedCount), attrs)
		}
		if n := len(o.FailedPushIDs); n > 0 {
			e.cntPushFailures.Add(ctx, int64(n), attrs)
		}
		if !o.Success {
			e.cntCollectionFailures.Add(ctx, 1, attrs)
		}
		span.AddEvent("collection", trace.WithAttributes(
			attribute.String("collection", string(o.Collection)),
			attribute.Bool("success", o.Success),
			attribute.Int("merged", o.MergedCount),
			attribute.Int("push_failures", len(o.FailedPushIDs)),
			attribute.String("stage", o.Stage.String()),
		))
	}

	span.SetAttributes(
		attribute.Bool("sync.success", res.Success),
		attribute.Int("sync.merged", res.TotalMergedCount),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}

	log := e.log.With("run_id", runID)
	if res.Success {
		log.Info("sync run finished", "merged", res.TotalMergedCount, "duration", time.Since(start))
	} else {
		log.Warn("sync run finished with failures", "merged", res.TotalMergedCount, "message", res.Message, "duration", time.Since(start))
	}
	return res
}

// RunOnce performs a single full sync and returns its result.
func (e *Engine) RunOnce(ctx context.Context) Result {
	return e.run(ctx)
}

// Trigger requests an immediate sync from a running [Engine.Run] loop. It
// never blocks; requests made while one is already pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	e.run(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.run(ctx)
		case <-e.trigger:
			e.log.Info("sync triggered")
			e.run(ctx)
			ticker.Reset(e.pollInterval)
		}
	}
}
