package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/channelrelay/internal/model"
)

const spanPass = "sync.pass"

// FullSyncer runs a full sync for one channel.
// Implemented by [Orchestrator].
type FullSyncer interface {
	FullSync(ctx context.Context, channel string) FullOutcome
}

// Stats summarises one scheduled pass over all active channels.
type Stats struct {
	Channels int
	Success  int
	Partial  int
	Failed   int
}

// Engine runs a full sync for every active channel on a fixed interval.
// Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	syncer   FullSyncer
	conns    ConnectionStore
	interval time.Duration
	log      *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntPasses     metric.Int64Counter
	cntChannelErr metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(syncer FullSyncer, conns ConnectionStore, interval time.Duration, logger *slog.Logger) *Engine {
	meter := otel.Meter(otelScope)
	return &Engine{
		syncer:   syncer,
		conns:    conns,
		interval: interval,
		log:      logger,

		tracer:        otel.Tracer(otelScope),
		cntPasses:     mustCounter(meter, logger, metricPasses, "Number of scheduled sync passes"),
		cntChannelErr: mustCounter(meter, logger, metricChannelErr, "Number of channels whose full sync had a failed step"),
	}
}

// pass runs one full sync per active channel, recording a trace span and
// metrics. Channels are synced one after another.
func (e *Engine) pass(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPass)
	defer span.End()
	e.cntPasses.Add(ctx, 1)

	var stats Stats
	conns, err := e.conns.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("listing active connections: %w", err)
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Channels++
		full := e.syncer.FullSync(ctx, conn.Channel)
		switch full.Status() {
		case model.StatusFailed:
			stats.Failed++
			e.cntChannelErr.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", conn.Channel)))
		case model.StatusPartial:
			stats.Partial++
		default:
			stats.Success++
		}
	}

	span.SetAttributes(
		attribute.Int("sync.channels", stats.Channels),
		attribute.Int("sync.success", stats.Success),
		attribute.Int("sync.partial", stats.Partial),
		attribute.Int("sync.failed", stats.Failed),
	)
	e.log.Info("sync pass complete",
		"channels", stats.Channels,
		"success", stats.Success,
		"partial", stats.Partial,
		"failed", stats.Failed,
	)
	return stats, nil
}

// RunOnce performs a single pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.pass(ctx)
}

// Run starts the polling loop. It blocks until ctx is cancelled. A failed
// channel is not retried until the next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.pass(ctx); err != nil {
		e.log.Error("initial sync pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.pass(ctx); err != nil {
				e.log.Error("sync pass failed", "error", err)
			}
		}
	}
}
