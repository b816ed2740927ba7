package sync

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/channelrelay/internal/channellock"
	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
)

const (
	otelScope        = "channelrelay/sync"
	spanOperation    = "sync.operation"
	spanFullSync     = "sync.full"
	metricPushed     = "channelrelay.sync.records.pushed"
	metricImported   = "channelrelay.sync.reservations.imported"
	metricOutcomes   = "channelrelay.sync.outcomes"
	metricPasses     = "channelrelay.sync.passes"
	metricChannelErr = "channelrelay.sync.channel_failures"

	// DefaultWindowDays is the length of the default push window.
	DefaultWindowDays = 365
)

// Options narrows a push. The zero value pushes every mapped room type for
// the default window starting today.
type Options struct {
	// RoomTypeID restricts the push to mappings of one local room type.
	RoomTypeID *int64

	// From and To bound the dates pushed, inclusive. A zero From means
	// today; a zero To means From plus the configured window.
	From time.Time
	To   time.Time
}

// Outcome is the result of one sync operation.
type Outcome struct {
	Channel          string
	Direction        model.Direction
	Type             model.SyncType
	Status           model.SyncStatus
	SyncLogID        int64
	RecordsProcessed int
	Message          string
	Errors           []string

	// ImportedBookingIDs lists the bookings created by a reservation pull.
	ImportedBookingIDs []int64

	// Err classifies a failed or partial outcome and is nil on clean
	// success. It wraps one of this package's or package ota's sentinels.
	Err error
}

// OK reports whether the operation reached the channel and was accepted,
// possibly with warnings.
func (o Outcome) OK() bool {
	return o.Status == model.StatusSuccess || o.Status == model.StatusPartial
}

// FullOutcome holds the three outcomes of a full sync.
type FullOutcome struct {
	Availability Outcome
	Rates        Outcome
	Reservations Outcome
}

// Outcomes returns the three outcomes in execution order.
func (f FullOutcome) Outcomes() []Outcome {
	return []Outcome{f.Availability, f.Rates, f.Reservations}
}

// Status is the worst status of the three operations.
func (f FullOutcome) Status() model.SyncStatus {
	status := model.StatusSuccess
	for _, o := range f.Outcomes() {
		switch o.Status {
		case model.StatusFailed:
			return model.StatusFailed
		case model.StatusPartial:
			status = model.StatusPartial
		}
	}
	return status
}

// Deps are the collaborators of an Orchestrator. Locker and Events may be
// nil: an in-process lock and no event delivery are used instead.
type Deps struct {
	Connections ConnectionStore
	RateMaps    RateMapStore
	SyncLogs    SyncLogStore
	Inventory   InventoryReader
	Importer    ReservationImporter
	Clients     ClientFactory
	Locker      channellock.Locker
	Events      Publisher
}

// Settings tune an Orchestrator.
type Settings struct {
	// WindowDays is the default push window length. Defaults to
	// DefaultWindowDays.
	WindowDays int

	// DefaultCurrency fills in rate rows stored without one.
	DefaultCurrency string

	// Client is passed to the ClientFactory for every operation.
	Client ota.Options

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs sync operations for one channel at a time. Every
// operation ends in a sealed sync log entry and never returns an error or
// panics: failures are reported in the Outcome.
type Orchestrator struct {
	conns    ConnectionStore
	maps     RateMapStore
	logs     SyncLogStore
	inv      InventoryReader
	importer ReservationImporter
	clients  ClientFactory
	locker   channellock.Locker
	bus      Publisher
	settings Settings
	log      *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntPushed   metric.Int64Counter
	cntImported metric.Int64Counter
	cntOutcomes metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, settings Settings, logger *slog.Logger) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = channellock.NewLocal()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if settings.WindowDays <= 0 {
		settings.WindowDays = DefaultWindowDays
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if settings.Client.Logger == nil {
		settings.Client.Logger = logger
	}

	meter := otel.Meter(otelScope)
	return &Orchestrator{
		conns:    deps.Connections,
		maps:     deps.RateMaps,
		logs:     deps.SyncLogs,
		inv:      deps.Inventory,
		importer: deps.Importer,
		clients:  deps.Clients,
		locker:   deps.Locker,
		bus:      deps.Events,
		settings: settings,
		log:      logger,

		tracer:      otel.Tracer(otelScope),
		cntPushed:   mustCounter(meter, logger, metricPushed, "Number of availability and rate records accepted by channels"),
		cntImported: mustCounter(meter, logger, metricImported, "Number of channel reservations imported as bookings"),
		cntOutcomes: mustCounter(meter, logger, metricOutcomes, "Number of sync operations by type and status"),
	}
}

func mustCounter(meter metric.Meter, logger *slog.Logger, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Error("creating OTel counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}

// PushAvailability sends local availability for the channel's mapped room
// types.
func (o *Orchestrator) PushAvailability(ctx context.Context, channel string, opts Options) Outcome {
	return o.run(ctx, channel, model.DirectionPush, model.SyncAvailability, func(ctx context.Context, conn *model.ChannelConnection) result {
		return o.pushAvailability(ctx, conn, opts)
	})
}

// PushRates sends local prices for the channel's mapped room types and rate
// plans.
func (o *Orchestrator) PushRates(ctx context.Context, channel string, opts Options) Outcome {
	return o.run(ctx, channel, model.DirectionPush, model.SyncRates, func(ctx context.Context, conn *model.ChannelConnection) result {
		return o.pushRates(ctx, conn, opts)
	})
}

// PullReservations fetches reservations taken by the channel since the last
// successful pull and imports them.
func (o *Orchestrator) PullReservations(ctx context.Context, channel string) Outcome {
	return o.run(ctx, channel, model.DirectionPull, model.SyncReservations, o.pullReservations)
}

// FullSync pushes availability, then rates, then pulls reservations. Each
// step runs regardless of how the previous one ended.
func (o *Orchestrator) FullSync(ctx context.Context, channel string) FullOutcome {
	ctx, span := o.tracer.Start(ctx, spanFullSync, trace.WithAttributes(attribute.String("sync.channel", channel)))
	defer span.End()

	full := FullOutcome{
		Availability: o.PushAvailability(ctx, channel, Options{}),
		Rates:        o.PushRates(ctx, channel, Options{}),
		Reservations: o.PullReservations(ctx, channel),
	}
	span.SetAttributes(attribute.String("sync.status", string(full.Status())))
	return full
}

// result is what an operation body reports back to run.
type result struct {
	status   model.SyncStatus
	records  int
	message  string
	errors   []string
	err      error
	received int
	imported []int64
}

func failed(err error) result {
	return result{status: model.StatusFailed, message: err.Error(), errors: []string{err.Error()}, err: err}
}

// fromPush classifies a protocol push result.
func fromPush(res ota.PushResult) result {
	r := result{message: res.Message, errors: res.Errors, err: res.Err}
	switch {
	case !res.Success:
		r.status = model.StatusFailed
		if len(r.errors) == 0 && r.message != "" {
			r.errors = []string{r.message}
		}
	case len(res.Errors) > 0:
		r.status = model.StatusPartial
		r.records = res.RecordsProcessed
	default:
		r.status = model.StatusSuccess
		r.records = res.RecordsProcessed
	}
	return r
}

type operation func(ctx context.Context, conn *model.ChannelConnection) result

// run wraps an operation body with locking, connection checks, the sync log
// lifecycle, last-sync bookkeeping, events, and telemetry.
func (o *Orchestrator) run(ctx context.Context, channel string, dir model.Direction, typ model.SyncType, op operation) (out Outcome) {
	ctx, span := o.tracer.Start(ctx, spanOperation, trace.WithAttributes(
		attribute.String("sync.channel", channel),
		attribute.String("sync.direction", string(dir)),
		attribute.String("sync.type", string(typ)),
	))
	defer span.End()

	log := o.log.With("channel", channel, "type", string(typ))
	out = Outcome{Channel: channel, Direction: dir, Type: typ}
	defer func() { o.record(ctx, span, out) }()

	// entry is set once the connection checks pass; sealed once Seal ran.
	var entry *model.SyncLog
	var sealed bool
	defer func() {
		if r := recover(); r != nil {
			log.Error("sync panicked", "panic", r, "stack", string(debug.Stack()))
			out = o.settle(ctx, log, out, entry, sealed, fmt.Errorf("internal error: %v", r))
		}
	}()

	unlock, err := o.locker.Lock(ctx, channel)
	if err != nil {
		out = o.refuse(ctx, out, fmt.Errorf("acquiring lock for channel %s: %w", channel, err))
		log.Error("sync not started", "error", out.Err)
		return out
	}
	defer unlock()

	conn, err := o.conns.Get(ctx, channel)
	if err != nil {
		out = o.refuse(ctx, out, fmt.Errorf("%w: loading connection %s: %w", ErrPersistenceFailure, channel, err))
		log.Error("sync not started", "error", out.Err)
		return out
	}
	if conn == nil || !conn.Active {
		reason := "is not configured"
		if conn != nil {
			reason = "is inactive"
		}
		out = o.refuse(ctx, out, fmt.Errorf("%w: channel %s %s", ErrChannelInactive, channel, reason))
		log.Warn("sync skipped", "reason", out.Message)
		return out
	}

	entry = &model.SyncLog{
		Channel:   channel,
		Direction: dir,
		Type:      typ,
		StartedAt: o.settings.Now().UTC(),
	}
	if err := o.logs.Open(ctx, entry); err != nil {
		// Without a log entry there is nothing to seal or publish.
		out.Status = model.StatusFailed
		out.Err = fmt.Errorf("%w: opening sync log: %w", ErrPersistenceFailure, err)
		out.Message = out.Err.Error()
		out.Errors = []string{out.Message}
		log.Error("sync not started", "error", out.Err)
		if err := o.conns.TouchLastSync(ctx, channel, o.settings.Now().UTC()); err != nil {
			log.Error("updating last sync time", "error", err)
		}
		return out
	}
	out.SyncLogID = entry.ID
	log = log.With("sync_log_id", entry.ID)
	log.Debug("sync started")

	res := o.execute(ctx, log, conn, op)

	out.Status = res.status
	out.RecordsProcessed = res.records
	out.Message = res.message
	out.Errors = res.errors
	out.ImportedBookingIDs = res.imported
	out.Err = res.err

	entry.Status = res.status
	entry.RecordsProcessed = res.records
	if res.status != model.StatusSuccess {
		entry.ErrorText = model.JoinErrors(res.errors)
		if entry.ErrorText == "" {
			entry.ErrorText = res.message
		}
	}
	if err := o.logs.Seal(ctx, entry); err != nil {
		log.Error("sealing sync log", "error", err)
	}
	sealed = true
	if err := o.conns.TouchLastSync(ctx, channel, o.settings.Now().UTC()); err != nil {
		log.Error("updating last sync time", "error", err)
	}

	o.publish(ctx, entry, res)

	switch res.status {
	case model.StatusFailed:
		log.Error("sync failed", "message", res.message, "error", res.err)
	case model.StatusPartial:
		log.Warn("sync completed with warnings", "records", res.records, "warnings", len(res.errors))
	default:
		log.Info("sync completed", "records", res.records)
	}
	return out
}

// execute runs op and converts a panic into a failed result.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, conn *model.ChannelConnection, op operation) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("sync operation panicked", "panic", r, "stack", string(debug.Stack()))
			res = failed(fmt.Errorf("internal error: %v", r))
		}
	}()
	return op(ctx, conn)
}

// settle finishes an attempt interrupted by a panic outside the operation
// body. An opened entry is sealed failed; if none was opened a failed entry
// is recorded instead. After a seal the outcome already matches the log and
// is kept.
func (o *Orchestrator) settle(ctx context.Context, log *slog.Logger, out Outcome, entry *model.SyncLog, sealed bool, err error) Outcome {
	switch {
	case sealed:
	case entry != nil && entry.ID != 0:
		entry.Status = model.StatusFailed
		entry.ErrorText = err.Error()
		guard(log, "sealing sync log", func() {
			if serr := o.logs.Seal(ctx, entry); serr != nil {
				log.Error("sealing sync log", "error", serr)
			}
		})
		out.SyncLogID = entry.ID
		out.Status = model.StatusFailed
		out.RecordsProcessed = entry.RecordsProcessed
		out.Message = err.Error()
		out.Errors = []string{err.Error()}
		out.Err = err
	default:
		guard(log, "recording failed sync", func() { out = o.refuse(ctx, out, err) })
		if out.Status != model.StatusFailed {
			out.Status = model.StatusFailed
			out.Message = err.Error()
			out.Errors = []string{err.Error()}
			out.Err = err
		}
	}
	if entry != nil {
		guard(log, "updating last sync time", func() {
			if terr := o.conns.TouchLastSync(ctx, out.Channel, o.settings.Now().UTC()); terr != nil {
				log.Error("updating last sync time", "error", terr)
			}
		})
	}
	return out
}

// guard runs fn, logging a panic instead of propagating it.
func guard(log *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(what+" panicked", "panic", r)
		}
	}()
	fn()
}

// refuse records a terminal failed entry for an attempt that never started.
func (o *Orchestrator) refuse(ctx context.Context, out Outcome, err error) Outcome {
	entry := &model.SyncLog{
		Channel:   out.Channel,
		Direction: out.Direction,
		Type:      out.Type,
		Status:    model.StatusFailed,
		ErrorText: err.Error(),
		StartedAt: o.settings.Now().UTC(),
	}
	if rerr := o.logs.Record(ctx, entry); rerr != nil {
		o.log.Error("recording refused sync", "channel", out.Channel, "error", rerr)
	}
	out.SyncLogID = entry.ID
	out.Status = model.StatusFailed
	out.Message = err.Error()
	out.Errors = []string{err.Error()}
	out.Err = err
	return out
}

func (o *Orchestrator) publish(ctx context.Context, entry *model.SyncLog, res result) {
	e := events.Event{Channel: entry.Channel}
	switch entry.Type {
	case model.SyncAvailability, model.SyncRates:
		e.Type = events.AvailabilityPushed
		if entry.Type == model.SyncRates {
			e.Type = events.RatesPushed
		}
		e.Payload = events.PushPayload{
			SyncLogID:        entry.ID,
			Status:           string(entry.Status),
			RecordsProcessed: entry.RecordsProcessed,
			Message:          res.message,
		}
	case model.SyncReservations:
		e.Type = events.ReservationsPulled
		imported := res.imported
		if imported == nil {
			imported = []int64{}
		}
		e.Payload = events.PullPayload{
			SyncLogID:          entry.ID,
			Status:             string(entry.Status),
			Received:           res.received,
			ImportedBookingIDs: imported,
			Message:            res.message,
		}
	}
	o.bus.Publish(ctx, e)
}

// record adds metrics and span attributes for a finished operation.
func (o *Orchestrator) record(ctx context.Context, span trace.Span, out Outcome) {
	attrs := metric.WithAttributes(
		attribute.String("type", string(out.Type)),
		attribute.String("status", string(out.Status)),
	)
	o.cntOutcomes.Add(ctx, 1, attrs)
	if out.OK() {
		switch out.Type {
		case model.SyncAvailability, model.SyncRates:
			if out.RecordsProcessed > 0 {
				o.cntPushed.Add(ctx, int64(out.RecordsProcessed), metric.WithAttributes(attribute.String("type", string(out.Type))))
			}
		case model.SyncReservations:
			if n := len(out.ImportedBookingIDs); n > 0 {
				o.cntImported.Add(ctx, int64(n))
			}
		}
	}

	span.SetAttributes(
		attribute.String("sync.status", string(out.Status)),
		attribute.Int("sync.records", out.RecordsProcessed),
		attribute.Int64("sync.log_id", out.SyncLogID),
	)
	if out.Status == model.StatusFailed {
		if out.Err != nil {
			span.RecordError(out.Err)
		}
		span.SetStatus(codes.Error, out.Message)
	}
}

// --- operation bodies -------------------------------------------------------

func (o *Orchestrator) window(opts Options) (time.Time, time.Time, error) {
	from := model.Day(opts.From)
	if opts.From.IsZero() {
		from = model.Day(o.settings.Now())
	}
	to := model.Day(opts.To)
	if opts.To.IsZero() {
		to = from.AddDate(0, 0, o.settings.WindowDays)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is before %s",
			ErrInvalidWindow, to.Format(model.DateLayout), from.Format(model.DateLayout))
	}
	return from, to, nil
}

// mappings returns the active mappings, or a finished result when there is
// nothing to push.
func (o *Orchestrator) mappings(ctx context.Context, channel string, opts Options) ([]*model.RateMap, *result) {
	maps, err := o.maps.ActiveMappings(ctx, channel, opts.RoomTypeID)
	if err != nil {
		r := failed(fmt.Errorf("%w: loading rate mappings: %w", ErrPersistenceFailure, err))
		return nil, &r
	}
	if len(maps) == 0 {
		return nil, &result{status: model.StatusSuccess, message: ErrMappingAbsent.Error() + ", nothing to push"}
	}
	return maps, nil
}

func (o *Orchestrator) client(conn *model.ChannelConnection) (ota.Client, error) {
	c, err := o.clients.New(conn, o.settings.Client)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", conn.Channel, err)
	}
	return c, nil
}

func (o *Orchestrator) pushAvailability(ctx context.Context, conn *model.ChannelConnection, opts Options) result {
	maps, done := o.mappings(ctx, conn.Channel, opts)
	if done != nil {
		return *done
	}
	from, to, err := o.window(opts)
	if err != nil {
		return failed(err)
	}

	byRoom := make(map[int64][]model.InventoryDay)
	var records []model.AvailabilityRecord
	for _, m := range maps {
		days, ok := byRoom[m.RoomTypeID]
		if !ok {
			if days, err = o.inv.Availability(ctx, m.RoomTypeID, from, to); err != nil {
				return failed(fmt.Errorf("%w: reading availability for room type %d: %w", ErrPersistenceFailure, m.RoomTypeID, err))
			}
			byRoom[m.RoomTypeID] = days
		}
		for _, d := range days {
			records = append(records, model.AvailabilityRecord{
				ChannelRoomCode: m.ChannelRoomCode,
				ChannelRateCode: m.ChannelRateCode,
				Date:            d.Date,
				AvailableRooms:  d.AvailableRooms,
				StopSell:        d.StopSell,
				MinStay:         d.MinStay,
			})
		}
	}
	if len(records) == 0 {
		return result{status: model.StatusSuccess, message: "no availability stored in window"}
	}

	c, err := o.client(conn)
	if err != nil {
		return failed(err)
	}
	return fromPush(c.PushAvailability(ctx, records))
}

func (o *Orchestrator) pushRates(ctx context.Context, conn *model.ChannelConnection, opts Options) result {
	maps, done := o.mappings(ctx, conn.Channel, opts)
	if done != nil {
		return *done
	}
	from, to, err := o.window(opts)
	if err != nil {
		return failed(err)
	}

	var records []model.RateRecord
	for _, m := range maps {
		days, err := o.inv.Rates(ctx, m.RoomTypeID, m.RatePlanID, from, to)
		if err != nil {
			return failed(fmt.Errorf("%w: reading rates for room type %d plan %d: %w",
				ErrPersistenceFailure, m.RoomTypeID, m.RatePlanID, err))
		}
		for _, d := range days {
			currency := d.Currency
			if currency == "" {
				currency = o.settings.DefaultCurrency
			}
			records = append(records, model.RateRecord{
				ChannelRoomCode: m.ChannelRoomCode,
				ChannelRateCode: m.ChannelRateCode,
				Date:            d.Date,
				Price:           d.Price,
				Currency:        currency,
			})
		}
	}
	if len(records) == 0 {
		return result{status: model.StatusSuccess, message: "no rates stored in window"}
	}

	c, err := o.client(conn)
	if err != nil {
		return failed(err)
	}
	return fromPush(c.PushRates(ctx, records))
}

func (o *Orchestrator) pullReservations(ctx context.Context, conn *model.ChannelConnection) result {
	var since *time.Time
	last, err := o.logs.LastSuccessful(ctx, conn.Channel, model.DirectionPull, model.SyncReservations)
	if err != nil {
		return failed(fmt.Errorf("%w: reading last pull: %w", ErrPersistenceFailure, err))
	}
	if last != nil {
		since = &last.StartedAt
	}

	c, err := o.client(conn)
	if err != nil {
		return failed(err)
	}
	pulled := c.PullReservations(ctx, since)
	if !pulled.Success {
		r := result{status: model.StatusFailed, message: pulled.Message, errors: pulled.Errors, err: pulled.Err}
		if len(r.errors) == 0 {
			r.errors = []string{pulled.Message}
		}
		return r
	}

	r := result{
		received: len(pulled.Reservations),
		errors:   append([]string(nil), pulled.Errors...),
		err:      pulled.Err,
	}
	skipped := 0
	for _, res := range pulled.Reservations {
		id, created, err := o.importer.Import(ctx, conn.Channel, res)
		switch {
		case err != nil:
			r.errors = append(r.errors, fmt.Sprintf("reservation %s: %v", res.ExternalID, err))
			if r.err == nil {
				r.err = err
			}
		case created:
			r.imported = append(r.imported, id)
		default:
			skipped++
		}
	}

	r.records = len(r.imported)
	r.status = model.StatusSuccess
	if len(r.errors) > 0 {
		r.status = model.StatusPartial
	}
	r.message = fmt.Sprintf("received %d reservation(s): %d imported, %d already known", r.received, len(r.imported), skipped)
	if n := r.received - len(r.imported) - skipped; n > 0 {
		r.message += fmt.Sprintf(", %d failed", n)
	}
	return r
}
