package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/store"
)

// --- Mock Connection Store ---------------------------------------------------

type mockConnections struct {
	mu      sync.Mutex
	conns   map[string]*model.ChannelConnection
	touched map[string]time.Time
	getErr  error

	// getPanic and touchPanic make the next call panic once.
	getPanic   string
	touchPanic string
}

func newMockConnections(conns ...*model.ChannelConnection) *mockConnections {
	m := &mockConnections{
		conns:   make(map[string]*model.ChannelConnection),
		touched: make(map[string]time.Time),
	}
	for _, c := range conns {
		m.conns[c.Channel] = c
	}
	return m
}

func (m *mockConnections) Get(_ context.Context, channel string) (*model.ChannelConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.getPanic; msg != "" {
		m.getPanic = ""
		panic(msg)
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.conns[channel]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockConnections) ListActive(_ context.Context) ([]*model.ChannelConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChannelConnection
	for _, c := range m.conns {
		if c.Active {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockConnections) TouchLastSync(_ context.Context, channel string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.touchPanic; msg != "" {
		m.touchPanic = ""
		panic(msg)
	}
	if _, ok := m.conns[channel]; !ok {
		return store.ErrNotFound
	}
	m.touched[channel] = t
	return nil
}

func (m *mockConnections) wasTouched(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.touched[channel]
	return ok
}

// --- Mock Rate Map Store -----------------------------------------------------

type mockRateMaps struct {
	maps      []*model.RateMap
	activeErr error
	lookupErr error
}

func (m *mockRateMaps) ActiveMappings(_ context.Context, channel string, roomTypeID *int64) ([]*model.RateMap, error) {
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	var out []*model.RateMap
	for _, rm := range m.maps {
		if rm.Channel != channel || !rm.Active {
			continue
		}
		if roomTypeID != nil && rm.RoomTypeID != *roomTypeID {
			continue
		}
		out = append(out, rm)
	}
	return out, nil
}

func (m *mockRateMaps) LookupRoomType(_ context.Context, channel, code string) (*int64, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, rm := range m.maps {
		if rm.Channel == channel && rm.ChannelRoomCode == code && rm.Active {
			id := rm.RoomTypeID
			return &id, nil
		}
	}
	return nil, nil
}

// --- Mock Sync Log Store -----------------------------------------------------

type mockSyncLogs struct {
	mu      sync.Mutex
	entries []*model.SyncLog
	openErr error

	// sealPanic makes the next Seal panic once.
	sealPanic string
}

func (m *mockSyncLogs) Open(_ context.Context, e *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	e.ID = int64(len(m.entries) + 1)
	e.Status = model.StatusPending
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockSyncLogs) Record(_ context.Context, e *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !e.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}
	if e.CompletedAt == nil {
		now := time.Now().UTC()
		e.CompletedAt = &now
	}
	e.ID = int64(len(m.entries) + 1)
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockSyncLogs) Seal(_ context.Context, e *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.sealPanic; msg != "" {
		m.sealPanic = ""
		panic(msg)
	}
	for _, stored := range m.entries {
		if stored.ID != e.ID {
			continue
		}
		if stored.Status != model.StatusPending {
			return store.ErrAlreadySealed
		}
		now := time.Now().UTC()
		stored.Status = e.Status
		stored.RecordsProcessed = e.RecordsProcessed
		stored.ErrorText = e.ErrorText
		stored.CompletedAt = &now
		return nil
	}
	return store.ErrNotFound
}

func (m *mockSyncLogs) LastSuccessful(_ context.Context, channel string, dir model.Direction, typ model.SyncType) (*model.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.Channel == channel && e.Direction == dir && e.Type == typ &&
			(e.Status == model.StatusSuccess || e.Status == model.StatusPartial) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockSyncLogs) all() []model.SyncLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SyncLog, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

func (m *mockSyncLogs) last() model.SyncLog {
	all := m.all()
	return all[len(all)-1]
}

// --- Mock Inventory ----------------------------------------------------------

type rateKey struct{ room, plan int64 }

type mockInventory struct {
	avail    map[int64][]model.InventoryDay
	rates    map[rateKey][]model.RateDay
	panicMsg string
}

func newMockInventory() *mockInventory {
	return &mockInventory{avail: make(map[int64][]model.InventoryDay), rates: make(map[rateKey][]model.RateDay)}
}

func inWindow(d, from, to time.Time) bool {
	return !d.Before(from) && !d.After(to)
}

func (m *mockInventory) Availability(_ context.Context, roomTypeID int64, from, to time.Time) ([]model.InventoryDay, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	var out []model.InventoryDay
	for _, d := range m.avail[roomTypeID] {
		if inWindow(d.Date, from, to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockInventory) Rates(_ context.Context, roomTypeID, ratePlanID int64, from, to time.Time) ([]model.RateDay, error) {
	var out []model.RateDay
	for _, d := range m.rates[rateKey{roomTypeID, ratePlanID}] {
		if inWindow(d.Date, from, to) {
			out = append(out, d)
		}
	}
	return out, nil
}

// --- Mock Booking Store ------------------------------------------------------

type mockBookings struct {
	mu       sync.Mutex
	guests   []*model.Guest
	bookings []*model.Booking
	findErr  error
	txErr    error

	// skipExistenceCheck makes FindChannelBooking report nothing, to
	// exercise the unique-index path.
	skipExistenceCheck bool
}

func (m *mockBookings) FindChannelBooking(_ context.Context, source, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.skipExistenceCheck {
		return nil, nil
	}
	for _, b := range m.bookings {
		if b.Source == source && b.ChannelBookingID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

// InTx stages writes and applies them only if fn succeeds.
func (m *mockBookings) InTx(_ context.Context, fn func(w store.GuestBookingWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return m.txErr
	}
	tx := &mockBookingTx{parent: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.guests = append(m.guests, tx.guests...)
	m.bookings = append(m.bookings, tx.bookings...)
	return nil
}

func (m *mockBookings) snapshot() ([]model.Guest, []model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs := make([]model.Guest, len(m.guests))
	for i, g := range m.guests {
		gs[i] = *g
	}
	bs := make([]model.Booking, len(m.bookings))
	for i, b := range m.bookings {
		bs[i] = *b
	}
	return gs, bs
}

type mockBookingTx struct {
	parent   *mockBookings
	guests   []*model.Guest
	bookings []*model.Booking
}

func (t *mockBookingTx) FindGuestByEmail(_ context.Context, email string) (*model.Guest, error) {
	if email == "" {
		return nil, nil
	}
	for _, g := range append(append([]*model.Guest(nil), t.parent.guests...), t.guests...) {
		if g.Email == email {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *mockBookingTx) CreateGuest(_ context.Context, g *model.Guest) error {
	g.ID = int64(len(t.parent.guests) + len(t.guests) + 1)
	cp := *g
	t.guests = append(t.guests, &cp)
	return nil
}

func (t *mockBookingTx) CreateBooking(_ context.Context, b *model.Booking) error {
	for _, existing := range append(append([]*model.Booking(nil), t.parent.bookings...), t.bookings...) {
		if existing.Source == b.Source && existing.ChannelBookingID == b.ChannelBookingID {
			return fmt.Errorf("creating booking: %w", store.ErrDuplicateBooking)
		}
	}
	b.ID = int64(len(t.parent.bookings) + len(t.bookings) + 100)
	cp := *b
	t.bookings = append(t.bookings, &cp)
	return nil
}

// --- Mock Protocol Client ----------------------------------------------------

type mockClient struct {
	mu sync.Mutex

	availCalls [][]model.AvailabilityRecord
	rateCalls  [][]model.RateRecord
	pullCalls  []*time.Time

	pushResult *ota.PushResult
	pullResult ota.PullResult
	panicMsg   string

	// Concurrency tracking for lock tests.
	active, peak int
	delay        time.Duration
}

func (c *mockClient) enter() {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
}

func (c *mockClient) leave() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

func (c *mockClient) push(n int) ota.PushResult {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.pushResult != nil {
		return *c.pushResult
	}
	return ota.PushResult{Success: true, RecordsProcessed: n, Message: "ok"}
}

func (c *mockClient) PushAvailability(_ context.Context, records []model.AvailabilityRecord) ota.PushResult {
	c.enter()
	defer c.leave()
	c.mu.Lock()
	c.availCalls = append(c.availCalls, records)
	c.mu.Unlock()
	return c.push(len(records))
}

func (c *mockClient) PushRates(_ context.Context, records []model.RateRecord) ota.PushResult {
	c.enter()
	defer c.leave()
	c.mu.Lock()
	c.rateCalls = append(c.rateCalls, records)
	c.mu.Unlock()
	return c.push(len(records))
}

func (c *mockClient) PullReservations(_ context.Context, since *time.Time) ota.PullResult {
	c.enter()
	defer c.leave()
	c.mu.Lock()
	c.pullCalls = append(c.pullCalls, since)
	c.mu.Unlock()
	return c.pullResult
}

func (c *mockClient) TestConnection(context.Context) ota.TestResult {
	return ota.TestResult{Success: true, Message: "ok"}
}

func (c *mockClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.availCalls) + len(c.rateCalls) + len(c.pullCalls)
}

type mockFactory struct {
	client *mockClient
	err    error
}

func (f *mockFactory) New(*model.ChannelConnection, ota.Options) (ota.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// --- Mock Importer -----------------------------------------------------------

type mockImporter struct {
	calls []model.Reservation
	errs  map[string]error
	known map[string]bool
	next  int64
}

func (m *mockImporter) Import(_ context.Context, _ string, r model.Reservation) (int64, bool, error) {
	m.calls = append(m.calls, r)
	if err := m.errs[r.ExternalID]; err != nil {
		return 0, false, err
	}
	if m.known[r.ExternalID] {
		return 1, false, nil
	}
	if m.known == nil {
		m.known = make(map[string]bool)
	}
	m.known[r.ExternalID] = true
	m.next++
	return m.next, true, nil
}

// --- Recording Publisher -----------------------------------------------------

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Mock FullSyncer ---------------------------------------------------------

type mockSyncer struct {
	mu       sync.Mutex
	channels []string
	status   map[string]model.SyncStatus
}

func (m *mockSyncer) FullSync(_ context.Context, channel string) FullOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
	st := model.StatusSuccess
	if s, ok := m.status[channel]; ok {
		st = s
	}
	ok := Outcome{Channel: channel, Status: model.StatusSuccess}
	return FullOutcome{Availability: ok, Rates: Outcome{Channel: channel, Status: st}, Reservations: ok}
}
