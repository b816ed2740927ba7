package sync_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/secrets"
	"github.com/njoerd114/channelrelay/internal/store"
	relaysync "github.com/njoerd114/channelrelay/internal/sync"
)

// fakeChannel is an OTA endpoint that records request bodies by message name.
type fakeChannel struct {
	mu           sync.Mutex
	requests     map[string][]string
	reservations string
}

func (f *fakeChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	msg := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	f.mu.Lock()
	f.requests[msg] = append(f.requests[msg], string(body))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	if msg == "OTA_ReadRQ" {
		_, _ = io.WriteString(w, f.reservations)
		return
	}
	_, _ = io.WriteString(w, `<OTA_HotelAvailNotifRS xmlns="http://www.opentravel.org/OTA/2003/05"><Success/></OTA_HotelAvailNotifRS>`)
}

func (f *fakeChannel) bodies(msg string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests[msg]...)
}

type env struct {
	channel  *fakeChannel
	conns    *store.Connections
	maps     *store.RateMaps
	logs     *store.SyncLogs
	inv      *store.Inventory
	bookings *store.Bookings
	bus      *events.Bus
	orch     *relaysync.Orchestrator
}

var syncNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(filepath.Join(t.TempDir(), "channelrelay.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	box, err := secrets.NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	fc := &fakeChannel{requests: make(map[string][]string)}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)

	e := &env{
		channel:  fc,
		conns:    store.NewConnections(s, box),
		maps:     store.NewRateMaps(s),
		logs:     store.NewSyncLogs(s),
		inv:      store.NewInventory(s),
		bookings: store.NewBookings(s),
		bus:      events.NewBus(logger),
	}

	ctx := context.Background()
	err = e.conns.Save(ctx, &model.ChannelConnection{
		Channel:     ota.ChannelBookingCom,
		PropertyID:  "HOTEL42",
		Credentials: model.Credentials{Username: "u", Password: "p", Endpoint: srv.URL},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("saving connection: %v", err)
	}

	importer := relaysync.NewImporter(e.bookings, e.maps, e.bus, "EUR", logger)
	e.orch = relaysync.NewOrchestrator(relaysync.Deps{
		Connections: e.conns,
		RateMaps:    e.maps,
		SyncLogs:    e.logs,
		Inventory:   e.inv,
		Importer:    importer,
		Clients:     ota.DefaultRegistry(nil),
		Events:      e.bus,
	}, relaysync.Settings{
		DefaultCurrency: "EUR",
		Client:          ota.Options{Timeout: 5 * time.Second},
		Now:             func() time.Time { return syncNow },
	}, logger)
	return e
}

func (e *env) mapRoom(t *testing.T, roomTypeID int64, code string) {
	t.Helper()
	err := e.maps.Create(context.Background(), &model.RateMap{
		Channel: ota.ChannelBookingCom, RoomTypeID: roomTypeID, ChannelRoomCode: code, ChannelRateCode: "BAR", Active: true,
	})
	if err != nil {
		t.Fatalf("creating mapping: %v", err)
	}
}

func TestIntegration_NoMappingsPushesNothing(t *testing.T) {
	e := newEnv(t)

	out := e.orch.PushAvailability(context.Background(), ota.ChannelBookingCom, relaysync.Options{})

	if out.Status != model.StatusSuccess || out.RecordsProcessed != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if n := len(e.channel.bodies("OTA_HotelAvailNotifRQ")); n != 0 {
		t.Errorf("channel received %d requests, want 0", n)
	}
}

func TestIntegration_PushAvailability(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mapRoom(t, 5, "101")
	if err := e.inv.UpsertAvailability(ctx, model.InventoryDay{
		RoomTypeID: 5, Date: syncNow, AvailableRooms: 3, MinStay: 2,
	}); err != nil {
		t.Fatalf("UpsertAvailability: %v", err)
	}

	var pushed []events.Event
	e.bus.Subscribe(events.AvailabilityPushed, func(_ context.Context, ev events.Event) { pushed = append(pushed, ev) })

	out := e.orch.PushAvailability(ctx, ota.ChannelBookingCom, relaysync.Options{})
	if out.Status != model.StatusSuccess || out.RecordsProcessed != 1 {
		t.Fatalf("outcome = %+v, want success/1", out)
	}

	bodies := e.channel.bodies("OTA_HotelAvailNotifRQ")
	if len(bodies) != 1 {
		t.Fatalf("availability requests = %d, want 1", len(bodies))
	}
	body := bodies[0]
	if n := strings.Count(body, "<AvailStatusMessage "); n != 1 {
		t.Errorf("AvailStatusMessage count = %d, want 1\n%s", n, body)
	}
	for _, want := range []string{
		`HotelCode="HOTEL42"`,
		`BookingLimit="3"`,
		`Start="2025-06-01" End="2025-06-01" InvTypeCode="101" RatePlanCode="BAR"`,
		`Time="2"`,
		`Status="Open"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("request missing %s\n%s", want, body)
		}
	}

	entry, err := e.logs.Get(ctx, out.SyncLogID)
	if err != nil {
		t.Fatalf("logs.Get: %v", err)
	}
	if entry.Status != model.StatusSuccess || entry.RecordsProcessed != 1 || entry.CompletedAt == nil {
		t.Errorf("log = %+v", entry)
	}

	conn, err := e.conns.Get(ctx, ota.ChannelBookingCom)
	if err != nil {
		t.Fatalf("conns.Get: %v", err)
	}
	if conn.LastSyncAt == nil || !conn.LastSyncAt.Equal(syncNow) {
		t.Errorf("LastSyncAt = %v, want %v", conn.LastSyncAt, syncNow)
	}
	if len(pushed) != 1 {
		t.Errorf("availability_pushed events = %d, want 1", len(pushed))
	}
}

const pullResponse = `<OTA_ResRetrieveRS xmlns="http://www.opentravel.org/OTA/2003/05">
  <Success/>
  <ReservationsList>
    <HotelReservation><UniqueID ID="BDC-1"/>
      <RoomStays><RoomStay><RoomTypes><RoomType RoomTypeCode="101"/></RoomTypes>
        <TimeSpan Start="2025-07-01" End="2025-07-03"/></RoomStay></RoomStays>
      <ResGuests><ResGuest><Profiles><ProfileInfo><Profile><Customer>
        <PersonName><GivenName>Ada</GivenName><Surname>Lovelace</Surname></PersonName>
        <Email>ada@example.com</Email>
      </Customer></Profile></ProfileInfo></Profiles></ResGuest></ResGuests>
    </HotelReservation>
    <HotelReservation><UniqueID ID="BDC-1"/>
      <RoomStays><RoomStay><RoomTypes><RoomType RoomTypeCode="101"/></RoomTypes></RoomStay></RoomStays>
    </HotelReservation>
    <HotelReservation><UniqueID ID="BDC-3"/>
      <RoomStays><RoomStay><RoomTypes><RoomType RoomTypeCode="999"/></RoomTypes></RoomStay></RoomStays>
      <ResGuests><ResGuest><Profiles><ProfileInfo><Profile><Customer>
        <Email>ada@example.com</Email>
      </Customer></Profile></ProfileInfo></Profiles></ResGuest></ResGuests>
    </HotelReservation>
  </ReservationsList>
</OTA_ResRetrieveRS>`

func TestIntegration_PullDedupAndUnmappedRoom(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.mapRoom(t, 5, "101")
	e.channel.reservations = pullResponse

	var imported []int64
	e.bus.Subscribe(events.ReservationImported, func(_ context.Context, ev events.Event) {
		imported = append(imported, ev.Payload.(events.ImportPayload).BookingID)
	})

	out := e.orch.PullReservations(ctx, ota.ChannelBookingCom)
	if out.Status != model.StatusSuccess || out.RecordsProcessed != 2 {
		t.Fatalf("outcome = %+v, want success/2", out)
	}
	if out.Message != "received 3 reservation(s): 2 imported, 1 already known" {
		t.Errorf("Message = %q", out.Message)
	}
	if diff := cmp.Diff(out.ImportedBookingIDs, imported); diff != "" {
		t.Errorf("imported events (-outcome +events):\n%s", diff)
	}

	bookings, err := e.bookings.ListBySource(ctx, ota.ChannelBookingCom)
	if err != nil {
		t.Fatalf("ListBySource: %v", err)
	}
	if len(bookings) != 2 {
		t.Fatalf("bookings = %d, want 2", len(bookings))
	}
	byID := map[string]*model.Booking{}
	for _, b := range bookings {
		byID[b.ChannelBookingID] = b
	}
	if rt := byID["BDC-1"].RoomTypeID; rt == nil || *rt != 5 {
		t.Errorf("BDC-1 RoomTypeID = %v, want 5", rt)
	}
	if rt := byID["BDC-3"].RoomTypeID; rt != nil {
		t.Errorf("BDC-3 RoomTypeID = %d, want nil", *rt)
	}
	if byID["BDC-1"].GuestID != byID["BDC-3"].GuestID {
		t.Error("guest with the same email was not reused")
	}

	// A second pull sends the start time of the first and imports nothing.
	second := e.orch.PullReservations(ctx, ota.ChannelBookingCom)
	if second.RecordsProcessed != 0 {
		t.Errorf("second pull imported %d", second.RecordsProcessed)
	}
	reads := e.channel.bodies("OTA_ReadRQ")
	if len(reads) != 2 {
		t.Fatalf("read requests = %d, want 2", len(reads))
	}
	if strings.Contains(reads[0], "SelectionCriteria") {
		t.Error("first pull should not carry a start time")
	}
	if !strings.Contains(reads[1], `Start="2025-06-01T08:00:00Z"`) {
		t.Errorf("second pull missing start time:\n%s", reads[1])
	}
}
