package ota

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/njoerd114/channelrelay/internal/model"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

const fullReservation = `<?xml version="1.0" encoding="UTF-8"?>
<OTA_ResRetrieveRS xmlns="http://www.opentravel.org/OTA/2003/05" Version="1.0">
  <Success/>
  <ReservationsList>
    <HotelReservation ResStatus="Book" CreateDateTime="2025-05-20T10:00:00Z">
      <UniqueID Type="14" ID="BDC-1"/>
      <RoomStays>
        <RoomStay>
          <RoomTypes><RoomType RoomTypeCode="101"/></RoomTypes>
          <GuestCounts><GuestCount AgeQualifyingCode="10" Count="2"/><GuestCount AgeQualifyingCode="8" Count="1"/></GuestCounts>
          <TimeSpan Start="2025-06-01" End="2025-06-03"/>
          <Total AmountAfterTax="240.00" CurrencyCode="EUR"/>
        </RoomStay>
      </RoomStays>
      <ResGuests>
        <ResGuest>
          <Profiles><ProfileInfo><Profile><Customer>
            <PersonName><GivenName>Ada</GivenName><Surname>Lovelace</Surname></PersonName>
            <Telephone PhoneNumber="+44 20 7946 0000"/>
            <Email>ada@example.com</Email>
          </Customer></Profile></ProfileInfo></Profiles>
        </ResGuest>
      </ResGuests>
      <ResGlobalInfo>
        <SpecialRequests>
          <SpecialRequest><Text>Late arrival</Text></SpecialRequest>
          <SpecialRequest><Text>Quiet room</Text></SpecialRequest>
        </SpecialRequests>
      </ResGlobalInfo>
    </HotelReservation>
  </ReservationsList>
</OTA_ResRetrieveRS>`

func TestParseReservations_FullFields(t *testing.T) {
	got, err := parseReservations([]byte(fullReservation), discardLogger())
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	want := []model.Reservation{{
		ExternalID:      "BDC-1",
		Status:          "Book",
		GuestFirstName:  "Ada",
		GuestLastName:   "Lovelace",
		GuestEmail:      "ada@example.com",
		GuestPhone:      "+44 20 7946 0000",
		CheckIn:         day("2025-06-01"),
		CheckOut:        day("2025-06-03"),
		RoomTypeCode:    "101",
		TotalAmount:     240,
		Currency:        "EUR",
		Guests:          3,
		SpecialRequests: "Late arrival\nQuiet room",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reservations mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReservations_MissingFieldsAreZero(t *testing.T) {
	body := `<OTA_ResRetrieveRS><HotelReservation><UniqueID ID="EX-9"/></HotelReservation></OTA_ResRetrieveRS>`
	got, err := parseReservations([]byte(body), discardLogger())
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	if diff := cmp.Diff([]model.Reservation{{ExternalID: "EX-9"}}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReservations_DropsMissingID(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	body := `<OTA_ResRetrieveRS>
		<HotelReservation><ResGuests><Customer><PersonName><GivenName>No</GivenName><Surname>Id</Surname></PersonName></Customer></ResGuests></HotelReservation>
		<HotelReservation><UniqueID ID="OK-1"/></HotelReservation>
	</OTA_ResRetrieveRS>`
	got, err := parseReservations([]byte(body), log)
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "OK-1" {
		t.Errorf("got %+v, want only OK-1", got)
	}
	if !strings.Contains(logs.String(), "dropping reservation without an ID") {
		t.Errorf("drop not logged: %s", logs.String())
	}
}

func TestParseReservations_PrefixedNamespace(t *testing.T) {
	body := `<ota:OTA_ResRetrieveRS xmlns:ota="http://www.opentravel.org/OTA/2003/05">
		<ota:HotelReservation ResStatus="Book">
			<ota:UniqueID ID="P-1"/>
			<ota:RoomStay><ota:RoomRate RoomTypeCode="DBL"/><ota:TimeSpan Start="2025-07-01T00:00:00Z" End="2025-07-04"/></ota:RoomStay>
		</ota:HotelReservation>
	</ota:OTA_ResRetrieveRS>`
	got, err := parseReservations([]byte(body), discardLogger())
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d reservations, want 1", len(got))
	}
	r := got[0]
	if r.ExternalID != "P-1" || r.RoomTypeCode != "DBL" {
		t.Errorf("got %+v", r)
	}
	if !r.CheckIn.Equal(day("2025-07-01")) || !r.CheckOut.Equal(day("2025-07-04")) {
		t.Errorf("stay = %v..%v", r.CheckIn, r.CheckOut)
	}
}

func TestParseReservations_AlternateIDs(t *testing.T) {
	body := `<R>
		<HotelReservation><ResGlobalInfo><HotelReservationIDs><HotelReservationID ResID_Value="HR-1"/></HotelReservationIDs></ResGlobalInfo></HotelReservation>
		<HotelReservation ResID="ATTR-1"/>
	</R>`
	got, err := parseReservations([]byte(body), discardLogger())
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ExternalID)
	}
	if diff := cmp.Diff([]string{"HR-1", "ATTR-1"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReservations_BadNumbersAndDates(t *testing.T) {
	body := `<R><HotelReservation><UniqueID ID="B-1"/>
		<TimeSpan Start="soon" End=""/><Total AmountAfterTax="lots" CurrencyCode="USD"/><GuestCount Count="two"/>
	</HotelReservation></R>`
	got, err := parseReservations([]byte(body), discardLogger())
	if err != nil {
		t.Fatalf("parseReservations: %v", err)
	}
	r := got[0]
	if !r.CheckIn.IsZero() || r.TotalAmount != 0 || r.Guests != 0 {
		t.Errorf("expected zero values for unparseable fields, got %+v", r)
	}
	if r.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", r.Currency)
	}
}

func TestParseReservations_Malformed(t *testing.T) {
	got, err := parseReservations([]byte(`<R><HotelReservation><UniqueID ID="1"/></R>`), discardLogger())
	if !errors.Is(err, ErrParseFailure) {
		t.Errorf("err = %v, want ErrParseFailure", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestScanIssues_None(t *testing.T) {
	issues, err := scanIssues([]byte(`<OTA_PingRS><Success/></OTA_PingRS>`))
	if err != nil || len(issues) != 0 {
		t.Errorf("scanIssues = %q, %v", issues, err)
	}
	issues, err = scanIssues(nil)
	if err != nil || len(issues) != 0 {
		t.Errorf("scanIssues(empty) = %q, %v", issues, err)
	}
}
