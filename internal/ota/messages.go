package ota

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

// Namespace is the OTA 2003/05 XML namespace carried by every request.
const Namespace = "http://www.opentravel.org/OTA/2003/05"

// Message names. Each is also the path segment the request is POSTed to.
const (
	msgAvailNotif      = "OTA_HotelAvailNotifRQ"
	msgRateAmountNotif = "OTA_HotelRateAmountNotifRQ"
	msgRead            = "OTA_ReadRQ"
	msgPing            = "OTA_PingRQ"

	protocolVersion = "1.0"
	restrictionOpen = "Open"
	restrictionShut = "Close"
	minLOSType      = "SetMinLOS"
	pingEchoData    = "channelrelay"
)

// envelope holds the attributes shared by every request root element.
type envelope struct {
	EchoToken string `xml:"EchoToken,attr"`
	TimeStamp string `xml:"TimeStamp,attr"`
	Version   string `xml:"Version,attr"`
}

func newEnvelope(token string, now time.Time) envelope {
	return envelope{
		EchoToken: token,
		TimeStamp: now.UTC().Format(time.RFC3339),
		Version:   protocolVersion,
	}
}

// statusApplicationControl scopes a message to one room/rate and date range.
// Start and End are always the same single date.
type statusApplicationControl struct {
	Start        string `xml:"Start,attr"`
	End          string `xml:"End,attr"`
	InvTypeCode  string `xml:"InvTypeCode,attr"`
	RatePlanCode string `xml:"RatePlanCode,attr,omitempty"`
}

func singleDay(d time.Time, room, rate string) statusApplicationControl {
	day := d.Format(model.DateLayout)
	return statusApplicationControl{Start: day, End: day, InvTypeCode: room, RatePlanCode: rate}
}

// --- availability -----------------------------------------------------------

type availNotifRQ struct {
	XMLName xml.Name `xml:"http://www.opentravel.org/OTA/2003/05 OTA_HotelAvailNotifRQ"`
	envelope
	Messages availStatusMessages `xml:"AvailStatusMessages"`
}

type availStatusMessages struct {
	HotelCode string               `xml:"HotelCode,attr"`
	Messages  []availStatusMessage `xml:"AvailStatusMessage"`
}

type availStatusMessage struct {
	BookingLimit      int                      `xml:"BookingLimit,attr"`
	Control           statusApplicationControl `xml:"StatusApplicationControl"`
	LengthsOfStay     *lengthsOfStay           `xml:"LengthsOfStay,omitempty"`
	RestrictionStatus restrictionStatus        `xml:"RestrictionStatus"`
}

type lengthsOfStay struct {
	LengthOfStay []lengthOfStay `xml:"LengthOfStay"`
}

type lengthOfStay struct {
	Time              int    `xml:"Time,attr"`
	MinMaxMessageType string `xml:"MinMaxMessageType,attr"`
}

type restrictionStatus struct {
	Status string `xml:"Status,attr"`
}

func buildAvailNotif(env envelope, hotelCode string, records []model.AvailabilityRecord) availNotifRQ {
	msgs := make([]availStatusMessage, 0, len(records))
	for _, r := range records {
		m := availStatusMessage{
			BookingLimit:      max(r.AvailableRooms, 0),
			Control:           singleDay(r.Date, r.ChannelRoomCode, r.ChannelRateCode),
			RestrictionStatus: restrictionStatus{Status: restrictionOpen},
		}
		if r.StopSell {
			m.RestrictionStatus.Status = restrictionShut
		}
		if r.MinStay > 0 {
			m.LengthsOfStay = &lengthsOfStay{
				LengthOfStay: []lengthOfStay{{Time: r.MinStay, MinMaxMessageType: minLOSType}},
			}
		}
		msgs = append(msgs, m)
	}
	return availNotifRQ{
		envelope: env,
		Messages: availStatusMessages{HotelCode: hotelCode, Messages: msgs},
	}
}

// --- rates ------------------------------------------------------------------

type rateAmountNotifRQ struct {
	XMLName xml.Name `xml:"http://www.opentravel.org/OTA/2003/05 OTA_HotelRateAmountNotifRQ"`
	envelope
	Messages rateAmountMessages `xml:"RateAmountMessages"`
}

type rateAmountMessages struct {
	HotelCode string              `xml:"HotelCode,attr"`
	Messages  []rateAmountMessage `xml:"RateAmountMessage"`
}

type rateAmountMessage struct {
	Control statusApplicationControl `xml:"StatusApplicationControl"`
	Rates   []rate                   `xml:"Rates>Rate"`
}

type rate struct {
	Amounts []baseByGuestAmt `xml:"BaseByGuestAmts>BaseByGuestAmt"`
}

type baseByGuestAmt struct {
	AmountAfterTax string `xml:"AmountAfterTax,attr"`
	CurrencyCode   string `xml:"CurrencyCode,attr"`
}

func buildRateAmountNotif(env envelope, hotelCode string, records []model.RateRecord) rateAmountNotifRQ {
	msgs := make([]rateAmountMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, rateAmountMessage{
			Control: singleDay(r.Date, r.ChannelRoomCode, r.ChannelRateCode),
			Rates: []rate{{Amounts: []baseByGuestAmt{{
				AmountAfterTax: strconv.FormatFloat(r.Price, 'f', 2, 64),
				CurrencyCode:   r.Currency,
			}}}},
		})
	}
	return rateAmountNotifRQ{
		envelope: env,
		Messages: rateAmountMessages{HotelCode: hotelCode, Messages: msgs},
	}
}

// --- read and ping ----------------------------------------------------------

type readRQ struct {
	XMLName xml.Name `xml:"http://www.opentravel.org/OTA/2003/05 OTA_ReadRQ"`
	envelope
	Request hotelReadRequest `xml:"ReadRequests>HotelReadRequest"`
}

type hotelReadRequest struct {
	HotelCode string             `xml:"HotelCode,attr"`
	Selection *selectionCriteria `xml:"SelectionCriteria,omitempty"`
}

type selectionCriteria struct {
	Start    string `xml:"Start,attr"`
	DateType string `xml:"DateType,attr"`
}

func buildRead(env envelope, hotelCode string, since *time.Time) readRQ {
	rq := readRQ{envelope: env, Request: hotelReadRequest{HotelCode: hotelCode}}
	if since != nil {
		rq.Request.Selection = &selectionCriteria{
			Start:    since.UTC().Format(time.RFC3339),
			DateType: "LastUpdateDate",
		}
	}
	return rq
}

type pingRQ struct {
	XMLName xml.Name `xml:"http://www.opentravel.org/OTA/2003/05 OTA_PingRQ"`
	envelope
	EchoData string `xml:"EchoData"`
}

func buildPing(env envelope) pingRQ {
	return pingRQ{envelope: env, EchoData: pingEchoData}
}
