package ota

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

// issue is an OTA Error or Warning element. Element and attribute names are
// matched on their local part, so prefixed and unprefixed forms both decode.
type issue struct {
	Type      string `xml:"Type,attr"`
	Code      string `xml:"Code,attr"`
	ShortText string `xml:"ShortText,attr"`
	Text      string `xml:",chardata"`
}

func (i issue) text() string {
	if t := strings.TrimSpace(i.Text); t != "" {
		return t
	}
	if i.ShortText != "" {
		return i.ShortText
	}
	return "unspecified"
}

// scanIssues walks a response body and renders every Error element as
// "[code] message" and every Warning element as "Warning: message". It
// returns the issues found before any syntax error.
func scanIssues(body []byte) ([]string, error) {
	var out []string
	d := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "Error":
			var is issue
			if err := d.DecodeElement(&is, &se); err != nil {
				return out, err
			}
			if is.Code != "" {
				out = append(out, fmt.Sprintf("[%s] %s", is.Code, is.text()))
			} else {
				out = append(out, is.text())
			}
		case "Warning":
			var is issue
			if err := d.DecodeElement(&is, &se); err != nil {
				return out, err
			}
			out = append(out, "Warning: "+is.text())
		}
	}
}

// --- reservations -----------------------------------------------------------

// node is a generic XML element used for best-effort lookups.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

// find returns the first descendant (depth-first) with the given local name.
func (n *node) find(local string) *node {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			return c
		}
		if f := c.find(local); f != nil {
			return f
		}
	}
	return nil
}

// findAll returns every descendant with the given local name.
func (n *node) findAll(local string) []*node {
	var out []*node
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == local {
			out = append(out, c)
		}
		out = append(out, c.findAll(local)...)
	}
	return out
}

// path follows a chain of descendant lookups.
func (n *node) path(locals ...string) *node {
	cur := n
	for _, l := range locals {
		if cur = cur.find(l); cur == nil {
			return nil
		}
	}
	return cur
}

func (n *node) attr(local string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (n *node) text() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// parseReservations extracts every HotelReservation element from body.
// Reservations without an external ID are dropped and logged. A syntax error
// stops the walk; the error is returned with no reservations.
func parseReservations(body []byte, log *slog.Logger) ([]model.Reservation, error) {
	var out []model.Reservation
	d := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailure, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "HotelReservation" {
			continue
		}
		var n node
		if err := d.DecodeElement(&n, &se); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailure, err)
		}
		r := reservationFromNode(&n)
		if r.ExternalID == "" {
			log.Warn("dropping reservation without an ID",
				"guest", strings.TrimSpace(r.GuestFirstName+" "+r.GuestLastName),
				"check_in", formatOptionalDay(r.CheckIn),
			)
			continue
		}
		out = append(out, r)
	}
}

func reservationFromNode(n *node) model.Reservation {
	r := model.Reservation{
		ExternalID: reservationID(n),
		Status:     n.attr("ResStatus"),
	}

	customer := n.path("ResGuests", "Customer")
	if customer == nil {
		customer = n.find("Customer")
	}
	if customer != nil {
		r.GuestFirstName = customer.path("PersonName", "GivenName").text()
		r.GuestLastName = customer.path("PersonName", "Surname").text()
		r.GuestEmail = customer.find("Email").text()
		if tel := customer.find("Telephone"); tel != nil {
			r.GuestPhone = tel.attr("PhoneNumber")
			if r.GuestPhone == "" {
				r.GuestPhone = tel.text()
			}
		}
	}

	span := n.path("RoomStay", "TimeSpan")
	if span == nil {
		span = n.find("TimeSpan")
	}
	r.CheckIn = parseLooseDay(span.attr("Start"))
	r.CheckOut = parseLooseDay(span.attr("End"))

	if rt := n.find("RoomType"); rt != nil {
		r.RoomTypeCode = rt.attr("RoomTypeCode")
	}
	if r.RoomTypeCode == "" {
		r.RoomTypeCode = n.find("RoomRate").attr("RoomTypeCode")
	}

	if total := n.find("Total"); total != nil {
		amount := total.attr("AmountAfterTax")
		if amount == "" {
			amount = total.attr("AmountBeforeTax")
		}
		r.TotalAmount, _ = strconv.ParseFloat(amount, 64)
		r.Currency = total.attr("CurrencyCode")
	}

	for _, gc := range n.findAll("GuestCount") {
		if c, err := strconv.Atoi(gc.attr("Count")); err == nil && c > 0 {
			r.Guests += c
		}
	}

	var requests []string
	for _, sr := range n.findAll("SpecialRequest") {
		t := sr.find("Text").text()
		if t == "" {
			t = sr.text()
		}
		if t != "" {
			requests = append(requests, t)
		}
	}
	r.SpecialRequests = strings.Join(requests, "\n")

	return r
}

// reservationID prefers UniqueID@ID, then the first HotelReservationID value.
func reservationID(n *node) string {
	for _, c := range n.Children {
		if c.XMLName.Local == "UniqueID" {
			if id := c.attr("ID"); id != "" {
				return id
			}
		}
	}
	if id := n.find("HotelReservationID").attr("ResID_Value"); id != "" {
		return id
	}
	return n.attr("ResID")
}

// parseLooseDay accepts a calendar date or a full timestamp and returns the
// UTC date. Anything else yields the zero time.
func parseLooseDay(s string) time.Time {
	if len(s) >= len(model.DateLayout) {
		if d, err := model.ParseDay(s[:len(model.DateLayout)]); err == nil {
			return d
		}
	}
	return time.Time{}
}

func formatOptionalDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}
