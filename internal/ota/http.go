package ota

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/channelrelay/internal/model"
)

const (
	// DefaultTimeout bounds every request to a channel.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20
	maxReasonBytes   = 512
)

// HTTPClient is a [Client] that POSTs OTA XML documents to
// <baseURL>/<message name> with HTTP Basic authentication.
type HTTPClient struct {
	channel   string
	baseURL   string
	hotelCode string
	username  string
	password  string
	hc        *http.Client
	log       *slog.Logger

	// Overridable in tests.
	now      func() time.Time
	newToken func() string
}

// NewHTTPClient creates a client for one channel connection. baseURL must
// already reflect the sandbox/production/custom endpoint choice.
func NewHTTPClient(channel, baseURL, hotelCode string, creds model.Credentials, opts Options) *HTTPClient {
	opts = opts.withDefaults()
	return &HTTPClient{
		channel:   channel,
		baseURL:   strings.TrimRight(baseURL, "/"),
		hotelCode: hotelCode,
		username:  creds.Username,
		password:  creds.Password,
		hc:        opts.HTTPClient,
		log:       opts.Logger.With("channel", channel),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

// BaseURL returns the URL requests are sent to.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// PushAvailability sends one OTA_HotelAvailNotifRQ with one
// AvailStatusMessage per record.
func (c *HTTPClient) PushAvailability(ctx context.Context, records []model.AvailabilityRecord) PushResult {
	rq := buildAvailNotif(c.envelope(), c.hotelCode, records)
	return c.push(ctx, msgAvailNotif, rq, len(records))
}

// PushRates sends one OTA_HotelRateAmountNotifRQ with one RateAmountMessage
// per record.
func (c *HTTPClient) PushRates(ctx context.Context, records []model.RateRecord) PushResult {
	rq := buildRateAmountNotif(c.envelope(), c.hotelCode, records)
	return c.push(ctx, msgRateAmountNotif, rq, len(records))
}

// PullReservations fetches reservations created or modified since the given
// time, or all reservations the channel still holds when since is nil.
func (c *HTTPClient) PullReservations(ctx context.Context, since *time.Time) PullResult {
	ex := c.exchange(ctx, msgRead, buildRead(c.envelope(), c.hotelCode, since))
	if !ex.ok {
		return PullResult{Message: ex.message, Err: ex.err}
	}

	reservations, err := parseReservations(ex.body, c.log)
	if err != nil {
		c.log.Warn("could not parse reservation response", "error", err)
	}
	res := PullResult{
		Success:      true,
		Reservations: reservations,
		Errors:       ex.issues,
		Err:          ex.err,
	}
	res.Message = fmt.Sprintf("received %d reservation(s)", len(reservations))
	return res
}

// TestConnection sends an OTA_PingRQ. It has no side effects on the channel.
func (c *HTTPClient) TestConnection(ctx context.Context) TestResult {
	ex := c.exchange(ctx, msgPing, buildPing(c.envelope()))
	if !ex.ok {
		return TestResult{Message: ex.message, Err: ex.err}
	}
	if len(ex.issues) > 0 {
		return TestResult{
			Success: true,
			Message: "connected with warnings: " + model.JoinErrors(ex.issues),
			Err:     ex.err,
		}
	}
	return TestResult{Success: true, Message: "connection ok"}
}

func (c *HTTPClient) envelope() envelope {
	return newEnvelope(c.newToken(), c.now())
}

func (c *HTTPClient) push(ctx context.Context, message string, rq any, n int) PushResult {
	ex := c.exchange(ctx, message, rq)
	if !ex.ok {
		return PushResult{Message: ex.message, Errors: []string{ex.message}, Err: ex.err}
	}
	res := PushResult{
		Success:          true,
		RecordsProcessed: n,
		Errors:           ex.issues,
		Err:              ex.err,
	}
	if len(ex.issues) > 0 {
		res.Message = fmt.Sprintf("accepted %d record(s) with %d warning(s)", n, len(ex.issues))
	} else {
		res.Message = fmt.Sprintf("accepted %d record(s)", n)
	}
	return res
}

// exchangeResult is a classified HTTP round trip.
type exchangeResult struct {
	// ok is true for any 2xx response.
	ok      bool
	message string
	issues  []string
	body    []byte
	err     error
}

// exchange marshals rq, POSTs it, and classifies the response:
//
//   - 401/403: credential failure (ErrAuthFailure)
//   - 2xx: accepted; Error and Warning elements become issues
//   - anything else, or no response at all: ErrTransportFailure
func (c *HTTPClient) exchange(ctx context.Context, message string, rq any) exchangeResult {
	payload, err := xml.Marshal(rq)
	if err != nil {
		return exchangeResult{
			message: fmt.Sprintf("encoding %s: %v", message, err),
			err:     fmt.Errorf("encoding %s: %w", message, err),
		}
	}
	payload = append([]byte(xml.Header), payload...)

	endpoint := c.baseURL + "/" + message
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return transportFailure(fmt.Errorf("creating %s request: %w", message, err))
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Accept", "application/xml")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportFailure(fmt.Errorf("reading %s response: %w", message, err))
	}
	c.log.Debug("OTA exchange",
		"message", message,
		"status", resp.StatusCode,
		"bytes_out", len(payload),
		"bytes_in", len(body),
		"elapsed", time.Since(start),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		msg := fmt.Sprintf("channel rejected credentials (HTTP %d): check username and password", resp.StatusCode)
		return exchangeResult{message: msg, err: fmt.Errorf("%w: HTTP %d", ErrAuthFailure, resp.StatusCode)}

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		issues, perr := scanIssues(body)
		ex := exchangeResult{ok: true, issues: issues, body: body}
		switch {
		case perr != nil:
			ex.issues = append(ex.issues, "ParseFailure: "+perr.Error())
			ex.err = fmt.Errorf("%w: %v", ErrParseFailure, perr)
		case len(issues) > 0:
			ex.err = fmt.Errorf("%w: %d reported", ErrProtocolWarning, len(issues))
		}
		return ex

	default:
		return transportFailure(fmt.Errorf("HTTP %d: %s", resp.StatusCode, reason(body)))
	}
}

func transportFailure(err error) exchangeResult {
	msg := err.Error()
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		msg = "request timed out: " + msg
	}
	return exchangeResult{message: msg, err: fmt.Errorf("%w: %w", ErrTransportFailure, err)}
}

// reason returns a short single-line excerpt of an error body.
func reason(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > maxReasonBytes {
		s = s[:maxReasonBytes] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}
