// Package admin is the management facade over channel connections, rate
// mappings, and the sync log. The CLI and any future HTTP layer drive the
// system through [Service]; it validates input before it reaches the stores.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/store"
	syncp "github.com/njoerd114/channelrelay/internal/sync"
)

const (
	// DefaultPageLimit is used when a listing does not specify a limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps a single page.
	MaxPageLimit = 500
)

var (
	// ErrInvalid marks input rejected by validation.
	ErrInvalid = errors.New("invalid input")

	// ErrNotFound is returned when the addressed connection or mapping
	// does not exist.
	ErrNotFound = store.ErrNotFound
)

// ConnectionStore persists channel connections.
// Implemented by [store.Connections].
type ConnectionStore interface {
	Get(ctx context.Context, channel string) (*model.ChannelConnection, error)
	List(ctx context.Context) ([]*model.ChannelConnection, error)
	Save(ctx context.Context, conn *model.ChannelConnection) error
}

// MappingStore persists rate mappings.
// Implemented by [store.RateMaps].
type MappingStore interface {
	List(ctx context.Context, channel string) ([]*model.RateMap, error)
	Get(ctx context.Context, id int64) (*model.RateMap, error)
	Create(ctx context.Context, m *model.RateMap) error
	Update(ctx context.Context, m *model.RateMap) error
	Delete(ctx context.Context, id int64) error
}

// SyncLogReader lists sync log entries.
// Implemented by [store.SyncLogs].
type SyncLogReader interface {
	List(ctx context.Context, filter model.SyncLogFilter, page model.Page) ([]*model.SyncLog, int, error)
}

// Syncer runs sync operations on demand.
// Implemented by [syncp.Orchestrator].
type Syncer interface {
	PushAvailability(ctx context.Context, channel string, opts syncp.Options) syncp.Outcome
	PushRates(ctx context.Context, channel string, opts syncp.Options) syncp.Outcome
	PullReservations(ctx context.Context, channel string) syncp.Outcome
	FullSync(ctx context.Context, channel string) syncp.FullOutcome
}

// Clients builds protocol clients and knows which channels exist.
// Implemented by [ota.Registry].
type Clients interface {
	Has(name string) bool
	New(conn *model.ChannelConnection, opts ota.Options) (ota.Client, error)
}

// SyncKind selects what TriggerSync runs.
type SyncKind string

const (
	KindAvailability SyncKind = "availability"
	KindRates        SyncKind = "rates"
	KindReservations SyncKind = "reservations"
	KindFull         SyncKind = "full"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Connections ConnectionStore
	Mappings    MappingStore
	SyncLogs    SyncLogReader
	Syncer      Syncer
	Clients     Clients
}

// Service is the management facade.
type Service struct {
	conns    ConnectionStore
	maps     MappingStore
	logs     SyncLogReader
	syncer   Syncer
	clients  Clients
	opts     ota.Options
	validate *validator.Validate
	log      *slog.Logger
}

// New creates a Service. opts is passed to every client built for a
// connection test.
func New(deps Deps, opts ota.Options, logger *slog.Logger) *Service {
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Service{
		conns:    deps.Connections,
		maps:     deps.Mappings,
		logs:     deps.SyncLogs,
		syncer:   deps.Syncer,
		clients:  deps.Clients,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger,
	}
}

// --- connections ------------------------------------------------------------

// ListConnections returns every configured connection.
func (s *Service) ListConnections(ctx context.Context) ([]*model.ChannelConnection, error) {
	conns, err := s.conns.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	return conns, nil
}

// GetConnection returns the connection for channel, or ErrNotFound.
func (s *Service) GetConnection(ctx context.Context, channel string) (*model.ChannelConnection, error) {
	conn, err := s.conns.Get(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("loading connection %s: %w", channel, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", channel, ErrNotFound)
	}
	return conn, nil
}

// SaveConnection validates conn and stores it, replacing any existing
// connection for the same channel.
func (s *Service) SaveConnection(ctx context.Context, conn *model.ChannelConnection) error {
	conn.Channel = strings.TrimSpace(conn.Channel)
	conn.PropertyID = strings.TrimSpace(conn.PropertyID)
	if err := s.check(conn); err != nil {
		return err
	}
	if !s.clients.Has(conn.Channel) {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, ota.ErrUnknownChannel, conn.Channel)
	}
	if err := s.conns.Save(ctx, conn); err != nil {
		return fmt.Errorf("saving connection %s: %w", conn.Channel, err)
	}
	s.log.Info("connection saved", "channel", conn.Channel, "active", conn.Active, "sandbox", conn.Credentials.Sandbox)
	return nil
}

// TestConnection checks the stored credentials of channel against the
// channel's endpoint. Inactive connections can be tested.
func (s *Service) TestConnection(ctx context.Context, channel string) (ota.TestResult, error) {
	conn, err := s.GetConnection(ctx, channel)
	if err != nil {
		return ota.TestResult{}, err
	}
	return s.Probe(ctx, conn)
}

// Probe tests conn without storing it. The returned error is non-nil only
// when no client could be built; a rejected login is reported in the result.
func (s *Service) Probe(ctx context.Context, conn *model.ChannelConnection) (ota.TestResult, error) {
	if err := s.check(conn); err != nil {
		return ota.TestResult{}, err
	}
	client, err := s.clients.New(conn, s.opts)
	if err != nil {
		return ota.TestResult{}, fmt.Errorf("creating client for %s: %w", conn.Channel, err)
	}
	res := client.TestConnection(ctx)
	s.log.Info("connection tested", "channel", conn.Channel, "success", res.Success, "message", res.Message)
	return res, nil
}

// TriggerSync runs one kind of sync for channel now and returns the
// outcomes in execution order.
func (s *Service) TriggerSync(ctx context.Context, channel string, kind SyncKind) ([]syncp.Outcome, error) {
	switch kind {
	case KindAvailability:
		return []syncp.Outcome{s.syncer.PushAvailability(ctx, channel, syncp.Options{})}, nil
	case KindRates:
		return []syncp.Outcome{s.syncer.PushRates(ctx, channel, syncp.Options{})}, nil
	case KindReservations:
		return []syncp.Outcome{s.syncer.PullReservations(ctx, channel)}, nil
	case KindFull, "":
		return s.syncer.FullSync(ctx, channel).Outcomes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown sync kind %q", ErrInvalid, kind)
	}
}

// --- mappings ---------------------------------------------------------------

// ListMappings returns the mappings of channel, or of all channels when
// channel is empty.
func (s *Service) ListMappings(ctx context.Context, channel string) ([]*model.RateMap, error) {
	maps, err := s.maps.List(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	return maps, nil
}

// GetMapping returns the mapping with id, or ErrNotFound.
func (s *Service) GetMapping(ctx context.Context, id int64) (*model.RateMap, error) {
	m, err := s.maps.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading mapping %d: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("mapping %d: %w", id, ErrNotFound)
	}
	return m, nil
}

// CreateMapping validates and stores a new mapping, setting m.ID.
func (s *Service) CreateMapping(ctx context.Context, m *model.RateMap) error {
	normalizeMapping(m)
	if err := s.check(m); err != nil {
		return err
	}
	if err := s.maps.Create(ctx, m); err != nil {
		return fmt.Errorf("creating mapping: %w", err)
	}
	s.log.Info("mapping created", "id", m.ID, "channel", m.Channel, "room_type_id", m.RoomTypeID, "room_code", m.ChannelRoomCode)
	return nil
}

// UpdateMapping validates and replaces the mapping with m.ID.
func (s *Service) UpdateMapping(ctx context.Context, m *model.RateMap) error {
	if m.ID <= 0 {
		return fmt.Errorf("%w: mapping id is required", ErrInvalid)
	}
	normalizeMapping(m)
	if err := s.check(m); err != nil {
		return err
	}
	if err := s.maps.Update(ctx, m); err != nil {
		return fmt.Errorf("updating mapping %d: %w", m.ID, err)
	}
	s.log.Info("mapping updated", "id", m.ID, "active", m.Active)
	return nil
}

// DeleteMapping removes the mapping with id.
func (s *Service) DeleteMapping(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: mapping id is required", ErrInvalid)
	}
	if err := s.maps.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting mapping %d: %w", id, err)
	}
	s.log.Info("mapping deleted", "id", id)
	return nil
}

func normalizeMapping(m *model.RateMap) {
	m.Channel = strings.TrimSpace(m.Channel)
	m.ChannelRoomCode = strings.TrimSpace(m.ChannelRoomCode)
	m.ChannelRateCode = strings.TrimSpace(m.ChannelRateCode)
}

// --- sync log ---------------------------------------------------------------

// LogPage is one page of sync log entries.
type LogPage struct {
	Items  []*model.SyncLog
	Total  int
	Limit  int
	Offset int
}

// Page returns the 1-based number of this page.
func (p LogPage) Page() int {
	return p.Offset/p.Limit + 1
}

// Pages returns the number of pages at this limit; at least 1.
func (p LogPage) Pages() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// HasNext reports whether entries exist past this page.
func (p LogPage) HasNext() bool {
	return p.Offset+len(p.Items) < p.Total
}

// ListSyncLogs returns one page of sync log entries matching filter, newest
// first.
func (s *Service) ListSyncLogs(ctx context.Context, filter model.SyncLogFilter, page model.Page) (LogPage, error) {
	switch filter.Direction {
	case "", model.DirectionPush, model.DirectionPull:
	default:
		return LogPage{}, fmt.Errorf("%w: unknown direction %q", ErrInvalid, filter.Direction)
	}
	if filter.Status != "" && filter.Status != model.StatusPending && !filter.Status.Terminal() {
		return LogPage{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, filter.Status)
	}
	if page.Offset < 0 {
		return LogPage{}, fmt.Errorf("%w: offset must not be negative", ErrInvalid)
	}
	switch {
	case page.Limit <= 0:
		page.Limit = DefaultPageLimit
	case page.Limit > MaxPageLimit:
		page.Limit = MaxPageLimit
	}

	items, total, err := s.logs.List(ctx, filter, page)
	if err != nil {
		return LogPage{}, fmt.Errorf("listing sync logs: %w", err)
	}
	return LogPage{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// check runs struct validation and flattens the field errors.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// describe renders a field error as "Credentials.Username is required".
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}
