package ota

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/njoerd114/channelrelay/internal/model"
)

var (
	// ErrUnknownChannel is returned when no factory is registered for a
	// channel name.
	ErrUnknownChannel = errors.New("ota: unknown channel")

	// ErrNoEndpoint is returned when neither a custom endpoint nor a URL for
	// the selected environment is available.
	ErrNoEndpoint = errors.New("ota: no endpoint configured")
)

// Built-in channel names.
const (
	ChannelBookingCom = "booking_com"
	ChannelExpedia    = "expedia"
	ChannelGeneric    = "generic_ota"
)

// Options configures clients created by a [Factory].
type Options struct {
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Its own Timeout is used as is.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Endpoints are the per-environment base URLs of a channel.
type Endpoints struct {
	Production string
	Sandbox    string
}

// Resolve picks the base URL for creds: a custom endpoint wins over both
// environments, otherwise Sandbox selects between them.
func (e Endpoints) Resolve(creds model.Credentials) (string, error) {
	switch {
	case creds.Endpoint != "":
		return creds.Endpoint, nil
	case creds.Sandbox && e.Sandbox != "":
		return e.Sandbox, nil
	case creds.Sandbox:
		return "", fmt.Errorf("%w: no sandbox URL", ErrNoEndpoint)
	case e.Production != "":
		return e.Production, nil
	default:
		return "", fmt.Errorf("%w: no production URL", ErrNoEndpoint)
	}
}

// merge overlays the non-empty fields of o.
func (e Endpoints) merge(o Endpoints) Endpoints {
	if o.Production != "" {
		e.Production = o.Production
	}
	if o.Sandbox != "" {
		e.Sandbox = o.Sandbox
	}
	return e
}

// builtinEndpoints are the default URLs of the channels known out of the box.
// generic_ota has none and requires a custom endpoint per connection.
var builtinEndpoints = map[string]Endpoints{
	ChannelBookingCom: {
		Production: "https://supply-xml.booking.com/hotels/ota",
		Sandbox:    "https://supply-xml.booking.com/hotels/ota/test",
	},
	ChannelExpedia: {
		Production: "https://services.expediapartnercentral.com/eqc/ota",
		Sandbox:    "https://simulator.expediaquickconnect.com/connect/ota",
	},
	ChannelGeneric: {},
}

// Factory builds a [Client] for a stored connection.
type Factory func(conn *model.ChannelConnection, opts Options) (Client, error)

// HTTPFactory returns a Factory producing [HTTPClient]s that resolve their
// base URL from ep.
func HTTPFactory(ep Endpoints) Factory {
	return func(conn *model.ChannelConnection, opts Options) (Client, error) {
		base, err := ep.Resolve(conn.Credentials)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", conn.Channel, err)
		}
		return NewHTTPClient(conn.Channel, base, conn.PropertyID, conn.Credentials, opts), nil
	}
}

// Registry maps channel names to client factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in channels. Entries in
// overrides replace individual URLs of a built-in channel, or register a new
// OTA channel under that name.
func DefaultRegistry(overrides map[string]Endpoints) *Registry {
	r := NewRegistry()
	for name, ep := range builtinEndpoints {
		r.Register(name, HTTPFactory(ep.merge(overrides[name])))
	}
	for name, ep := range overrides {
		if _, builtin := builtinEndpoints[name]; !builtin {
			r.Register(name, HTTPFactory(ep))
		}
	}
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether a factory is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New builds a client for conn using the factory registered for its channel.
func (r *Registry) New(conn *model.ChannelConnection, opts Options) (Client, error) {
	r.mu.RLock()
	f, ok := r.factories[conn.Channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, conn.Channel)
	}
	return f(conn, opts)
}
