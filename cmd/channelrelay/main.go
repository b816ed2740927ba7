// Channelrelay keeps a hotel's availability, rates and reservations in sync
// with OTA distribution channels such as Booking.com and Expedia.
//
// Usage:
//
//	channelrelay init                       # write a starter config
//	channelrelay connect <channel>          # add or update channel credentials
//	channelrelay mappings add ...           # map room types to channel codes
//	channelrelay daemon [--config <path>]   # sync every active channel on an interval
//	channelrelay sync-once                  # one full pass over all channels
//	channelrelay sync <channel> [--type t]  # one operation against one channel
//	channelrelay logs [--channel ...]       # browse the sync log
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/njoerd114/channelrelay/internal/admin"
	"github.com/njoerd114/channelrelay/internal/channellock"
	"github.com/njoerd114/channelrelay/internal/config"
	"github.com/njoerd114/channelrelay/internal/events"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/secrets"
	"github.com/njoerd114/channelrelay/internal/store"
	syncp "github.com/njoerd114/channelrelay/internal/sync"
	"github.com/njoerd114/channelrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	cfgPath string
	verbose bool
}

func (g *globals) logger() *slog.Logger {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:           "channelrelay",
		Short:         "Sync hotel availability, rates and reservations with OTA channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.cfgPath, "config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCommand(g),
		newDaemonCommand(g),
		newSyncOnceCommand(g),
		newSyncCommand(g),
		newTestCommand(g),
		newConnectCommand(g),
		newConnectionsCommand(g),
		newMappingsCommand(g),
		newLogsCommand(g),
		newInventoryCommand(g),
		newBookingsCommand(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "channelrelay", version)
			},
		},
	)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nrun '%s --help' for usage", err, cmd.CommandPath())
	})
	return root
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// app holds every wired component for one command invocation.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *store.Store
	inv    *store.Inventory
	books  *store.Bookings
	orch   *syncp.Orchestrator
	engine *syncp.Engine
	svc    *admin.Service

	closers []func() error
}

// openApp loads the config and wires the stores, protocol clients, lock,
// event sinks and sync components.
func openApp(ctx context.Context, g *globals) (*app, error) {
	logger := g.logger()

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w\n\nrun 'channelrelay init' to create a config", err)
		}
		return nil, fmt.Errorf("loading config from %q: %w", g.cfgPath, err)
	}
	logger.Debug("config loaded",
		"sync_interval", cfg.SyncInterval,
		"window_days", cfg.SyncWindowDays,
		"currency", cfg.DefaultCurrency,
	)

	a := &app{cfg: cfg, log: logger}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() error {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return shutdownTel(flushCtx)
			})
		}
	}

	// --- Store ---------------------------------------------------------------

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			a.close()
			return nil, fmt.Errorf("resolving database path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	a.store = db
	a.closers = append(a.closers, db.Close)
	logger.Debug("database opened", "path", dbPath)

	box, err := secrets.NewBox(cfg.CredentialKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading credential key: %w", err)
	}

	conns := store.NewConnections(db, box)
	maps := store.NewRateMaps(db)
	logs := store.NewSyncLogs(db)
	a.inv = store.NewInventory(db)
	a.books = store.NewBookings(db)

	// --- Channels ------------------------------------------------------------

	overrides := make(map[string]ota.Endpoints, len(cfg.Channels))
	for name, ep := range cfg.Channels {
		overrides[name] = ota.Endpoints{Production: ep.Production, Sandbox: ep.Sandbox}
	}
	registry := ota.DefaultRegistry(overrides)
	clientOpts := ota.Options{Timeout: cfg.RequestTimeout, Logger: logger}

	// --- Channel lock --------------------------------------------------------

	var locker channellock.Locker = channellock.NewLocal()
	if cfg.Redis != nil {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connecting to redis at %q: %w", cfg.Redis.Addr, err)
		}
		locker = channellock.NewRedis(rdb, channellock.RedisOptions{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.LockTTL,
		}, logger)
		logger.Debug("using redis channel lock", "addr", cfg.Redis.Addr)
	}

	// --- Events --------------------------------------------------------------

	bus := events.NewBus(logger)
	if cfg.Kafka != nil {
		sink := events.NewKafkaSink(events.NewKafkaWriter(events.KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			BatchSize: cfg.Kafka.BatchSize,
		}), logger)
		bus.SubscribeAll(sink.Handle)
		a.closers = append(a.closers, sink.Close)
		logger.Debug("publishing events to kafka", "topic", cfg.Kafka.Topic)
	}

	// --- Sync ----------------------------------------------------------------

	importer := syncp.NewImporter(a.books, maps, bus, cfg.DefaultCurrency, logger)
	a.orch = syncp.NewOrchestrator(syncp.Deps{
		Connections: conns,
		RateMaps:    maps,
		SyncLogs:    logs,
		Inventory:   a.inv,
		Importer:    importer,
		Clients:     registry,
		Locker:      locker,
		Events:      bus,
	}, syncp.Settings{
		WindowDays:      cfg.SyncWindowDays,
		DefaultCurrency: cfg.DefaultCurrency,
		Client:          clientOpts,
	}, logger)
	a.engine = syncp.NewEngine(a.orch, conns, cfg.SyncInterval, logger)

	a.svc = admin.New(admin.Deps{
		Connections: conns,
		Mappings:    maps,
		SyncLogs:    logs,
		Syncer:      a.orch,
		Clients:     registry,
	}, clientOpts, logger)

	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("shutdown", "error", err)
		}
	}
	a.closers = nil
}

// withApp wires the app for the duration of fn.
func withApp(g *globals, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
