package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/channelrelay/internal/admin"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/setup"
	syncp "github.com/njoerd114/channelrelay/internal/sync"
)

// --- Setup -------------------------------------------------------------------

func newInitCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config and credential key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), g.logger())
			return wiz.Init(ctx, g.cfgPath)
		},
	}
}

func newConnectCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <channel>",
		Short: "Add or update a channel connection interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), a.log)
				return wiz.Connect(ctx, a.svc, args[0])
			})
		},
	}
}

// --- Sync --------------------------------------------------------------------

func newDaemonCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run a full sync of every active channel on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				a.log.Info("daemon starting", "sync_interval", a.cfg.SyncInterval)
				if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("sync engine: %w", err)
				}
				a.log.Info("shutdown complete")
				return nil
			})
		},
	}
}

func newSyncOnceCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run one full sync of every active channel, then exit",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				stats, err := a.engine.RunOnce(ctx)
				a.log.Info("sync complete",
					"channels", stats.Channels,
					"success", stats.Success,
					"partial", stats.Partial,
					"failed", stats.Failed,
				)
				return err
			})
		},
	}
}

func newSyncCommand(g *globals) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "sync <channel>",
		Short: "Run one sync operation against a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				outs, err := a.svc.TriggerSync(ctx, args[0], admin.SyncKind(kind))
				if err != nil {
					return err
				}
				printOutcomes(cmd.OutOrStdout(), outs)
				for _, o := range outs {
					if o.Status == model.StatusFailed {
						return fmt.Errorf("%s %s failed", o.Type, o.Direction)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", string(admin.KindFull),
		"operation: availability, rates, reservations or full")
	return cmd
}

func printOutcomes(w io.Writer, outs []syncp.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tDIRECTION\tSTATUS\tRECORDS\tLOG\tMESSAGE")
	for _, o := range outs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			o.Type, o.Direction, o.Status, o.RecordsProcessed, o.SyncLogID, o.Message)
	}
	_ = tw.Flush()
	for _, o := range outs {
		for _, e := range o.Errors {
			fmt.Fprintf(w, "  %s: %s\n", o.Type, e)
		}
	}
}

// --- Connections -------------------------------------------------------------

func newTestCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "test <channel>",
		Short: "Check a channel's stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				res, err := a.svc.TestConnection(ctx, args[0])
				if err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("%s: %s", args[0], res.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", args[0], res.Message)
				return nil
			})
		},
	}
}

func newConnectionsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage channel connections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured channel connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				conns, err := a.svc.ListConnections(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CHANNEL\tPROPERTY\tACTIVE\tSANDBOX\tLAST SYNC")
				for _, c := range conns {
					last := "never"
					if c.LastSyncAt != nil {
						last = c.LastSyncAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n",
						c.Channel, c.PropertyID, c.Active, c.Credentials.Sandbox, last)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

// --- Mappings ----------------------------------------------------------------

// mappingFlags are the editable fields of a rate map.
type mappingFlags struct {
	channel  string
	roomType int64
	ratePlan int64
	roomCode string
	rateCode string
	inactive bool
}

func (f *mappingFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.channel, "channel", "", "channel name")
	fl.Int64Var(&f.roomType, "room-type", 0, "local room type ID")
	fl.Int64Var(&f.ratePlan, "rate-plan", model.BaseRatePlan, "local rate plan ID (0 for the base rate)")
	fl.StringVar(&f.roomCode, "room-code", "", "channel room code")
	fl.StringVar(&f.rateCode, "rate-code", "", "channel rate code")
	fl.BoolVar(&f.inactive, "inactive", false, "store the mapping without using it")
}

// apply copies the flags the user set onto m.
func (f *mappingFlags) apply(cmd *cobra.Command, m *model.RateMap) {
	fl := cmd.Flags()
	if fl.Changed("channel") {
		m.Channel = f.channel
	}
	if fl.Changed("room-type") {
		m.RoomTypeID = f.roomType
	}
	if fl.Changed("rate-plan") {
		m.RatePlanID = f.ratePlan
	}
	if fl.Changed("room-code") {
		m.ChannelRoomCode = f.roomCode
	}
	if fl.Changed("rate-code") {
		m.ChannelRateCode = f.rateCode
	}
	if fl.Changed("inactive") {
		m.Active = !f.inactive
	}
}

func newMappingsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage room and rate mappings",
	}

	var listChannel string
	list := &cobra.Command{
		Use:   "list",
		Short: "List mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				maps, err := a.svc.ListMappings(ctx, listChannel)
				if err != nil {
					return err
				}
				printMappings(cmd.OutOrStdout(), maps)
				return nil
			})
		},
	}
	list.Flags().StringVar(&listChannel, "channel", "", "only list this channel")

	addFlags := &mappingFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				m := &model.RateMap{Active: true}
				addFlags.apply(cmd, m)
				if err := a.svc.CreateMapping(ctx, m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ mapping %d created\n", m.ID)
				return nil
			})
		},
	}
	addFlags.register(add)

	updateFlags := &mappingFlags{}
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the fields of a mapping given by flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(g, func(ctx context.Context, a *app) error {
				m, err := a.svc.GetMapping(ctx, id)
				if err != nil {
					return err
				}
				updateFlags.apply(cmd, m)
				if err := a.svc.UpdateMapping(ctx, m); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ mapping %d updated\n", m.ID)
				return nil
			})
		},
	}
	updateFlags.register(update)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(g, func(ctx context.Context, a *app) error {
				if err := a.svc.DeleteMapping(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ mapping %d deleted\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, update, del)
	return cmd
}

func printMappings(w io.Writer, maps []*model.RateMap) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHANNEL\tROOM TYPE\tRATE PLAN\tROOM CODE\tRATE CODE\tACTIVE")
	for _, m := range maps {
		plan := strconv.FormatInt(m.RatePlanID, 10)
		if m.IsBaseRate() {
			plan = "base"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%t\n",
			m.ID, m.Channel, m.RoomTypeID, plan, m.ChannelRoomCode, m.ChannelRateCode, m.Active)
	}
	_ = tw.Flush()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// --- Sync log ----------------------------------------------------------------

func newLogsCommand(g *globals) *cobra.Command {
	var (
		filter model.SyncLogFilter
		dir    string
		status string
		page   model.Page
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Browse the sync log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Direction = model.Direction(dir)
			filter.Status = model.SyncStatus(status)
			return withApp(g, func(ctx context.Context, a *app) error {
				p, err := a.svc.ListSyncLogs(ctx, filter, page)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTARTED\tCHANNEL\tDIRECTION\tTYPE\tSTATUS\tRECORDS\tERRORS")
				for _, l := range p.Items {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						l.ID, l.StartedAt.Local().Format(time.DateTime), l.Channel,
						l.Direction, l.Type, l.Status, l.RecordsProcessed, l.ErrorText)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\npage %d of %d (%d entries)", p.Page(), p.Pages(), p.Total)
				if p.HasNext() {
					fmt.Fprintf(out, ", next: --offset %d", p.Offset+p.Limit)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&filter.Channel, "channel", "", "only this channel")
	fl.StringVar(&dir, "direction", "", "push or pull")
	fl.StringVar(&status, "status", "", "pending, success, partial or failed")
	fl.IntVar(&page.Limit, "limit", admin.DefaultPageLimit, "entries per page")
	fl.IntVar(&page.Offset, "offset", 0, "entries to skip")
	return cmd
}

// --- Local data --------------------------------------------------------------

// dateRange parses the --date and optional --to flags into the inclusive
// list of days they cover.
func dateRange(from, to string) ([]time.Time, error) {
	start, err := model.ParseDay(from)
	if err != nil {
		return nil, fmt.Errorf("invalid --date %q: %w", from, err)
	}
	end := start
	if to != "" {
		if end, err = model.ParseDay(to); err != nil {
			return nil, fmt.Errorf("invalid --to %q: %w", to, err)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("--to %s is before --date %s", to, from)
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

func newInventoryCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Edit local availability and prices",
	}

	var (
		availFrom, availTo string
		availDay           model.InventoryDay
	)
	avail := &cobra.Command{
		Use:   "set-availability",
		Short: "Set the rooms available for a room type over a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, err := dateRange(availFrom, availTo)
			if err != nil {
				return err
			}
			return withApp(g, func(ctx context.Context, a *app) error {
				for _, d := range days {
					row := availDay
					row.Date = d
					if err := a.inv.UpsertAvailability(ctx, row); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ availability set for %d day(s)\n", len(days))
				return nil
			})
		},
	}
	fl := avail.Flags()
	fl.StringVar(&availFrom, "date", time.Now().UTC().Format(model.DateLayout), "first date (YYYY-MM-DD)")
	fl.StringVar(&availTo, "to", "", "last date, inclusive (default: --date)")
	fl.Int64Var(&availDay.RoomTypeID, "room-type", 0, "local room type ID")
	fl.IntVar(&availDay.AvailableRooms, "rooms", 0, "rooms available")
	fl.IntVar(&availDay.MinStay, "min-stay", 1, "minimum length of stay")
	fl.BoolVar(&availDay.StopSell, "stop-sell", false, "close the room type for sale")
	_ = avail.MarkFlagRequired("room-type")

	var (
		rateFrom, rateTo string
		rateDay          model.RateDay
	)
	rate := &cobra.Command{
		Use:   "set-rate",
		Short: "Set the price of a room type and rate plan over a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, err := dateRange(rateFrom, rateTo)
			if err != nil {
				return err
			}
			return withApp(g, func(ctx context.Context, a *app) error {
				for _, d := range days {
					row := rateDay
					row.Date = d
					if row.Currency == "" {
						row.Currency = a.cfg.DefaultCurrency
					}
					if err := a.inv.UpsertRate(ctx, row); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ rate set for %d day(s)\n", len(days))
				return nil
			})
		},
	}
	fl = rate.Flags()
	fl.StringVar(&rateFrom, "date", time.Now().UTC().Format(model.DateLayout), "first date (YYYY-MM-DD)")
	fl.StringVar(&rateTo, "to", "", "last date, inclusive (default: --date)")
	fl.Int64Var(&rateDay.RoomTypeID, "room-type", 0, "local room type ID")
	fl.Int64Var(&rateDay.RatePlanID, "rate-plan", model.BaseRatePlan, "local rate plan ID (0 for the base rate)")
	fl.Float64Var(&rateDay.Price, "price", 0, "price per night")
	fl.StringVar(&rateDay.Currency, "currency", "", "ISO 4217 currency (default: config default_currency)")
	_ = rate.MarkFlagRequired("room-type")
	_ = rate.MarkFlagRequired("price")

	cmd.AddCommand(avail, rate)
	return cmd
}

func newBookingsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "Inspect imported bookings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <channel>",
		Short: "List bookings imported from a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				bks, err := a.books.ListBySource(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tREFERENCE\tCHECK-IN\tCHECK-OUT\tROOM TYPE\tGUESTS\tTOTAL")
				for _, b := range bks {
					room := "-"
					if b.RoomTypeID != nil {
						room = strconv.FormatInt(*b.RoomTypeID, 10)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%.2f %s\n",
						b.ID, b.ChannelBookingID,
						b.CheckIn.Format(model.DateLayout), b.CheckOut.Format(model.DateLayout),
						room, b.Guests, b.TotalAmount, b.Currency)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}
