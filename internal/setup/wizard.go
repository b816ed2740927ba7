package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/njoerd114/channelrelay/internal/admin"
	"github.com/njoerd114/channelrelay/internal/config"
	"github.com/njoerd114/channelrelay/internal/model"
	"github.com/njoerd114/channelrelay/internal/ota"
	"github.com/njoerd114/channelrelay/internal/secrets"
)

// CredentialKeyEnv is the variable holding the credential key in the .env
// file written by Init.
const CredentialKeyEnv = "CHANNELRELAY_CREDENTIAL_KEY"

// ErrAborted is returned when the user declines to save.
var ErrAborted = errors.New("setup aborted")

// syncIntervals are the choices offered by Init.
var syncIntervals = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour}

// Connector is the part of the admin service the connect wizard drives.
// Implemented by [admin.Service].
type Connector interface {
	GetConnection(ctx context.Context, channel string) (*model.ChannelConnection, error)
	Probe(ctx context.Context, conn *model.ChannelConnection) (ota.TestResult, error)
	SaveConnection(ctx context.Context, conn *model.ChannelConnection) error
}

// Wizard runs the interactive setup flows.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// Init writes a starter config to cfgPath and a .env file holding a freshly
// generated credential key next to it. An existing key is kept, since
// replacing it would make stored credentials unreadable.
func (wiz *Wizard) Init(_ context.Context, cfgPath string) error {
	fmt.Fprintf(wiz.w, "\nWelcome to channelrelay!\n")
	fmt.Fprintf(wiz.w, "This wizard writes a starter configuration.\n\n")

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: storage.
	fmt.Fprintf(wiz.w, "Step 1/3 - Storage\n")
	dbPath := wiz.prompt.Optional("Database path (blank for the default location)", "")
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: sync.
	fmt.Fprintf(wiz.w, "Step 2/3 - Sync\n")
	options := make([]string, len(syncIntervals))
	def := 0
	for i, d := range syncIntervals {
		options[i] = "every " + d.String()
		if d == config.DefaultSyncInterval {
			def = i
		}
	}
	idx, err := wiz.prompt.Select("How often should every channel be synced?", options, def)
	if err != nil {
		return fmt.Errorf("selecting sync interval: %w", err)
	}
	currency := wiz.currency()
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: write files.
	fmt.Fprintf(wiz.w, "Step 3/3 - Save Configuration\n")
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	env, err := config.LoadEnv(envPath)
	if err != nil {
		return err
	}
	if env[CredentialKeyEnv] == "" {
		key, err := secrets.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating credential key: %w", err)
		}
		env[CredentialKeyEnv] = key
		if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := config.WriteEnv(envPath, env); err != nil {
			return err
		}
		fmt.Fprintf(wiz.w, "  ✓ Credential key generated in %s\n", envPath)
	} else {
		fmt.Fprintf(wiz.w, "  ✓ Keeping credential key from %s\n", envPath)
	}

	cfg := &config.Config{
		DatabasePath:    dbPath,
		CredentialKey:   "${" + CredentialKeyEnv + "}",
		SyncInterval:    syncIntervals[idx],
		DefaultCurrency: currency,
	}
	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := config.Load(cfgPath); err != nil {
		return fmt.Errorf("checking written config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	fmt.Fprintf(wiz.w, "Next steps:\n")
	fmt.Fprintf(wiz.w, "  channelrelay connect booking_com    # add channel credentials\n")
	fmt.Fprintf(wiz.w, "  channelrelay mappings add ...       # map room types to channel codes\n")
	fmt.Fprintf(wiz.w, "  channelrelay daemon                 # start scheduled sync\n\n")
	wiz.logger.Debug("starter config written", "path", cfgPath)
	return nil
}

func (wiz *Wizard) currency() string {
	for {
		c := strings.ToUpper(wiz.prompt.String("Default currency (ISO 4217)", config.DefaultCurrency))
		if len(c) == 3 && strings.Trim(c, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == "" {
			return c
		}
		fmt.Fprintf(wiz.w, "  (enter a three-letter code such as EUR)\n")
	}
}

// Connect prompts for the connection settings of channel, tests them
// against the channel, and saves the connection. A connection that fails
// the test is only saved, inactive, if the user confirms.
func (wiz *Wizard) Connect(ctx context.Context, svc Connector, channel string) error {
	existing, err := svc.GetConnection(ctx, channel)
	if err != nil && !errors.Is(err, admin.ErrNotFound) {
		return err
	}

	conn := &model.ChannelConnection{Channel: channel}
	if existing != nil {
		conn = existing
		fmt.Fprintf(wiz.w, "\nUpdating the %s connection. Press Enter to keep a value.\n\n", channel)
	} else {
		fmt.Fprintf(wiz.w, "\nConnecting %s.\n\n", channel)
	}

	// Step 1: property.
	fmt.Fprintf(wiz.w, "Step 1/3 - Property\n")
	conn.PropertyID = wiz.prompt.String("Property ID (your hotel code on the channel)", conn.PropertyID)
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: credentials.
	fmt.Fprintf(wiz.w, "Step 2/3 - Credentials\n")
	creds := &conn.Credentials
	creds.Username = wiz.prompt.String("Username", creds.Username)
	creds.Password = wiz.prompt.Secret("Password", creds.Password)
	creds.Sandbox = wiz.prompt.Confirm("Use the channel's test environment?", creds.Sandbox)
	creds.Endpoint = wiz.prompt.Optional("Custom endpoint URL", creds.Endpoint)
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: test.
	fmt.Fprintf(wiz.w, "Step 3/3 - Connection Test\n")
	fmt.Fprintf(wiz.w, "  Contacting %s...", channel)
	res, err := svc.Probe(ctx, conn)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot test %s: %w", channel, err)
	}
	if res.Success {
		fmt.Fprintf(wiz.w, " ✓ %s\n", res.Message)
		conn.Active = wiz.prompt.Confirm("Activate the channel for scheduled sync?", true)
	} else {
		fmt.Fprintf(wiz.w, " ✗ %s\n", res.Message)
		if !wiz.prompt.Confirm("Save anyway (inactive)?", false) {
			return ErrAborted
		}
		conn.Active = false
	}

	if err := svc.SaveConnection(ctx, conn); err != nil {
		return err
	}
	state := "inactive"
	if conn.Active {
		state = "active"
	}
	fmt.Fprintf(wiz.w, "  ✓ %s connection saved (%s)\n\n", channel, state)
	return nil
}
