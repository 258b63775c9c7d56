package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnieminen/libctl/internal/config"
	"github.com/mnieminen/libctl/internal/itemref"
	"github.com/mnieminen/libctl/internal/libops"
	"github.com/mnieminen/libctl/internal/sessionjournal"
	"github.com/mnieminen/libctl/internal/vapi"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServer     string
	flagUsername   string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// metaTimeout bounds metadata requests. Transfer requests get no timeout —
// a large upload chunk legitimately takes longer than any fixed cap.
const metaTimeout = 30 * time.Second

// journalFileName is the session journal database under the data dir.
const journalFileName = "sessions.db"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "libctl",
		Short:   "Content library transfer client",
		Long:    "libctl uploads, imports, and removes files of content library items through update sessions.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServer, "server", "", "management server (host or URL)")
	cmd.PersistentFlags().StringVar(&flagUsername, "username", "", "username for session login")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newRmFileCmd())
	cmd.AddCommand(newItemsCmd())
	cmd.AddCommand(newSessionCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result for use by subcommands.
func loadConfig() error {
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Server:     flagServer,
		Username:   flagUsername,
	}

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level is the baseline; --verbose and --quiet
// override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// clients holds everything a verb needs to talk to the service.
type clients struct {
	meta     *vapi.Client // metadata ops (30s timeout)
	transfer *vapi.Client // chunk uploads (no timeout)
	resolver *itemref.Resolver
	journal  *sessionjournal.Journal
	logger   *slog.Logger
}

// newClients wires the API clients, reference resolver, and session journal
// from the resolved configuration. Close the returned clients when done.
func newClients() (*clients, error) {
	logger := buildLogger()
	baseURL := resolvedCfg.APIBaseURL()

	var transport http.RoundTripper
	if resolvedCfg.Insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in via config
		}
	}

	metaHTTP := &http.Client{Timeout: metaTimeout, Transport: transport}
	transferHTTP := &http.Client{Transport: transport}

	creds := vapi.Credentials{
		Username: resolvedCfg.Username,
		Password: resolvedCfg.Password,
	}
	tokens := vapi.NewSessionTokenSource(baseURL, metaHTTP, creds, logger)

	meta := vapi.NewClient(baseURL, metaHTTP, tokens, logger)
	transfer := vapi.NewClient(baseURL, transferHTTP, tokens, logger)

	if err := os.MkdirAll(resolvedCfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", resolvedCfg.DataDir, err)
	}

	journal, err := sessionjournal.Open(filepath.Join(resolvedCfg.DataDir, journalFileName), logger)
	if err != nil {
		return nil, err
	}

	return &clients{
		meta:     meta,
		transfer: transfer,
		resolver: itemref.NewResolver(meta, logger),
		journal:  journal,
		logger:   logger,
	}, nil
}

// close releases resources held by the clients.
func (c *clients) close() {
	if err := c.journal.Close(); err != nil {
		c.logger.Warn("closing session journal", slog.String("error", err.Error()))
	}
}

// newOrchestrator builds the transfer orchestrator on top of the clients.
func (c *clients) newOrchestrator() *libops.Orchestrator {
	chunkSize := int64(resolvedCfg.ChunkSizeMiB) * 1024 * 1024
	driver := libops.NewDriver(c.transfer, chunkSize, c.logger)
	lease := libops.NewLeaseClock(resolvedCfg.KeepAliveInterval.Std())

	o := libops.NewOrchestrator(c.meta, driver, c.journal, lease, c.logger)
	o.PollInterval = resolvedCfg.PollInterval.Std()

	return o
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
