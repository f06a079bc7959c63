package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/store"
)

// RootOptions holds the resolved global configuration for all commands.
//
// Values come from flags, TESSERA_* environment variables, a tessera.yaml
// config file and defaults, in that order of precedence.
type RootOptions struct {
	ConfigFile    string
	Verbose       bool
	Format        string // "json" | "text"
	Database      string
	StatsCapacity int
	CacheTTL      time.Duration

	v      *viper.Viper
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// EnvPrefix prefixes environment overrides, e.g. TESSERA_CACHE_TTL.
const EnvPrefix = "TESSERA"

// NewRootCommand creates the root command for the tessera CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "tessera",
		Short: "tessera - reactive entity models",
		Long: `Declare entity types in CUE, drive them through YAML scenarios and
inspect the change events they fire.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default: ./tessera.yaml if present)")
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.String("format", "text", "output format (json|text)")
	pf.String("db", "", "path to SQLite database")
	pf.Int("stats-capacity", core.DefaultStatCapacity, "default number of retained statistics samples")
	pf.Duration("cache-ttl", store.DefaultCacheTTL, "value cache TTL for database-backed fields (0 disables)")

	_ = opts.v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = opts.v.BindPFlag("format", pf.Lookup("format"))
	_ = opts.v.BindPFlag("db", pf.Lookup("db"))
	_ = opts.v.BindPFlag("stats.capacity", pf.Lookup("stats-capacity"))
	_ = opts.v.BindPFlag("cache.ttl", pf.Lookup("cache-ttl"))

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// load reads the config file and environment and resolves every key.
func (o *RootOptions) load() error {
	v := o.v
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
	} else {
		v.SetConfigName("tessera")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.ConfigFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	o.Database = v.GetString("db")
	o.StatsCapacity = v.GetInt("stats.capacity")
	o.CacheTTL = v.GetDuration("cache.ttl")

	if !slices.Contains(ValidFormats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if o.StatsCapacity < 1 {
		return fmt.Errorf("stats.capacity must be positive, got %d", o.StatsCapacity)
	}
	return nil
}

// Logger returns the logger configured for this invocation.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured database, failing with a command error
// if none is configured.
func (o *RootOptions) openStore() (*store.Store, error) {
	if o.Database == "" {
		return nil, NewExitError(ExitCommandError, "no database configured (use --db, TESSERA_DB or db: in tessera.yaml)")
	}
	st, err := store.Open(o.Database, store.WithCacheTTL(o.CacheTTL), store.WithLogger(o.Logger()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newLogger writes warnings to w, or everything down to debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
