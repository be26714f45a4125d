package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
)

const envPrefix = "BYB"

const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
	HistoryMongo    = "mongo"
	HistoryNone     = "none"
)

type Config struct {
	Bind           string
	Port           int
	Prefix         string
	Verbose        bool
	LogFormat      string
	AllowedOrigins []string
	JoinURL        string

	DefaultTimer  time.Duration
	DefaultRounds int
	EmptyGrace    time.Duration
	RoomInbox     int
	ClientBuffer  int
	RateLimit     float64
	RateBurst     int

	HistoryBackend string
	PostgresDSN    string
	MongoURI       string
	MongoDatabase  string
	RedisAddr      string

	ShutdownTimeout time.Duration
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// Settings returns the lobby defaults every new room starts with.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		TimerSeconds: int(c.DefaultTimer / time.Second),
		MaxRounds:    c.DefaultRounds,
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		errs = append(errs, fmt.Errorf("prefix must start with /: %q", c.Prefix))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (json|console)", c.LogFormat))
	}

	secs := int(c.DefaultTimer / time.Second)
	if c.DefaultTimer%time.Second != 0 || secs < engine.MinTimerSeconds || secs > engine.MaxTimerSeconds {
		errs = append(errs, fmt.Errorf("default timer must be whole seconds between %ds and %ds: %s",
			engine.MinTimerSeconds, engine.MaxTimerSeconds, c.DefaultTimer))
	}
	if c.DefaultRounds < engine.MinRounds || c.DefaultRounds > engine.MaxRounds {
		errs = append(errs, fmt.Errorf("default rounds must be between %d and %d: %d",
			engine.MinRounds, engine.MaxRounds, c.DefaultRounds))
	}
	if c.EmptyGrace < 0 {
		errs = append(errs, errors.New("empty room grace cannot be negative"))
	}
	if c.RoomInbox < 1 || c.ClientBuffer < 1 {
		errs = append(errs, errors.New("room inbox and client buffer must be positive"))
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		errs = append(errs, errors.New("rate limit and burst must be positive"))
	}

	switch c.HistoryBackend {
	case HistoryMemory, HistoryNone:
	case HistoryPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("--postgres-dsn is required with --history-backend=postgres"))
		}
	case HistoryMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("--mongo-uri is required with --history-backend=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history backend %q", c.HistoryBackend))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}

// NewCommand builds the root command. Flags fall back to BYB_* environment
// variables; run receives the validated config.
func NewCommand(version string, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	cfg := &Config{}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "back-your-boy",
		Short:   "Game server for Back Your Boy rooms.",
		Args:    cobra.ExactArgs(0),
		Version: version,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			applyEnv(cmd.Flags(), v)
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: BYB_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8000, "port to listen on (env: BYB_PORT)")
	fs.StringVar(&cfg.Prefix, "prefix", "", "path to prepend to all routes, for use behind reverse proxy (env: BYB_PREFIX)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level (env: BYB_VERBOSE)")
	fs.StringVar(&cfg.LogFormat, "log-format", "json", "log encoding, json or console (env: BYB_LOG_FORMAT)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", []string{"*"}, "origins allowed to open sockets and call the API (env: BYB_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.JoinURL, "join-url", "", "client URL encoded in room QR codes, defaults to this server (env: BYB_JOIN_URL)")

	fs.DurationVar(&cfg.DefaultTimer, "default-timer", time.Duration(engine.DefaultTimer)*time.Second, "performance timer for new rooms (env: BYB_DEFAULT_TIMER)")
	fs.IntVar(&cfg.DefaultRounds, "default-rounds", engine.DefaultRounds, "rounds per game for new rooms (env: BYB_DEFAULT_ROUNDS)")
	fs.DurationVar(&cfg.EmptyGrace, "empty-room-grace", 2*time.Minute, "time an empty room stays open, 0 keeps it forever (env: BYB_EMPTY_ROOM_GRACE)")
	fs.IntVar(&cfg.RoomInbox, "room-inbox", 64, "queued actions per room (env: BYB_ROOM_INBOX)")
	fs.IntVar(&cfg.ClientBuffer, "client-buffer", 16, "queued snapshots per socket before it is dropped (env: BYB_CLIENT_BUFFER)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 20, "inbound messages per second per socket (env: BYB_RATE_LIMIT)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", 40, "inbound message burst per socket (env: BYB_RATE_BURST)")

	fs.StringVar(&cfg.HistoryBackend, "history-backend", HistoryMemory, "round history store: memory, postgres, mongo or none (env: BYB_HISTORY_BACKEND)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "postgres connection string (env: BYB_POSTGRES_DSN)")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", "", "mongodb connection uri (env: BYB_MONGO_URI)")
	fs.StringVar(&cfg.MongoDatabase, "mongo-database", "back_your_boy_db", "mongodb database name (env: BYB_MONGO_DATABASE)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for a room code ledger shared between servers (env: BYB_REDIS_ADDR)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for graceful shutdown (env: BYB_SHUTDOWN_TIMEOUT)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("back-your-boy v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// applyEnv fills every flag not given on the command line from the environment.
func applyEnv(fs *pflag.FlagSet, v *viper.Viper) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
