package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TrackPipe/internal/api"
	"github.com/BTreeMap/TrackPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir holds the lock file and the default SQLite databases.
	DefaultStateDir = "/var/lib/trackpipe"
	// DefaultAppDBFileName is the tracking database created in the state directory.
	DefaultAppDBFileName = "trackpipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow device store created in the state directory.
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds the merged environment and flag configuration.
type Config struct {
	StateDir    string
	DatabaseDSN string
	WhatsAppDSN string
	Transport   string

	QROutput    string
	NumericCode bool

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	OpenAIKey   string
	APIAddr     string
	APIToken    string
	PublicURL   string
	Timezone    string
	IdleTimeout time.Duration
	Debug       bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := parseFlags(loadEnvironmentConfig(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TrackPipe",
		"transport", cfg.Transport, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr,
		"timezone", cfg.Timezone, "idle_timeout", cfg.IdleTimeout, "genai", cfg.OpenAIKey != "")
	if err := run(ctx, cfg); err != nil {
		slog.Error("TrackPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TrackPipe exited successfully")
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig reads TrackPipe's environment variables. Database DSNs stay
// empty when unset; parseFlags derives them from the final state directory.
func loadEnvironmentConfig() Config {
	cfg := Config{
		StateDir:         util.EnvOr("TRACKPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN:      util.EnvOr("TRACKPIPE_DB_DSN", os.Getenv("DATABASE_URL")),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		Transport:        strings.ToLower(util.EnvOr("TRACKPIPE_TRANSPORT", TransportWhatsApp)),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          util.EnvOr("API_ADDR", api.DefaultAddr),
		APIToken:         os.Getenv("TRACKPIPE_API_TOKEN"),
		PublicURL:        os.Getenv("TRACKPIPE_PUBLIC_URL"),
		Timezone:         util.EnvOr("TRACKPIPE_TIMEZONE", "Local"),
		IdleTimeout:      util.ParseDurationEnv("TRACKPIPE_IDLE_TIMEOUT", 0),
		Debug:            util.ParseBoolEnv("TRACKPIPE_DEBUG", false),
	}
	return cfg
}

// applyStateDirDefaults points unset database DSNs at files in the state directory.
func applyStateDirDefaults(cfg *Config) {
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// parseFlags applies command line overrides on top of the environment config.
func parseFlags(env Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("trackpipe", flag.ContinueOnError)
	cfg := env
	fs.StringVar(&cfg.StateDir, "state-dir", env.StateDir, "state directory (overrides $TRACKPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseDSN, "db-dsn", env.DatabaseDSN, "tracking database DSN (overrides $TRACKPIPE_DB_DSN / $DATABASE_URL)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", env.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.Transport, "transport", env.Transport, "whatsapp or twilio (overrides $TRACKPIPE_TRANSPORT)")
	fs.StringVar(&cfg.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", false, "use a numeric WhatsApp login code instead of a QR code")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", env.OpenAIKey, "OpenAI API key for nutrition estimates (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.APIAddr, "api-addr", env.APIAddr, "API listen address (overrides $API_ADDR)")
	fs.StringVar(&cfg.PublicURL, "public-url", env.PublicURL, "public base URL of the API (overrides $TRACKPIPE_PUBLIC_URL)")
	fs.StringVar(&cfg.Timezone, "timezone", env.Timezone, "IANA zone that decides which day a record belongs to (overrides $TRACKPIPE_TIMEZONE)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", env.IdleTimeout, "abandon forms idle this long, 0 disables (overrides $TRACKPIPE_IDLE_TIMEOUT)")
	fs.BoolVar(&cfg.Debug, "debug", env.Debug, "debug logging (overrides $TRACKPIPE_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	applyStateDirDefaults(&cfg)

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport != TransportWhatsApp && cfg.Transport != TransportTwilio {
		return Config{}, fmt.Errorf("unknown transport %q: want %s or %s", cfg.Transport, TransportWhatsApp, TransportTwilio)
	}
	if cfg.IdleTimeout < 0 {
		return Config{}, errors.New("idle timeout must not be negative")
	}
	return cfg, nil
}

// location resolves the configured zone; "Local" and "" mean the host zone.
func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
