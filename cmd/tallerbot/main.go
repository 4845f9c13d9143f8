package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rsautomocion/tallerbot/internal/api"
	"github.com/rsautomocion/tallerbot/internal/bot"
	"github.com/rsautomocion/tallerbot/internal/lockfile"
	"github.com/rsautomocion/tallerbot/internal/messaging"
	"github.com/rsautomocion/tallerbot/internal/models"
	"github.com/rsautomocion/tallerbot/internal/scheduler"
	"github.com/rsautomocion/tallerbot/internal/storage"
	"github.com/rsautomocion/tallerbot/internal/store"
	"github.com/rsautomocion/tallerbot/internal/twiliowhatsapp"
	"github.com/rsautomocion/tallerbot/internal/util"
	"github.com/rsautomocion/tallerbot/internal/whatsapp"
	"github.com/rsautomocion/tallerbot/internal/wizard"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TallerBot state data
	DefaultStateDir = "/var/lib/tallerbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tallerbot.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow session store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTarifaHora is the workshop hourly labour rate in euros
	DefaultTarifaHora = 40.0
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping TallerBot with configured modules")
	if err := run(flags); err != nil {
		slog.Error("TallerBot failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("TallerBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	WhatsAppDSN   string
	RedisURL      string
	Backend       string
	SupabaseURL   string
	SupabaseKey   string
	Bucket        string
	APIAddr       string
	TarifaHora    float64
	EmpresaNombre string
	EmpresaNIF    string
	EmpresaDir    string
	EmpresaCiudad string
	EmpresaTel    string
	EmpresaEmail  string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	dbDSN       *string
	redisURL    *string
	backend     *string
	apiAddr     *string
	tarifaHora  *float64
	supabaseURL *string
	supabaseKey *string
	bucket      *string
	config      Config
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("TALLERBOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      util.GetEnvDefault("TALLERBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		RedisURL:      os.Getenv("REDIS_URL"),
		Backend:       util.GetEnvDefault("MESSAGING_BACKEND", "whatsmeow"),
		SupabaseURL:   os.Getenv("SUPABASE_URL"),
		SupabaseKey:   os.Getenv("SUPABASE_KEY"),
		Bucket:        util.GetEnvDefault("SUPABASE_BUCKET", storage.DefaultBucket),
		APIAddr:       util.GetEnvDefault("API_ADDR", api.DefaultAddr),
		TarifaHora:    util.ParseFloatEnv("TARIFA_HORA", DefaultTarifaHora),
		EmpresaNombre: util.GetEnvDefault("EMPRESA_NOMBRE", "R&S Automoción S.L."),
		EmpresaNIF:    os.Getenv("EMPRESA_NIF"),
		EmpresaDir:    os.Getenv("EMPRESA_DIRECCION"),
		EmpresaCiudad: os.Getenv("EMPRESA_CIUDAD"),
		EmpresaTel:    os.Getenv("EMPRESA_TELEFONO"),
		EmpresaEmail:  os.Getenv("EMPRESA_EMAIL"),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment variables loaded",
		"TALLERBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"MESSAGING_BACKEND", config.Backend,
		"SUPABASE_URL_SET", config.SupabaseURL != "",
		"API_ADDR", config.APIAddr,
		"TARIFA_HORA", config.TarifaHora)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for TallerBot data (overrides $TALLERBOT_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the repository (overrides $DATABASE_URL)"),
		redisURL:    flag.String("redis-url", config.RedisURL, "Redis URL for wizard sessions (overrides $REDIS_URL)"),
		backend:     flag.String("messaging-backend", config.Backend, "messaging backend: whatsmeow or twilio (overrides $MESSAGING_BACKEND)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		tarifaHora:  flag.Float64("tarifa-hora", config.TarifaHora, "hourly labour rate in euros (overrides $TARIFA_HORA)"),
		supabaseURL: flag.String("supabase-url", config.SupabaseURL, "Supabase project URL for invoice PDFs (overrides $SUPABASE_URL)"),
		supabaseKey: flag.String("supabase-key", config.SupabaseKey, "Supabase service key (overrides $SUPABASE_KEY)"),
		bucket:      flag.String("supabase-bucket", config.Bucket, "Supabase storage bucket (overrides $SUPABASE_BUCKET)"),
		config:      config,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"backend", *flags.backend,
		"apiAddr", *flags.apiAddr,
		"tarifaHora", *flags.tarifaHora)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

// buildStore opens the repository backend selected by the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Info("Using SQLite store", "path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildSessionStore selects Redis when configured, in-memory otherwise. The
// returned sweeper is nil for backends that expire sessions on their own.
func buildSessionStore(flags Flags) (wizard.SessionStore, scheduler.SessionSweeper, error) {
	if *flags.redisURL != "" {
		opt, err := redis.ParseURL(*flags.redisURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Redis wizard session store")
		return wizard.NewRedisStore(redis.NewClient(opt), wizard.DefaultIdleTimeout), nil, nil
	}
	slog.Info("Using in-memory wizard session store")
	mem := wizard.NewMemoryStore(wizard.DefaultIdleTimeout)
	return mem, mem, nil
}

// buildMessagingService wires the selected chat transport.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.backend == "twilio" {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Twilio messaging backend")
		return messaging.NewTwilioService(client), nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(flags.config.WhatsAppDSN))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Using whatsmeow messaging backend")
	return messaging.NewWhatsAppService(client), nil
}

// buildUploader wires Supabase storage when configured, local disk otherwise.
func buildUploader(flags Flags) (storage.Uploader, error) {
	if *flags.supabaseURL != "" && *flags.supabaseKey != "" {
		slog.Info("Using Supabase invoice storage", "bucket", *flags.bucket)
		return storage.NewSupabaseStorage(
			storage.WithBaseURL(*flags.supabaseURL),
			storage.WithAPIKey(*flags.supabaseKey),
			storage.WithBucket(*flags.bucket),
		)
	}
	dir := filepath.Join(*flags.stateDir, "facturas")
	slog.Info("Using local invoice storage", "dir", dir)
	return storage.NewLocalStorage(dir)
}

func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, sweeper, err := buildSessionStore(flags)
	if err != nil {
		return err
	}

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	uploader, err := buildUploader(flags)
	if err != nil {
		return err
	}

	empresa := models.Empresa{
		Nombre:    flags.config.EmpresaNombre,
		NIF:       flags.config.EmpresaNIF,
		Direccion: flags.config.EmpresaDir,
		Ciudad:    flags.config.EmpresaCiudad,
		Telefono:  flags.config.EmpresaTel,
		Email:     flags.config.EmpresaEmail,
	}

	registry := wizard.NewRegistry(wizard.BuiltinTemplates()...)
	if err := registry.Validate(); err != nil {
		return err
	}
	committers := bot.NewCommitters(st, uploader, empresa, *flags.tarifaHora)
	engine := wizard.NewEngine(registry, sessions, committers.Bindings())
	if err := engine.ValidateBindings(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleVencidas("", st); err != nil {
		return err
	}
	if sweeper != nil {
		if err := sched.ScheduleSessionSweep("", sweeper); err != nil {
			return err
		}
	}

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilioSvc.WebhookHandler))
	}
	server := api.NewServer(st, apiOpts...)
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
	}()

	gateway := bot.New(msgService, engine, st)
	if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
