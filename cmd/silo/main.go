package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harvestbin/silo/internal/config"
	"github.com/harvestbin/silo/internal/logging"
	"github.com/harvestbin/silo/internal/maintenance"
	"github.com/harvestbin/silo/internal/schemafile"
	"github.com/harvestbin/silo/internal/store"
	"github.com/harvestbin/silo/internal/web"
	"github.com/harvestbin/silo/internal/web/sse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port        int
	bind        string
	allowSubnet string
	dbPath      string
	schemaPath  string
	verbosity   int

	// Timeout flags (advanced)
	httpReadTimeout time.Duration
	websocketPing   time.Duration
	shutdownTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "silo",
		Short: "Silo - declarative table store over SQLite",
		Long:  `Silo serves a declarative table store over SQLite: versioned schema migration, validated CRUD, and live change feeds behind a small HTTP API.`,
		RunE:  run,
	}

	// Flags
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "./silo.db", "SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().StringVarP(&schemaPath, "schema", "s", "./schema.yaml", "Schema declaration file (or set SCHEMA_PATH env var)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&httpReadTimeout, "http-read-timeout", 30*time.Second, "Read timeout for incoming API requests")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")
	rootCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("silo %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for PORT env var if flag not set
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}

	// Check for path env vars if using defaults
	if dbPath == "./silo.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}
	if schemaPath == "./schema.yaml" {
		if envSchema := os.Getenv("SCHEMA_PATH"); envSchema != "" {
			schemaPath = envSchema
		}
	}

	// Validate port
	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}

	// Validate bind address if provided
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	// Validate and parse allow-subnet if provided
	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	setupLogging(verbosity)

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		HTTPRead:      httpReadTimeout,
		WebSocketPing: websocketPing,
		Shutdown:      shutdownTimeout,
	})

	// Warn if binding to all interfaces without an allow list
	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --bind or --allow-subnet for security.")
	}

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("allow_subnet", allowSubnet).
		Str("database", dbPath).
		Str("schema", schemaPath).
		Msg("Starting Silo")

	// Open the store
	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	if err := st.InitializeDefaults(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize default settings")
	}

	// Re-apply logging with the stored settings and a rotating file next to
	// the database.
	loader := config.NewLoader(st)
	if verbosity == 0 {
		logging.Apply(loader.JSONString("log.level", "info"), loader, logging.FilePathForDB(dbPath))
	}

	// Apply the declared schema
	versions, err := schemafile.Load(schemaPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load schema file")
	}
	if err := st.Apply(versions...); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	server := web.NewServer(st, port, bind, allowedNet)
	server.SetVersionInfo(version, commit, date)

	// Watch the schema file for live changes
	watcher, err := schemafile.New(st, schemaPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize schema file watcher")
	} else {
		watcher.OnApplied(func() {
			server.SSEBroker().Broadcast(sse.Event{
				Type: sse.EventSchemaChanged,
				Data: map[string]any{"tables": len(st.Tables())},
			})
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start schema file watcher")
		} else {
			defer watcher.Stop()
		}
	}

	// Scheduled engine maintenance
	scheduler := maintenance.New(st)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
	}
	defer scheduler.Stop()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Silo stopped")
	return nil
}

func setupLogging(verbosity int) {
	// Pretty console output
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}

	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default: // 2+
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
