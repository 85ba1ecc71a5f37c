// mbn-addressd - MambaNet address server
//
// This is the main entry point for the address server. It owns the node
// registry, answers address requests from the bus, tracks node presence
// and serves the line-oriented admin socket used by operators and other
// processes to inspect and manage nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/mbn-address/migrations"

	"github.com/nerrad567/mbn-address/internal/admin"
	"github.com/nerrad567/mbn-address/internal/api"
	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/engine"
	"github.com/nerrad567/mbn-address/internal/infrastructure/config"
	"github.com/nerrad567/mbn-address/internal/infrastructure/database"
	"github.com/nerrad567/mbn-address/internal/infrastructure/influxdb"
	"github.com/nerrad567/mbn-address/internal/infrastructure/logging"
	"github.com/nerrad567/mbn-address/internal/infrastructure/mqtt"
	"github.com/nerrad567/mbn-address/internal/node"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errHelp signals that usage was printed and the process should exit 0.
var errHelp = errors.New("help requested")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line settings.
type options struct {
	configPath  string
	showVersion bool
}

// parseFlags reads command-line flags. The config path falls back to
// MBNADDRESS_CONFIG, then the default path.
func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("mbn-addressd", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv("MBNADDRESS_CONFIG")
	}
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error { //nolint:gocognit,funlen // Startup sequence wires every component
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("mbn-addressd %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting mbn-addressd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath)

	firstAddress, err := cfg.FirstAddress()
	if err != nil {
		return fmt.Errorf("reading allocator config: %w", err)
	}
	socketMode, err := cfg.SocketFileMode()
	if err != nil {
		return fmt.Errorf("reading admin config: %w", err)
	}

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := node.NewSQLiteRepository(db.DB, node.Address(firstAddress))

	// Connect to MQTT broker
	topics := mqtt.Topics{Prefix: cfg.Bus.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	transport := bus.NewTransport(mqttClient, topics, cfg.Bus.EventQueueSize, log.With("component", "bus"))
	if startErr := transport.Start(); startErr != nil {
		return fmt.Errorf("subscribing to bus: %w", startErr)
	}

	engineOpts := []engine.Option{engine.WithLogger(log.With("component", "engine"))}
	checks := map[string]api.HealthChecker{"database": db, "mqtt": mqttClient}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engineOpts = append(engineOpts, engine.WithDiagnostics(influxClient))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	eng := engine.New(store, transport, engineOpts...)

	adminLog := log.With("component", "admin")
	adminServer := admin.NewServer(admin.Config{
		SocketPath:      cfg.Admin.SocketPath,
		SocketMode:      socketMode,
		MaxSessions:     cfg.Admin.MaxSessions,
		OutputQueueSize: cfg.Admin.OutputQueueSize,
		MaxLineLength:   cfg.Admin.MaxLineLength,
	}, admin.NewDispatcher(eng, adminLog), eng, transport.Events(), adminLog)
	if listenErr := adminServer.Listen(); listenErr != nil {
		return fmt.Errorf("starting admin socket: %w", listenErr)
	}
	defer func() {
		if closeErr := adminServer.Close(); closeErr != nil {
			log.Error("error closing admin socket", "error", closeErr)
		}
	}()
	eng.AddNotifier(adminServer)

	// Start HTTP status API (optional)
	if cfg.API.Enabled {
		apiLog := log.With("component", "api")
		hub := api.NewHub(cfg.WebSocket, apiLog)
		go hub.Run(ctx)
		eng.AddNotifier(hub)

		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   apiLog,
			Nodes:    eng,
			Hub:      hub,
			Checks:   checks,
			MQTT:     mqttClient,
			Bus:      transport,
			Sessions: adminServer,
			DB:       db,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// Ask every node to announce itself so presence is rebuilt after a restart.
	if pingErr := eng.Ping(ctx); pingErr != nil {
		log.Warn("initial bus ping failed", "error", pingErr)
	}

	log.Info("initialisation complete, serving admin socket", "path", cfg.Admin.SocketPath)

	// Run blocks until ctx is cancelled.
	if runErr := adminServer.Run(ctx); runErr != nil {
		return fmt.Errorf("admin server: %w", runErr)
	}

	log.Info("shutdown signal received, stopping")
	return nil
}
