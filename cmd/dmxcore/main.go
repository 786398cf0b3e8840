// Gray Logic DMX - lighting script engine
//
// dmxcore compiles DMX lighting scripts and plays them to a DMX interface
// in real time. It serves a REST + WebSocket control API, accepts engine
// commands over MQTT, records every run in SQLite and optionally writes
// run telemetry to InfluxDB.
//
// Usage:
//
//	dmxcore                 serve the API (default)
//	dmxcore check <script>  compile a script and report errors
//	dmxcore run <script>    play a script in the foreground until it ends or Ctrl+C
//	dmxcore token           mint an API bearer token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/api"
	"github.com/nerrad567/gray-logic-dmx/internal/driver"
	"github.com/nerrad567/gray-logic-dmx/internal/engine"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dmx/internal/script"
	"github.com/nerrad567/gray-logic-dmx/migrations"
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

// errUsage marks command-line mistakes; main exits with status 2 for them.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run dispatches the subcommand named by args[0], defaulting to serve.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - out: Destination for command output (tokens, check results)
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, out io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	switch cmd {
	case "serve":
		return serve(ctx, cfg)
	case "check":
		return checkScript(cfg, args, out)
	case "run":
		return runScript(ctx, cfg, args)
	case "token":
		return mintToken(cfg, args, out)
	default:
		return fmt.Errorf("%w: unknown command %q (serve, check, run, token)", errUsage, cmd)
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_DMX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_DMX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// serve runs the engine and its control plane until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to log to
	log.Info("starting Gray Logic DMX",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Open database
	db, err := database.Open(database.ConfigFrom(cfg.Database))
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	repo := engine.NewSQLiteRepository(db.DB)
	interrupted, err := repo.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("closing interrupted runs: %w", err)
	}
	if interrupted > 0 {
		log.Warn("marked interrupted runs from previous process as failed", "runs", interrupted)
	}

	health := map[string]api.HealthChecker{"database": db}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", influxClient.Org(),
			"bucket", influxClient.Bucket(),
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	drv, err := newDriver(cfg, mqttClient, log)
	if err != nil {
		return err
	}

	hub := api.NewHub(cfg.WebSocket, log)
	eng := newEngine(cfg, drv, repo, log)
	eng.SetHub(hub)
	if influxClient != nil {
		eng.SetMetrics(influxClient)
	}
	// Registered after the connections, so it runs first: the running
	// script blacks out while the driver's transport is still up.
	defer func() {
		log.Info("stopping script engine")
		if stopErr := eng.Close(); stopErr != nil {
			log.Error("error stopping script engine", "error", stopErr)
		}
	}()

	if mqttClient != nil {
		eng.SetMQTT(mqttClient)
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.EngineCommand(), byte(cfg.MQTT.QoS), eng.HandleCommand); subErr != nil { //nolint:gosec // QoS validated 0-2
			return fmt.Errorf("subscribing to engine commands: %w", subErr)
		}
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Engine:   eng,
		Hub:      hub,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if !cfg.AuthEnabled() {
		log.Warn("API authentication disabled: set security.jwt.secret to require bearer tokens")
	}

	// A broken autostart script is reported, not fatal: the API stays up to fix it.
	if err := eng.Autostart(ctx); err != nil {
		log.Error("autostart failed", "script", cfg.Engine.Autostart, "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Script engine (blackout)
	// 3. InfluxDB, MQTT, database
	return nil
}

// newDriver builds the configured DMX driver.
// The MQTT driver publishes through the shared client.
func newDriver(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (driver.Driver, error) {
	var pub driver.Publisher
	if mqttClient != nil {
		pub = mqttClient
	}

	drv, err := driver.New(cfg.Driver, pub)
	if err != nil {
		return nil, fmt.Errorf("creating driver: %w", err)
	}
	if em, ok := drv.(*driver.EmulatorDriver); ok {
		em.SetLogger(log)
	}
	log.Info("DMX driver ready", "type", cfg.Driver.Type)
	return drv, nil
}

// newEngine builds the script engine from the engine section of config.yaml.
func newEngine(cfg *config.Config, drv driver.Driver, repo engine.Repository, log engine.Logger) *engine.Engine {
	return engine.NewEngine(engine.Config{
		ScriptDir:      cfg.Engine.ScriptDir,
		Autostart:      cfg.Engine.Autostart,
		StopTimeout:    cfg.GetStopTimeout(),
		MaxImportDepth: cfg.Engine.MaxImportDepth,
		DriverName:     cfg.Driver.Type,
	}, drv, repo, log)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Connected components by name
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// checkScript compiles each named script and prints the result.
func checkScript(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: check <script> [script...]", errUsage)
	}

	eng := newEngine(cfg, driver.NewNullDriver(), nil, nil)
	var failed int
	for _, name := range args {
		statements, err := eng.Check(name)
		var compileErr *script.CompileError
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s: ok (%d statements)\n", name, statements)
		case errors.As(err, &compileErr):
			failed++
			for _, line := range compileErr.Messages() {
				fmt.Fprintln(out, line)
			}
		default:
			failed++
			fmt.Fprintf(out, "%s: %v\n", name, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed to compile", failed, len(args))
	}
	return nil
}

// runScript plays one script on the configured driver in the foreground.
// The run is not recorded; MQTT and the API are not started.
func runScript(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: run <script>", errUsage)
	}
	if strings.EqualFold(cfg.Driver.Type, "mqtt") {
		return fmt.Errorf("%w: run does not connect to MQTT; use the emulator or null driver", errUsage)
	}

	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to log to

	drv, err := newDriver(cfg, nil, log)
	if err != nil {
		return err
	}

	eng := newEngine(cfg, drv, nil, log)
	if err := eng.Compile(args[0]); err != nil {
		return err
	}
	err = eng.Execute(ctx, engine.Trigger{Type: engine.TriggerCLI})
	if errors.Is(err, script.ErrNoProgress) {
		// Interrupted before the first statement: nothing went wrong.
		return nil
	}
	return err
}

// mintToken prints a signed API bearer token.
func mintToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "operator", "token subject recorded in API logs")
	ttl := fs.Duration("ttl", time.Duration(cfg.Security.JWT.AccessTokenTTL)*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *ttl <= 0 {
		return fmt.Errorf("%w: -ttl must be positive", errUsage)
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, *subject, *ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
