// vrpn-core - VRPN server supervisor
//
// vrpn-core starts a vrpn_server for a configured set of devices, waits for
// it to become ready, and keeps it supervised until shutdown. Lifecycle
// events are journaled to SQLite and, when configured, published over MQTT
// and written to InfluxDB. A small HTTP API exposes status, control and a
// live log WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/vrpn-core/internal/api"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/database"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vrpn-core/internal/journal"
	"github.com/nerrad567/vrpn-core/internal/process"
	"github.com/nerrad567/vrpn-core/internal/telemetry"
	"github.com/nerrad567/vrpn-core/internal/vrpn"
	"github.com/nerrad567/vrpn-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownMargin is added to the graceful timeout when stopping the server
// on shutdown, covering the SIGKILL and reap.
const shutdownMargin = 5 * time.Second

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("vrpncore %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	showVersion bool
}

// parseFlags reads the command line. --config wins over VRPNCORE_CONFIG.
func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("vrpncore", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", config.Path(), "path to the YAML configuration file")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting vrpn-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	health := make(map[string]api.HealthChecker)
	reporterCfg := telemetry.Config{
		ServerName:    cfg.Server.Name,
		Command:       strings.Join(cfg.Server.Command(), " "),
		PublishOutput: cfg.MQTT.PublishOutput,
	}

	// Run journal (optional)
	var runs journal.Repository
	if cfg.Journal.Enabled {
		db, openErr := openJournal(ctx, cfg.Journal)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("run journal ready", "path", cfg.Journal.Path)

		repo := journal.NewSQLiteRepository(db.DB)
		runs = repo
		reporterCfg.Journal = repo
		health["database"] = db
	} else {
		log.Info("run journal disabled")
	}

	// MQTT (optional, degraded on failure)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without it", "error", err)
			mqttClient = nil
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			mqttClient.SetLogger(log.Component("mqtt"))
			mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
			mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)

			reporterCfg.Publisher = mqttClient
			health["mqtt"] = mqttClient
		}
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional, degraded on failure)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, continuing without metrics", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)

			reporterCfg.Metrics = influxClient
			health["influxdb"] = influxClient
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		reporterCfg.Live = hub
	}

	reporter := telemetry.New(reporterCfg)
	reporter.SetLogger(log.Component("telemetry"))

	serverCfg := serverConfig(cfg.Server, log)
	reporter.Bind(&serverCfg)

	manager, err := vrpn.NewManager(vrpn.Config{
		Server:          serverCfg,
		Devices:         devices(cfg.Server.Devices),
		Host:            cfg.Server.Host,
		ServiceInterval: cfg.Server.ServiceInterval,
	})
	if err != nil {
		return fmt.Errorf("creating vrpn manager: %w", err)
	}
	manager.SetLogger(log.Component("vrpn"))

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Supervisor: manager,
			Runs:       runs,
			Health:     health,
			Hub:        hub,
			Version:    version,

			ActionTimeout: actionTimeout(cfg.Server),
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
		log.Info("API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Remote commands over MQTT
	if mqttClient != nil {
		runner := newCommandRunner(manager, log.Component("commands"))
		topic := mqtt.Topics{}.ServerCommand(cfg.Server.Name)
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), runner.Handle); subErr != nil {
			log.Warn("remote commands unavailable", "topic", topic, "error", subErr)
		} else {
			log.Info("listening for remote commands", "topic", topic)
			g.Go(func() error { return runner.Run(gctx) })
		}
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	stats := manager.Stats()
	log.Info("vrpn server running",
		"pid", stats.PID,
		"host", stats.Host,
		"devices", len(stats.Devices),
	)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout+shutdownMargin)
	defer cancel()
	code, err := manager.Stop(stopCtx)
	switch {
	case errors.Is(err, process.ErrNotRunning):
		log.Info("vrpn server was not running")
	case err != nil:
		log.Error("error stopping vrpn server", "error", err)
	default:
		log.Info("vrpn server stopped", "exit_code", code)
	}

	if err := g.Wait(); err != nil {
		log.Error("background task failed", "error", err)
	}

	log.Info("vrpn-core stopped")
	return nil
}

// openJournal opens the SQLite database and applies the embedded migrations.
func openJournal(ctx context.Context, cfg config.JournalConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// actionTimeout bounds an API lifecycle action. A restart stops and then
// starts the server, so it covers the graceful stop and every startup
// phase. Zero, meaning the API default, when readiness waits forever.
func actionTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.Sentinel != "" && cfg.ReadinessTimeout == 0 {
		return 0
	}
	return cfg.GracefulTimeout + cfg.ReadinessTimeout + cfg.SettleDelay + cfg.ExitProbe + shutdownMargin
}

// serverConfig converts the server config section into a process config.
// Output lines are logged at debug level.
func serverConfig(cfg config.ServerConfig, log *logging.Logger) process.Config {
	serverCfg := process.Config{
		Name:            cfg.Name,
		Command:         cfg.Command(),
		ExtraArgs:       cfg.ExtraArgs,
		SettleDelay:     cfg.SettleDelay,
		ExitProbe:       cfg.ExitProbe,
		GracefulTimeout: cfg.GracefulTimeout,
		TempDir:         cfg.TempDir,
		OnLine: func(stream process.Stream, line string) {
			log.Debug("server output", "stream", stream, "line", line)
		},
	}
	if cfg.Sentinel != "" {
		serverCfg.Readiness = &process.Readiness{
			Pattern: cfg.Sentinel,
			Timeout: cfg.ReadinessTimeout,
		}
	}
	return serverCfg
}

func devices(cfgs []config.DeviceConfig) []vrpn.DeviceConfig {
	out := make([]vrpn.DeviceConfig, 0, len(cfgs))
	for _, d := range cfgs {
		out = append(out, vrpn.DeviceConfig{
			Type:                  d.Type,
			Name:                  d.Name,
			Args:                  d.Args,
			AdditionalLines:       d.AdditionalLines,
			ContinueWithBackslash: d.ContinueWithBackslash,
		})
	}
	return out
}
