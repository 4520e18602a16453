// Command playoutd runs the rundown playout engine for one studio.
//
// It loads configuration, opens the SQLite store, connects MQTT for gateway
// callbacks and state publication, optionally mirrors as-run events to
// InfluxDB and serves the REST and WebSocket API until it receives SIGINT
// or SIGTERM. The migrate subcommands inspect and roll back the schema
// while the daemon is stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/playout-core/migrations"

	"github.com/nerrad567/playout-core/internal/api"
	"github.com/nerrad567/playout-core/internal/asrun"
	"github.com/nerrad567/playout-core/internal/gateway"
	"github.com/nerrad567/playout-core/internal/guard"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/database"
	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/infrastructure/logging"
	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errAlreadyRunning is returned when another daemon holds the database lock.
var errAlreadyRunning = errors.New("another playoutd is using this database")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon body, separated from main for testability. Resources are
// released by the defer chain in reverse order of acquisition.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting playoutd", "version", version, "commit", commit, "build_date", date)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("studio_id", cfg.Studio.ID)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	unlock, err := lockDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer unlock()

	db, err := database.Open(database.Config{
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
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}

	lease, closeLease, err := connectLease(ctx, cfg.Lease)
	if err != nil {
		return err
	}
	defer closeLease()

	var mirror asrun.Mirror
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		mirror = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	var bridge *gateway.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, err = gateway.NewBridge(gateway.Options{
			Client:   mqttClient,
			Topics:   mqttClient.Topics(),
			StudioID: cfg.Studio.ID,
			QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("creating gateway bridge: %w", err)
		}
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled, gateways must use the callback endpoint")
	}

	repo := rundown.NewSQLiteRepository(db.DB)
	asRunRepo := asrun.NewSQLiteRepository(db.DB)
	recorder := asrun.NewRecorder(asRunRepo, mirror, log)

	scheduler := guard.NewScheduler(log)
	defer scheduler.Close()
	g := guard.New(guard.Options{
		Lease:       lease,
		WaitTimeout: cfg.Playout.LockWaitTimeout(),
		Logger:      log,
	})

	opts := timingOptions(cfg.Playout)
	deps := playout.Deps{
		Repo:      repo,
		Guard:     g,
		Scheduler: scheduler,
		AsRun:     recorder,
		Logger:    log,
		Options:   &opts,
	}
	if bridge != nil {
		deps.Publishers = []playout.Publisher{bridge}
		deps.Notifier = bridge
	}
	engine := playout.New(deps)
	defer engine.Close()

	if bridge != nil {
		bridge.SetHandler(engine)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting gateway bridge: %w", err)
		}
		defer bridge.Stop()
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Engine:   engine,
		Repo:     repo,
		AsRun:    asRunRepo,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	engine.AddPublisher(server.Hub())
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// lockDatabase takes an exclusive advisory lock next to the database file so
// two daemons never drive the same rundowns. In-memory databases need none.
func lockDatabase(dbPath string) (func(), error) {
	if database.InMemory(dbPath) {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	lock := flock.New(database.LockPath(dbPath))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking database: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errAlreadyRunning, lock.Path())
	}
	return func() { _ = lock.Unlock() }, nil
}

// connectLease returns the Redis-backed rundown lease, or nil when disabled.
func connectLease(ctx context.Context, cfg config.LeaseConfig) (guard.Lease, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to lease store %s: %w", cfg.Addr, err)
	}
	return guard.NewRedisLease(client, cfg.KeyPrefix, cfg.TTL(), 0), func() { _ = client.Close() }, nil
}

// timingOptions maps the playout config section onto engine options.
func timingOptions(cfg config.PlayoutConfig) playout.TimingOptions {
	opts := playout.DefaultTimingOptions()
	opts.ZeroStartEpoch = cfg.ZeroStartEpochMS
	opts.NowEpoch = cfg.NowEpochMS
	opts.InfiniteEarlyExit = cfg.InfiniteEarlyExit
	opts.IngestDebounce = cfg.IngestDebounce()
	opts.NotifyDelay = cfg.NotifyDelay()
	return opts
}

// healthCheck verifies every dependency answers before the daemon reports ready.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
