// Sensor node - cloud-connected device state layer
//
// This is the main entry point for the sensor node. It provisions the
// device, connects to the assigned hub, keeps the device twin in sync
// with the status LEDs, answers direct commands and publishes sensor
// telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/sensornode/migrations"

	"github.com/nerrad567/sensornode/internal/api"
	"github.com/nerrad567/sensornode/internal/command"
	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/database"
	"github.com/nerrad567/sensornode/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensornode/internal/infrastructure/logging"
	"github.com/nerrad567/sensornode/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensornode/internal/led"
	"github.com/nerrad567/sensornode/internal/node"
	"github.com/nerrad567/sensornode/internal/provisioning"
	"github.com/nerrad567/sensornode/internal/securestore"
	"github.com/nerrad567/sensornode/internal/telemetry"
	"github.com/nerrad567/sensornode/internal/timer"
	"github.com/nerrad567/sensornode/internal/twin"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// eventQueueSize bounds transport deliveries and timer callbacks
	// waiting for the event loop.
	eventQueueSize = 64
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the composition root, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting sensor node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version).With("device_id", cfg.Device.ID)
	log.Info("configuration loaded", "path", configPath)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
	}

	// Every timer callback and transport delivery runs on the queue goroutine.
	queue := timer.NewQueue(eventQueueSize)
	sched := timer.NewQueued(timer.System{}, queue)

	bank, closeLEDs, err := buildBank(cfg, sched)
	if err != nil {
		return fmt.Errorf("initialising LEDs: %w", err)
	}
	defer closeLEDs()
	if cfg.LEDs.SelfTest {
		step := time.Duration(cfg.LEDs.SelfTestMS) * time.Millisecond
		if testErr := bank.SelfTest(ctx, step); testErr != nil {
			log.Warn("LED self test interrupted", "error", testErr)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return queue.Run(gctx) })
	defer func() {
		stop()
		_ = g.Wait() //nolint:errcheck // Shutdown path; errors already logged
	}()

	var controller *provisioning.Controller
	if cfg.Provisioning.Enabled {
		controller, err = provisioning.New(provisioning.Options{
			Config:         cfg.Provisioning,
			RegistrationID: cfg.Device.ID,
			ModelID:        cfg.Device.ModelID,
			Store:          buildStore(cfg, db),
			Dial:           provisioning.MQTTDialer(cfg.MQTT, cfg.Provisioning, cfg.Device.ID),
			Scheduler:      sched,
			Bank:           bank,
			Queue:          queue,
			Logger:         log.Component("provisioning"),
		})
		if err != nil {
			return fmt.Errorf("creating provisioning controller: %w", err)
		}
	}

	commandLog := command.NewSQLiteRepository(db.DB)
	hubCheck := &sessionCheck{}

	var server *api.Server
	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{"database": db, "hub": hubCheck}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			DeviceID: cfg.Device.ID,
			Version:  version,
			Checks:   checks,
			Bank:     bank,
			Commands: commandLog,
		}
		if controller != nil {
			deps.Provisioning = controller
		}
		server, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	hostname := cfg.Hub.Hostname
	deviceID := cfg.Device.ID
	if controller != nil {
		assignment, provErr := controller.Run(gctx)
		if provErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The red LED and the diagnostics API report the failure; the
			// node stays up until a supervisor or operator restarts it.
			log.Error("provisioning failed", "error", provErr)
			return waitForShutdown(ctx, g, log)
		}
		hostname = assignment.Hostname
		if assignment.DeviceID != "" {
			deviceID = assignment.DeviceID
		}
		log.Info("device assigned", "hub", hostname, "device", assignment.DeviceID)
	}

	hub, err := node.DialHub(cfg, hostname, bank)
	if err != nil {
		log.Error("hub connection failed", "error", err)
		return waitForShutdown(ctx, g, log)
	}
	defer func() {
		log.Info("disconnecting from hub")
		if closeErr := hub.Close(); closeErr != nil {
			log.Error("error closing hub session", "error", closeErr)
		}
	}()
	hub.SetLogger(log.Component("mqtt"))
	hub.SetOnDisconnect(func(err error) { log.Warn("hub session lost", "error", err) })
	hubCheck.set(hub)

	qos := byte(cfg.MQTT.QoS)
	lock := mqtt.NewPublishLock(cfg.GetPublishLockTimeout())

	tw, err := twin.New(twin.Options{
		Config:            cfg.Twin,
		QoS:               qos,
		TelemetryInterval: uint32(cfg.Telemetry.Interval), //nolint:gosec // Validated positive
		Bank:              bank,
		Publisher:         hub,
		Lock:              lock,
		Repository:        twin.NewSQLiteRepository(db.DB),
		Identity:          hostname + "/" + deviceID,
		Logger:            log.Component("twin"),
	})
	if err != nil {
		return fmt.Errorf("creating twin synchronizer: %w", err)
	}
	if restoreErr := tw.Restore(ctx); restoreErr != nil {
		log.Warn("twin state not restored", "error", restoreErr)
	}

	dispatcher := command.NewDispatcher(cfg.Commands.ResponseBuffer)
	dispatcher.Register(command.RebootCommand,
		command.NewRebootHandler(sched, buildResetter(cfg), log.Component("command")))

	responderOpts := command.ResponderOptions{
		Dispatcher: dispatcher,
		Publisher:  hub,
		QoS:        qos,
		Repository: commandLog,
		Logger:     log.Component("command"),
	}
	if cfg.Commands.SerializeResponses {
		responderOpts.Lock = lock
	}

	nodeOpts := node.Options{
		Twin:      tw,
		Responder: command.NewResponder(responderOpts),
		Bank:      bank,
		Session:   hub,
		Lock:      lock,
		DeviceID:  cfg.Device.ID,
		QoS:       qos,
		Queue:     queue,
		Logger:    log.Component("node"),
	}
	if influxClient != nil {
		nodeOpts.History = influxClient
	}
	if server != nil {
		nodeOpts.OnChange = server.PublishStatus
	}
	n, err := node.New(nodeOpts)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	hub.SetOnConnect(func() {
		log.Info("hub session connected")
		n.Reconnected()
	})
	if startErr := n.Start(gctx); startErr != nil {
		// Each CheckAndReport tick retries the missing subscriptions and
		// the initial get.
		log.Error("node start failed", "error", startErr)
	}

	reporterOpts := telemetry.Options{
		DeviceID:  cfg.Device.ID,
		Sensors:   buildSensors(cfg),
		Publisher: hub,
		Lock:      lock,
		QoS:       qos,
		Interval:  tw.TelemetryInterval,
		Logger:    log.Component("telemetry"),
	}
	if influxClient != nil {
		reporterOpts.Sink = influxClient
	}
	reporter, err := telemetry.NewReporter(reporterOpts)
	if err != nil {
		return fmt.Errorf("creating telemetry reporter: %w", err)
	}

	if server != nil {
		server.SetNode(n)
		server.SetTelemetry(reporter)
	}

	g.Go(func() error { return n.Run(gctx, cfg.GetCheckInterval()) })
	g.Go(func() error { return reporter.Run(gctx) })

	log.Info("initialisation complete", "hub", hostname)
	return waitForShutdown(ctx, g, log)
}

// waitForShutdown blocks until ctx is done or a component fails.
func waitForShutdown(ctx context.Context, g *errgroup.Group, log *logging.Logger) error {
	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Info("sensor node stopped")
		return nil
	}
	return err
}

// getConfigPath returns the configuration file path.
// Uses SENSORNODE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SENSORNODE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildBank drives the LEDs from GPIO when a chip is configured and from
// simulated lines otherwise. The returned func releases the lines.
func buildBank(cfg *config.Config, sched timer.Scheduler) (*led.Bank, func(), error) {
	bankCfg := led.BankConfig{
		ActiveLow: cfg.LEDs.ActiveLow,
		Scheduler: sched,
		BlinkFast: cfg.GetBlinkFast(),
		BlinkSlow: cfg.GetBlinkSlow(),
	}
	off := hardware.Low
	if cfg.LEDs.ActiveLow {
		off = hardware.High
	}

	closeFn := func() {}
	if cfg.LEDs.Chip == "" {
		for i := range bankCfg.Outputs {
			bankCfg.Outputs[i] = hardware.NewSimOutput(off)
		}
	} else {
		pins := map[string]int{
			led.Blue.String():   cfg.LEDs.Pins.Blue,
			led.Green.String():  cfg.LEDs.Pins.Green,
			led.Yellow.String(): cfg.LEDs.Pins.Yellow,
			led.Red.String():    cfg.LEDs.Pins.Red,
		}
		gpio, err := hardware.OpenGPIO(cfg.LEDs.Chip, pins, off)
		if err != nil {
			return nil, nil, err
		}
		for _, c := range led.Colors {
			bankCfg.Outputs[c] = gpio.Output(c.String())
		}
		closeFn = func() { _ = gpio.Close() } //nolint:errcheck // Shutdown path
	}

	bank, err := led.NewBank(bankCfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := bank.Init(); err != nil {
		closeFn()
		return nil, nil, err
	}
	return bank, closeFn, nil
}

func buildStore(cfg *config.Config, db *database.DB) securestore.Store {
	if cfg.SecureStore.Backend == "static" {
		// Static slots are empty; the scope comes from provisioning.id_scope.
		return securestore.NewStatic(nil)
	}
	return securestore.NewSQLiteStore(db.DB)
}

func buildSensors(cfg *config.Config) hardware.Sensors {
	if cfg.Telemetry.Source == "sysfs" {
		return hardware.SysfsSensors{
			TemperaturePath: cfg.Telemetry.TemperaturePath,
			LightPath:       cfg.Telemetry.LightPath,
		}
	}
	return hardware.NewSimSensors(uint64(time.Now().UnixNano())) //nolint:gosec // Seed only
}

func buildResetter(cfg *config.Config) hardware.Resetter {
	if cfg.LEDs.Reset.Mode == "reboot" {
		return hardware.SystemResetter{}
	}
	return hardware.ExitResetter{Exit: os.Exit}
}

// sessionCheck reports the hub session's health once it exists.
type sessionCheck struct {
	client atomic.Pointer[mqtt.Client]
}

func (s *sessionCheck) set(c *mqtt.Client) {
	s.client.Store(c)
}

// HealthCheck implements api.HealthChecker.
func (s *sessionCheck) HealthCheck(ctx context.Context) error {
	c := s.client.Load()
	if c == nil {
		return errors.New("hub session not established")
	}
	return c.HealthCheck(ctx)
}
