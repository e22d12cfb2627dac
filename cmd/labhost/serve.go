package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/api"
	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/broker"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/logging"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/plugins"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// run is the host's lifecycle, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting labhost",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var collectors *metrics.Metrics
	if cfg.Metrics.Enabled {
		collectors = metrics.New()
	}

	// Embedded broker (if enabled) must be listening before the client dials.
	if cfg.MQTT.Embedded.Enabled {
		b, brokerErr := broker.Start(cfg.MQTT.Embedded, log.With("component", "broker").Logger)
		if brokerErr != nil {
			return fmt.Errorf("starting embedded broker: %w", brokerErr)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

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
	collectors.RecordMQTTStatus(true)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB is optional; a nil client is never used as a sink.
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without history", "error", err)
		influxClient = nil
	default:
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

	reg := registry.New(
		registry.WithPublisher(mqttClient),
		registry.WithLogger(log.With("component", "registry")),
		registry.WithMetrics(collectors),
	)
	go reg.Run(ctx, time.Duration(cfg.Registry.SweepInterval)*time.Second)

	// Retained snapshots are republished after every reconnect so late
	// subscribers and restarted brokers see current state.
	mqttClient.SetOnConnect(func() {
		collectors.RecordMQTTStatus(true)
		log.Info("MQTT reconnected")
		go reg.Publish()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		collectors.RecordMQTTStatus(false)
		collectors.RecordMQTTConnectionLost()
		log.Warn("MQTT disconnected", "error", err)
	})

	relayOpts := []dispatcher.RelayOption{
		dispatcher.WithRelayQoS(byte(cfg.MQTT.QoS)),
		dispatcher.WithRelayLogger(log.With("component", "relay")),
		dispatcher.WithRelayMetrics(collectors),
	}
	dispatchOpts := []dispatcher.Option{
		dispatcher.WithConfig(cfg),
		dispatcher.WithLogger(log.With("component", "dispatcher")),
		dispatcher.WithMetrics(collectors),
	}
	if influxClient != nil {
		relayOpts = append(relayOpts, dispatcher.WithRelaySink(influxClient))
		dispatchOpts = append(dispatchOpts, dispatcher.WithSink(influxClient))
	}

	relay := dispatcher.NewRelay(mqttClient, reg, relayOpts...)

	sched := scheduler.New(relay,
		scheduler.WithLocation(cfg.SchedulerLocation()),
		scheduler.WithLogger(log.With("component", "scheduler")),
		scheduler.WithMetrics(collectors),
	)
	defer func() {
		log.Info("stopping scheduler")
		sched.Stop()
	}()

	disp := dispatcher.New(mqttClient, reg, sched, relay, dispatchOpts...)
	if loadErr := disp.Load(plugins.Builtin(), cfg.Plugins); loadErr != nil {
		return fmt.Errorf("loading plugins: %w", loadErr)
	}
	if startErr := disp.Start(ctx); startErr != nil {
		return fmt.Errorf("starting dispatcher: %w", startErr)
	}
	defer func() {
		log.Info("stopping dispatcher")
		if stopErr := disp.Stop(); stopErr != nil {
			log.Error("error stopping dispatcher", "error", stopErr)
		}
	}()
	log.Info("plugins loaded", "modules", disp.Modules())

	reg.Publish()

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Metrics:    cfg.Metrics,
		Logger:     log.With("component", "api"),
		Registry:   reg,
		Scheduler:  sched,
		Dispatcher: disp,
		MQTT:       mqttClient,
		Collectors: collectors,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred shutdown runs in reverse: API, dispatcher, scheduler,
	// InfluxDB, MQTT, embedded broker.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies the infrastructure connections.
// influxClient may be nil when history is disabled.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
