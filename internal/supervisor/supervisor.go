package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/cync-bridge/internal/api"
	"github.com/nerrad567/cync-bridge/internal/command"
	"github.com/nerrad567/cync-bridge/internal/exporter"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/database"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cync-bridge/internal/mesh"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/mqttbridge"
	"github.com/nerrad567/cync-bridge/internal/protocol"
	"github.com/nerrad567/cync-bridge/internal/store"
	"github.com/nerrad567/cync-bridge/internal/transport"
)

// exportConfigFilename is where the exporter writes a freshly pulled
// topology, alongside whatever config file the process was started with.
const exportConfigFilename = "exported-config.yaml"

// Supervisor owns the full component graph for one running bridge
// process: the device-facing TLS server, the command dispatcher, the
// mesh refresh loop, the MQTT bridge, the optional SQLite/InfluxDB
// sinks, and the admin HTTP surface.
type Supervisor struct {
	cfg     *config.Config
	logger  *logging.Logger
	version string

	registry   *meshmodel.Registry
	server     *transport.Server
	dispatcher *command.Dispatcher
	refresher  *mesh.Refresher
	mqttClient *mqtt.Client
	bridge     *mqttbridge.Bridge
	store      *store.Store
	influx     *influxdb.Client
	exporter   *exporter.Exporter
	apiServer  *api.Server

	restartOnce sync.Once
	restartCh   chan struct{}
}

// New builds every component and wires their callbacks together, but
// starts nothing. Call Run to bring the bridge up.
func New(cfg *config.Config, logger *logging.Logger, version string) (*Supervisor, error) {
	devices, groups := meshmodel.FromConfig(cfg)
	registry := meshmodel.New(devices, groups, cfg.Server.BridgePoolCap)
	registry.SetLogger(logger.With("component", "meshmodel"))

	s := &Supervisor{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		registry:  registry,
		restartCh: make(chan struct{}),
	}

	s.server = transport.NewServer(cfg, registry, logger.With("component", "transport"), transport.Options{
		OnConnect:    s.handleDeviceConnect,
		OnDisconnect: s.handleDeviceDisconnect,
		OnMeshInfo:   s.handleMeshInfo,
	})

	s.dispatcher = command.New(s.server, registry, cfg.Server.CommandTargets, cfg.AckTimeout(), logger.With("component", "command"))
	s.dispatcher.SetSlowOpThreshold(cfg.PerfThreshold())
	s.refresher = mesh.New(s.server, logger.With("component", "mesh"), 0)
	s.dispatcher.SetRefresher(s.refresher)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("supervisor: connecting to mqtt broker: %w", err)
	}
	mqttClient.SetLogger(logger.With("component", "mqtt"))
	s.mqttClient = mqttClient

	topics := mqtt.NewTopics(cfg.MQTT.BaseTopic)
	s.bridge = mqttbridge.New(mqttClient, topics, registry, s.dispatcher, byte(cfg.MQTT.QoS), logger.With("component", "mqttbridge"))
	s.dispatcher.SetPublisher(s.bridge)
	s.dispatcher.SetGroupSyncer(s.bridge)

	if cfg.Store.Path != "" {
		st, err := store.Open(context.Background(), database.Config{
			Path:        cfg.Store.Path,
			WALMode:     true,
			BusyTimeout: 5,
		})
		if err != nil {
			mqttClient.Close()
			return nil, fmt.Errorf("supervisor: opening command store: %w", err)
		}
		s.store = st
		s.dispatcher.SetCommandLogger(st)
		registry.AddAvailabilityObserver(s.recordAvailabilityEvent)
	}

	if cfg.InfluxDB.Enabled {
		ic, err := influxdb.Connect(context.Background(), cfg.InfluxDB)
		if err != nil {
			logger.Warn("influxdb connection failed, state history disabled", "error", err)
		} else {
			s.influx = ic
			ic.SetOnError(func(werr error) {
				logger.Warn("influxdb write error", "error", werr)
			})
			registry.SetStateChangeObserver(s.writeStateHistory)
		}
	}

	s.exporter = exporter.New(nil, exportConfigFilename)
	apiSrv, err := api.New(api.Deps{
		Config:    cfg.API,
		Logger:    logger.With("component", "api"),
		Exporter:  s.exporter,
		Restarter: s,
		Version:   version,
	})
	if err != nil {
		mqttClient.Close()
		return nil, fmt.Errorf("supervisor: building admin api: %w", err)
	}
	s.apiServer = apiSrv

	return s, nil
}

// Run starts every background component and blocks until ctx is
// cancelled, Restart is called, or any component fails. It always
// attempts a full, ordered shutdown before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.bridge.Start(); err != nil {
		return fmt.Errorf("supervisor: starting mqtt bridge: %w", err)
	}
	if err := s.apiServer.Start(runCtx); err != nil {
		return fmt.Errorf("supervisor: starting admin api: %w", err)
	}
	s.refresher.Start(runCtx)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return s.server.ListenAndServe(groupCtx)
	})

	select {
	case <-groupCtx.Done():
	case <-ctx.Done():
	case <-s.restartCh:
		s.logger.Info("restart requested, shutting down")
	}

	cancel()
	s.refresher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	var shutdownErrs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		shutdownErrs = append(shutdownErrs, err)
	}
	if err := s.apiServer.Shutdown(shutdownCtx); err != nil {
		shutdownErrs = append(shutdownErrs, err)
	}
	if err := s.mqttClient.Close(); err != nil {
		shutdownErrs = append(shutdownErrs, err)
	}
	if s.influx != nil {
		s.influx.Flush()
		if err := s.influx.Close(); err != nil {
			shutdownErrs = append(shutdownErrs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			shutdownErrs = append(shutdownErrs, err)
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		shutdownErrs = append(shutdownErrs, err)
	}

	return errors.Join(shutdownErrs...)
}

// Restart implements api.Restarter: it unblocks Run so the process can
// exit cleanly. The caller (cmd/cyncbridged) is expected to run under a
// process supervisor (systemd, docker --restart) that brings it back up.
func (s *Supervisor) Restart() {
	s.restartOnce.Do(func() {
		close(s.restartCh)
	})
}

func (s *Supervisor) handleDeviceConnect(deviceID int, isBridge bool) {
	s.logger.Info("device connected", "device_id", deviceID, "is_bridge", isBridge)
}

func (s *Supervisor) handleDeviceDisconnect(deviceID int) {
	s.logger.Info("device disconnected", "device_id", deviceID)
}

// handleMeshInfo republishes every device named in a bridge's mesh_info
// report, since the registry has already absorbed the report by the
// time this fires (transport.Server.handleMeshInfo applies it first).
func (s *Supervisor) handleMeshInfo(bridgeDeviceID int, info protocol.MeshInfo) {
	for _, entry := range info.Entries {
		s.bridge.PublishDeviceState(int(entry.DeviceID))
	}
}

// recordAvailabilityEvent appends each online/offline transition to the
// audit store, alongside the MQTT availability publish the bridge's own
// observer performs.
func (s *Supervisor) recordAvailabilityEvent(id int, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.store.RecordAvailability(ctx, id, online, "mesh_report"); err != nil {
		s.logger.Debug("availability event write failed", "device_id", id, "error", err)
	}
}

// writeStateHistory is the registry's state-change observer, feeding
// every power/brightness/color_temp/rgb transition into InfluxDB when
// enabled.
func (s *Supervisor) writeStateHistory(id int, snap meshmodel.Snapshot) {
	deviceID := fmt.Sprintf("%d", id)
	power := 0.0
	if snap.State.Power == meshmodel.PowerOn {
		power = 1.0
	}
	s.influx.WriteDeviceMetric(deviceID, "power", power)
	s.influx.WriteDeviceMetric(deviceID, "brightness_pct", float64(snap.State.BrightnessPct))
	if snap.Capabilities.Has(meshmodel.CapColorTemp) {
		s.influx.WriteDeviceMetric(deviceID, "color_temp_k", float64(snap.State.ColorTempK))
	}
	if snap.Capabilities.Has(meshmodel.CapRGB) {
		s.influx.WriteDeviceMetric(deviceID, "rgb_r", float64(snap.State.RGB.R))
		s.influx.WriteDeviceMetric(deviceID, "rgb_g", float64(snap.State.RGB.G))
		s.influx.WriteDeviceMetric(deviceID, "rgb_b", float64(snap.State.RGB.B))
	}
}
