// Package app wires the dispatch engine together from configuration: store,
// scoring, ranking, state machine, metrics sinks, notifier and audit
// archive.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rescuegrid/rescuegrid/config"
	"github.com/rescuegrid/rescuegrid/core/dispatch"
	"github.com/rescuegrid/rescuegrid/core/events"
	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/ranking"
	"github.com/rescuegrid/rescuegrid/core/scoring"
	"github.com/rescuegrid/rescuegrid/infra/logger"
	"github.com/rescuegrid/rescuegrid/infra/metrics"
	"github.com/rescuegrid/rescuegrid/infra/notify"
	"github.com/rescuegrid/rescuegrid/infra/store"
	"github.com/rescuegrid/rescuegrid/internal/eventbus"
)

// Service orchestrates the dispatch machine and its collaborators.
type Service struct {
	Machine *dispatch.Machine
	Store   *store.MemoryStore

	bus      *eventbus.Bus[model.Event]
	archive  *store.SQLiteArchive
	notifier *notify.MQTTNotifier
	log      logger.Logger

	promEnabled bool
	promAddr    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	repo := store.NewMemoryStore()
	if err := seedFleet(repo, cfg.Fleet); err != nil {
		return nil, err
	}

	var sinks []coremetrics.MetricsSink
	var promEnabled bool
	for _, name := range cfg.Metrics.Sinks {
		switch name {
		case "prometheus":
			promEnabled = true
			sink, err := metrics.NewPromSink()
			if err != nil {
				return nil, fmt.Errorf("prom sink: %w", err)
			}
			sinks = append(sinks, sink)
		case "influx":
			sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
				cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken,
				cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
		}
	}
	var sink coremetrics.MetricsSink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New[model.Event]()
	svc := &Service{Store: repo, bus: bus, log: logg, promEnabled: promEnabled, promAddr: cfg.Metrics.PrometheusAddr}

	var notifier events.Notifier = events.NopNotifier{}
	if cfg.Notifier.Enabled {
		n, err := notify.NewMQTTNotifier(cfg.Notifier.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.notifier = n
		notifier = n
	}

	if cfg.Audit.Backend == "sqlite" {
		arch, err := store.NewSQLiteArchive(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit archive: %w", err)
		}
		svc.archive = arch
		sub := bus.Subscribe()
		go func() {
			for ev := range sub {
				if err := arch.Archive(ev); err != nil {
					logg.Errorf("archive event %s: %v", ev.ID, err)
				}
			}
		}()
	}

	emitter := events.NewEmitter(repo, bus, notifier, logg)

	reqs := scoring.DefaultRequirements()
	if err := reqs.Validate(); err != nil {
		return nil, fmt.Errorf("requirement table: %w", err)
	}
	ranker := ranking.NewRanker(repo, scoring.NewEngine(cfg.Scoring, reqs))

	engine, err := dispatch.NewAssignmentEngine(repo, emitter, sink, cfg.Dispatch.AcceptTimeout(), logg)
	if err != nil {
		return nil, fmt.Errorf("assignment engine: %w", err)
	}
	machine, err := dispatch.NewMachine(repo, engine, ranker, emitter, dispatch.TimeScheduler{}, sink, cfg.Dispatch, logg)
	if err != nil {
		return nil, fmt.Errorf("state machine: %w", err)
	}
	svc.Machine = machine
	return svc, nil
}

// seedFleet loads the facility registry and ambulance fleet from the
// configured JSON files. Missing paths are allowed for empty deployments.
func seedFleet(repo *store.MemoryStore, cfg config.FleetConfig) error {
	if cfg.FacilitiesFile != "" {
		var facilities []model.Facility
		if err := readJSON(cfg.FacilitiesFile, &facilities); err != nil {
			return fmt.Errorf("load facilities: %w", err)
		}
		repo.SeedFacilities(facilities)
	}
	if cfg.AmbulancesFile != "" {
		var ambulances []model.Ambulance
		if err := readJSON(cfg.AmbulancesFile, &ambulances); err != nil {
			return fmt.Errorf("load ambulances: %w", err)
		}
		if err := repo.SeedAmbulances(ambulances); err != nil {
			return err
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	requests := make(chan model.Request, 16)
	go s.Machine.Run(ctx, requests)
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}
