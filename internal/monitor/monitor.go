// Package monitor runs the sampling loop: collect container stats, evaluate
// alerts, persist history and dispatch notifications.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

// SampleSource produces one measurement per container.
type SampleSource interface {
	Samples(ctx context.Context) ([]models.Sample, error)
}

// HistorySink persists samples.
type HistorySink interface {
	Write(sample models.Sample)
}

// Notifier delivers alert batches and recovery notices.
type Notifier interface {
	SendBatch(cfg *config.Config, batch alerts.Batch) error
	SendRecovery(cfg *config.Config, event alerts.Event) error
}

// Monitor drives the periodic check cycle. The config snapshot is re-read
// from the store every tick so reloads take effect without a restart.
type Monitor struct {
	store    *config.Store
	source   SampleSource
	detector *alerts.Detector
	history  HistorySink
	notifier Notifier

	// Seam for tests.
	after func(d time.Duration) <-chan time.Time
}

// New assembles a monitor. The history sink may be nil when persistence is
// disabled.
func New(store *config.Store, source SampleSource, detector *alerts.Detector, history HistorySink, notifier Notifier) *Monitor {
	return &Monitor{
		store:    store,
		source:   source,
		detector: detector,
		history:  history,
		notifier: notifier,
		after:    time.After,
	}
}

// Detector exposes the alert engine, used by the dashboard API for the
// tracked state view.
func (m *Monitor) Detector() *alerts.Detector {
	return m.detector
}

// Run ticks until the context is cancelled. The first check runs immediately;
// subsequent ticks honor the interval of the config current at that time.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", m.store.Current().Interval()).
		Msg("Monitor started")

	for {
		m.Tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor stopped")
			return ctx.Err()
		case <-m.after(m.store.Current().Interval()):
		}
	}
}

// Tick performs one full check cycle.
func (m *Monitor) Tick(ctx context.Context) {
	cfg := m.store.Current()

	samples, err := m.source.Samples(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect container samples")
		return
	}
	log.Debug().Int("containers", len(samples)).Msg("Collected samples")

	if m.history != nil {
		for _, sample := range samples {
			m.history.Write(sample)
		}
	}

	batch := m.detector.CheckAll(cfg, samples)
	if !m.detector.ShouldNotify(cfg, batch) {
		return
	}

	if batch.HasActionable() {
		if err := m.notifier.SendBatch(cfg, batch); err != nil {
			log.Error().Err(err).Msg("Failed to send alert email")
		}
	}
	for _, event := range batch.Recovery {
		if err := m.notifier.SendRecovery(cfg, event); err != nil {
			log.Error().Err(err).
				Str("container", event.ContainerName).
				Msg("Failed to send recovery email")
		}
	}
}
