package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

// Detector turns periodic container samples into alert events. It owns no
// configuration; callers pass the config snapshot of the current tick so a
// reload never mixes old and new policy within one evaluation.
type Detector struct {
	tracker *StateTracker
	now     func() time.Time
}

// NewDetector creates a detector over the given state tracker.
func NewDetector(tracker *StateTracker) *Detector {
	return &Detector{
		tracker: tracker,
		now:     time.Now,
	}
}

// Tracker returns the detector's state tracker.
func (d *Detector) Tracker() *StateTracker {
	return d.tracker
}

// CheckContainer ingests one sample and returns the alert events it causes.
// Containers excluded via container_rules are fully inert: no state is
// created or updated and nothing is emitted.
func (d *Detector) CheckContainer(cfg *config.Config, sample models.Sample) []Event {
	if cfg.AlertsDisabledFor(sample.ContainerName) {
		return nil
	}

	state := d.tracker.Update(sample.ContainerID, sample.ContainerName, sample.CPUPercent, sample.RAMPercent, sample.Health)

	cpuThreshold := cfg.CPUThresholdFor(sample.ContainerName)
	ramThreshold := cfg.RAMThresholdFor(sample.ContainerName)
	cooldown := cfg.Cooldown()
	recoveryCooldown := cfg.RecoveryCooldown()
	now := d.now()

	var events []Event

	// Health transitions are mutually exclusive within a tick: recovery and
	// unhealthy require opposite previous/current combinations.
	if state.IsRecoveryTransition() {
		if !state.InCooldown(KindRecovery, recoveryCooldown, now) {
			downtime := ""
			if dur, ok := state.Downtime(); ok {
				downtime = FormatDowntime(dur)
			}
			events = append(events, newRecoveryEvent(sample.ContainerID, sample.ContainerName, downtime, now))
			state.MarkAlertSent(KindRecovery, now)
			state.ClearAlert(KindUnhealthy)
		}
	} else if state.IsUnhealthyTransition() {
		// Repeated unhealthy alerts are gated by the cooldown stamp alone;
		// the health active flag is bookkeeping, not a gate.
		if !state.InCooldown(KindUnhealthy, cooldown, now) {
			events = append(events, newUnhealthyEvent(sample.ContainerID, sample.ContainerName, now))
			state.MarkAlertSent(KindUnhealthy, now)
		}
	}

	// Resource checks run every tick, independent of health events.
	if state.SustainedHighCPU(cpuThreshold) {
		if !state.CPUAlertActive && !state.InCooldown(KindHighCPU, cooldown, now) {
			value, _ := state.CurrentCPU()
			events = append(events, newResourceEvent(KindHighCPU, sample.ContainerID, sample.ContainerName, value, state.CPUHistory(), now))
			state.MarkAlertSent(KindHighCPU, now)
		}
	} else {
		d.tracker.ClearCPUAlertIfNormal(sample.ContainerID, cpuThreshold)
	}

	if state.SustainedHighRAM(ramThreshold) {
		if !state.RAMAlertActive && !state.InCooldown(KindHighRAM, cooldown, now) {
			value, _ := state.CurrentRAM()
			events = append(events, newResourceEvent(KindHighRAM, sample.ContainerID, sample.ContainerName, value, state.RAMHistory(), now))
			state.MarkAlertSent(KindHighRAM, now)
		}
	} else {
		d.tracker.ClearRAMAlertIfNormal(sample.ContainerID, ramThreshold)
	}

	return events
}

// CheckAll evaluates one full tick of samples, evicts state for containers no
// longer present and partitions the collected events into a batch. A failure
// evaluating one container never aborts the rest of the tick.
func (d *Detector) CheckAll(cfg *config.Config, samples []models.Sample) Batch {
	var all []Event
	activeIDs := make(map[string]struct{}, len(samples))

	for _, sample := range samples {
		// The container stays in the keep-set even when its sample is
		// malformed: a skipped tick must preserve existing state, not
		// evict it.
		if sample.ContainerID != "" {
			activeIDs[sample.ContainerID] = struct{}{}
		}
		if err := validateSample(sample); err != nil {
			log.Warn().Err(err).
				Str("container", sample.ContainerName).
				Msg("Skipping malformed sample")
			continue
		}

		events, err := d.checkContainerSafe(cfg, sample)
		if err != nil {
			log.Error().Err(err).
				Str("container_id", sample.ContainerID).
				Str("container", sample.ContainerName).
				Msg("Container evaluation failed")
			continue
		}
		all = append(all, events...)
	}

	d.tracker.EvictNotIn(activeIDs)

	batch := Batch{Timestamp: d.now()}
	for _, event := range all {
		switch {
		case event.Kind == KindRecovery:
			batch.Recovery = append(batch.Recovery, event)
		case event.Severity == SeverityCritical:
			batch.Critical = append(batch.Critical, event)
		case event.Severity == SeverityWarning:
			batch.Warning = append(batch.Warning, event)
		}
	}
	return batch
}

// checkContainerSafe isolates per-container evaluation so a panic cannot take
// down the whole tick.
func (d *Detector) checkContainerSafe(cfg *config.Config, sample models.Sample) (events []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("evaluation panic: %v", r)
		}
	}()
	return d.CheckContainer(cfg, sample), nil
}

// ShouldNotify decides whether a batch warrants an email. Alerting and the
// email channel must both be enabled; given that, any actionable or recovery
// event triggers a notification.
func (d *Detector) ShouldNotify(cfg *config.Config, batch Batch) bool {
	if !cfg.AlertsEnabled() || !cfg.EmailEnabled() {
		return false
	}
	return batch.HasActionable() || batch.HasRecovery()
}

func validateSample(sample models.Sample) error {
	if sample.ContainerID == "" {
		return fmt.Errorf("sample has empty container id")
	}
	if math.IsNaN(sample.CPUPercent) || math.IsInf(sample.CPUPercent, 0) {
		return fmt.Errorf("sample has invalid cpu percent")
	}
	if math.IsNaN(sample.RAMPercent) || math.IsInf(sample.RAMPercent, 0) {
		return fmt.Errorf("sample has invalid ram percent")
	}
	return nil
}
