package alerts

import (
	"sync"
	"time"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

// ContainerState tracks everything the detector needs to know about one
// container between ticks: recent resource samples, health transitions,
// hysteresis latches and per-kind cooldown stamps.
type ContainerState struct {
	ContainerID   string
	ContainerName string

	cpuHistory *ringBuffer
	ramHistory *ringBuffer

	CurrentHealth  models.HealthStatus
	PreviousHealth models.HealthStatus
	UnhealthySince time.Time

	lastDowntime time.Duration
	hasDowntime  bool

	CPUAlertActive    bool
	RAMAlertActive    bool
	HealthAlertActive bool

	lastAlert map[Kind]time.Time

	LastUpdate time.Time
}

func newContainerState(containerID, containerName string, bufferSize int) *ContainerState {
	return &ContainerState{
		ContainerID:    containerID,
		ContainerName:  containerName,
		cpuHistory:     newRingBuffer(bufferSize),
		ramHistory:     newRingBuffer(bufferSize),
		CurrentHealth:  models.HealthUnknown,
		PreviousHealth: models.HealthUnknown,
		lastAlert:      make(map[Kind]time.Time, 4),
	}
}

func (s *ContainerState) updateStats(cpuPercent, ramPercent float64, now time.Time) {
	s.cpuHistory.Push(cpuPercent)
	s.ramHistory.Push(ramPercent)
	s.LastUpdate = now
}

// updateHealth shifts current into previous and records the new status. The
// unhealthy entry time is stamped on the transition into unhealthy and
// cleared whenever the container reports healthy; on a recovery transition
// the elapsed downtime is captured first so the detector can still report it.
func (s *ContainerState) updateHealth(health models.HealthStatus, now time.Time) {
	s.PreviousHealth = s.CurrentHealth
	s.CurrentHealth = health

	switch {
	case health == models.HealthUnhealthy && s.PreviousHealth != models.HealthUnhealthy:
		s.UnhealthySince = now
	case health == models.HealthHealthy:
		if s.PreviousHealth == models.HealthUnhealthy && !s.UnhealthySince.IsZero() {
			s.lastDowntime = now.Sub(s.UnhealthySince)
			s.hasDowntime = true
		} else {
			s.hasDowntime = false
		}
		s.UnhealthySince = time.Time{}
	}
}

// IsUnhealthyTransition reports a healthy-or-starting to unhealthy flip.
// An unknown previous status never counts as a transition.
func (s *ContainerState) IsUnhealthyTransition() bool {
	return s.CurrentHealth == models.HealthUnhealthy &&
		(s.PreviousHealth == models.HealthHealthy || s.PreviousHealth == models.HealthStarting)
}

// IsRecoveryTransition reports an unhealthy to healthy flip.
func (s *ContainerState) IsRecoveryTransition() bool {
	return s.CurrentHealth == models.HealthHealthy && s.PreviousHealth == models.HealthUnhealthy
}

// Downtime returns how long the container was unhealthy, valid only during a
// recovery transition.
func (s *ContainerState) Downtime() (time.Duration, bool) {
	if !s.IsRecoveryTransition() || !s.hasDowntime {
		return 0, false
	}
	return s.lastDowntime, true
}

// SustainedHighCPU reports whether every sample in a full CPU buffer is at or
// above the threshold. Fewer than capacity samples never sustain.
func (s *ContainerState) SustainedHighCPU(threshold float64) bool {
	return s.cpuHistory.Full() && s.cpuHistory.allAtLeast(threshold)
}

// SustainedHighRAM is the RAM counterpart of SustainedHighCPU.
func (s *ContainerState) SustainedHighRAM(threshold float64) bool {
	return s.ramHistory.Full() && s.ramHistory.allAtLeast(threshold)
}

// CurrentCPU returns the most recent CPU sample.
func (s *ContainerState) CurrentCPU() (float64, bool) {
	return s.cpuHistory.Latest()
}

// CurrentRAM returns the most recent RAM sample.
func (s *ContainerState) CurrentRAM() (float64, bool) {
	return s.ramHistory.Latest()
}

// CPUHistory returns an oldest-first snapshot of recent CPU samples.
func (s *ContainerState) CPUHistory() []float64 {
	return s.cpuHistory.Values()
}

// RAMHistory returns an oldest-first snapshot of recent RAM samples.
func (s *ContainerState) RAMHistory() []float64 {
	return s.ramHistory.Values()
}

// InCooldown reports whether an alert of the given kind fired within the
// cooldown window. Cooldowns gate repeats independently of the active flags.
func (s *ContainerState) InCooldown(kind Kind, cooldown time.Duration, now time.Time) bool {
	last, ok := s.lastAlert[kind]
	if !ok {
		return false
	}
	return now.Sub(last) < cooldown
}

// MarkAlertSent stamps the cooldown clock for a kind and latches the matching
// active flag. Recovery has no latch; its repeats are cooldown-gated only.
func (s *ContainerState) MarkAlertSent(kind Kind, now time.Time) {
	s.lastAlert[kind] = now
	switch kind {
	case KindHighCPU:
		s.CPUAlertActive = true
	case KindHighRAM:
		s.RAMAlertActive = true
	case KindUnhealthy:
		s.HealthAlertActive = true
	}
}

// ClearAlert drops the active latch for a kind, allowing a future re-crossing
// to alert again.
func (s *ContainerState) ClearAlert(kind Kind) {
	switch kind {
	case KindHighCPU:
		s.CPUAlertActive = false
	case KindHighRAM:
		s.RAMAlertActive = false
	case KindUnhealthy:
		s.HealthAlertActive = false
	}
}

// StateTracker holds the per-container states for every container observed in
// the latest sample sets. It is the only shared mutable structure in the
// alert engine; one mutex serializes inserts, updates and evictions.
type StateTracker struct {
	mu         sync.Mutex
	bufferSize int
	containers map[string]*ContainerState
	now        func() time.Time
}

// NewStateTracker creates a tracker whose ring buffers hold bufferSize samples.
func NewStateTracker(bufferSize int) *StateTracker {
	if bufferSize < 1 {
		bufferSize = 3
	}
	return &StateTracker{
		bufferSize: bufferSize,
		containers: make(map[string]*ContainerState),
		now:        time.Now,
	}
}

// Update ingests one sample: it creates state for unseen container ids,
// appends the resource samples and records the health transition. The latest
// observed name always wins.
func (t *StateTracker) Update(containerID, containerName string, cpuPercent, ramPercent float64, health models.HealthStatus) *ContainerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.containers[containerID]
	if !ok {
		state = newContainerState(containerID, containerName, t.bufferSize)
		t.containers[containerID] = state
	}
	state.ContainerName = containerName

	now := t.now()
	state.updateStats(cpuPercent, ramPercent, now)
	state.updateHealth(health, now)
	return state
}

// Get returns the state for a container id, or nil when never seen.
func (t *StateTracker) Get(containerID string) *ContainerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.containers[containerID]
}

// Len returns the number of tracked containers.
func (t *StateTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.containers)
}

// EvictNotIn removes every state whose id is absent from activeIDs. This is
// pure membership-based cleanup mirroring "container disappeared from docker
// ps" semantics, deliberately not a TTL.
func (t *StateTracker) EvictNotIn(activeIDs map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.containers {
		if _, ok := activeIDs[id]; !ok {
			delete(t.containers, id)
		}
	}
}

// ClearCPUAlertIfNormal ends the CPU hysteresis latch when the most recent
// sample dropped strictly below the threshold.
func (t *StateTracker) ClearCPUAlertIfNormal(containerID string, threshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.containers[containerID]
	if state == nil || !state.CPUAlertActive {
		return
	}
	if current, ok := state.CurrentCPU(); ok && current < threshold {
		state.ClearAlert(KindHighCPU)
	}
}

// StateSummary is the read-only view of one tracked container exposed to the
// dashboard API.
type StateSummary struct {
	ContainerID       string              `json:"containerId"`
	ContainerName     string              `json:"containerName"`
	Health            models.HealthStatus `json:"health"`
	CPUHistory        []float64           `json:"cpuHistory"`
	RAMHistory        []float64           `json:"ramHistory"`
	CPUAlertActive    bool                `json:"cpuAlertActive"`
	RAMAlertActive    bool                `json:"ramAlertActive"`
	HealthAlertActive bool                `json:"healthAlertActive"`
	LastUpdate        time.Time           `json:"lastUpdate"`
}

// Summaries returns a snapshot of all tracked container states.
func (t *StateTracker) Summaries() []StateSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StateSummary, 0, len(t.containers))
	for _, state := range t.containers {
		out = append(out, StateSummary{
			ContainerID:       state.ContainerID,
			ContainerName:     state.ContainerName,
			Health:            state.CurrentHealth,
			CPUHistory:        state.CPUHistory(),
			RAMHistory:        state.RAMHistory(),
			CPUAlertActive:    state.CPUAlertActive,
			RAMAlertActive:    state.RAMAlertActive,
			HealthAlertActive: state.HealthAlertActive,
			LastUpdate:        state.LastUpdate,
		})
	}
	return out
}

// ClearRAMAlertIfNormal is the RAM counterpart of ClearCPUAlertIfNormal.
func (t *StateTracker) ClearRAMAlertIfNormal(containerID string, threshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.containers[containerID]
	if state == nil || !state.RAMAlertActive {
		return
	}
	if current, ok := state.CurrentRAM(); ok && current < threshold {
		state.ClearAlert(KindHighRAM)
	}
}
