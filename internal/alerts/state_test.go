package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

func TestStateTrackerCreatesAndUpdates(t *testing.T) {
	tracker := NewStateTracker(3)

	state := tracker.Update("abc", "web", 50, 40, models.HealthHealthy)
	require.NotNil(t, state)
	assert.Equal(t, 1, tracker.Len())
	assert.Same(t, state, tracker.Get("abc"))
	assert.Nil(t, tracker.Get("missing"))

	// The latest observed name wins on rename.
	tracker.Update("abc", "web-renamed", 55, 45, models.HealthHealthy)
	assert.Equal(t, "web-renamed", tracker.Get("abc").ContainerName)
	assert.Equal(t, 1, tracker.Len())
}

func TestSustainedRequiresFullBuffer(t *testing.T) {
	tracker := NewStateTracker(3)

	state := tracker.Update("abc", "web", 95, 95, models.HealthNone)
	assert.False(t, state.SustainedHighCPU(80), "one sample must not sustain")

	tracker.Update("abc", "web", 96, 95, models.HealthNone)
	assert.False(t, state.SustainedHighCPU(80), "two samples must not sustain")

	tracker.Update("abc", "web", 97, 95, models.HealthNone)
	assert.True(t, state.SustainedHighCPU(80))
	assert.True(t, state.SustainedHighRAM(80))
}

func TestSustainedBrokenByOneDip(t *testing.T) {
	tracker := NewStateTracker(3)

	for _, v := range []float64{85, 90, 70} {
		tracker.Update("abc", "web", v, 50, models.HealthNone)
	}
	state := tracker.Get("abc")
	assert.False(t, state.SustainedHighCPU(80))

	// The dip stays in the window until three fresh high samples evict it.
	tracker.Update("abc", "web", 88, 50, models.HealthNone)
	assert.False(t, state.SustainedHighCPU(80))
	tracker.Update("abc", "web", 89, 50, models.HealthNone)
	assert.False(t, state.SustainedHighCPU(80))
	tracker.Update("abc", "web", 90, 50, models.HealthNone)
	assert.True(t, state.SustainedHighCPU(80))
}

func TestHealthTransitions(t *testing.T) {
	tests := []struct {
		name          string
		prev, current models.HealthStatus
		unhealthy     bool
		recovery      bool
	}{
		{"healthy to unhealthy", models.HealthHealthy, models.HealthUnhealthy, true, false},
		{"starting to unhealthy", models.HealthStarting, models.HealthUnhealthy, true, false},
		{"unknown to unhealthy", models.HealthUnknown, models.HealthUnhealthy, false, false},
		{"none to unhealthy", models.HealthNone, models.HealthUnhealthy, false, false},
		{"unhealthy to unhealthy", models.HealthUnhealthy, models.HealthUnhealthy, false, false},
		{"unhealthy to healthy", models.HealthUnhealthy, models.HealthHealthy, false, true},
		{"healthy to healthy", models.HealthHealthy, models.HealthHealthy, false, false},
		{"starting to healthy", models.HealthStarting, models.HealthHealthy, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &ContainerState{PreviousHealth: tt.prev, CurrentHealth: tt.current}
			assert.Equal(t, tt.unhealthy, state.IsUnhealthyTransition())
			assert.Equal(t, tt.recovery, state.IsRecoveryTransition())
		})
	}
}

func TestDowntimeCapturedOnRecovery(t *testing.T) {
	tracker := NewStateTracker(3)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }

	tracker.Update("abc", "web", 10, 10, models.HealthHealthy)
	tracker.Update("abc", "web", 10, 10, models.HealthUnhealthy)

	clock = clock.Add(10 * time.Minute)
	state := tracker.Update("abc", "web", 10, 10, models.HealthHealthy)

	require.True(t, state.IsRecoveryTransition())
	downtime, ok := state.Downtime()
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, downtime)

	// Downtime is only meaningful during the recovery transition itself.
	tracker.Update("abc", "web", 10, 10, models.HealthHealthy)
	_, ok = state.Downtime()
	assert.False(t, ok)
}

func TestCooldownWindow(t *testing.T) {
	state := newContainerState("abc", "web", 3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 15 * time.Minute

	assert.False(t, state.InCooldown(KindHighCPU, cooldown, base), "never alerted means never in cooldown")

	state.MarkAlertSent(KindHighCPU, base)
	assert.True(t, state.CPUAlertActive)
	assert.True(t, state.InCooldown(KindHighCPU, cooldown, base.Add(14*time.Minute)))
	assert.False(t, state.InCooldown(KindHighCPU, cooldown, base.Add(15*time.Minute)), "cooldown ends exactly at the window")

	// Kinds keep independent clocks.
	assert.False(t, state.InCooldown(KindHighRAM, cooldown, base.Add(time.Minute)))
}

func TestMarkAlertSentLatches(t *testing.T) {
	state := newContainerState("abc", "web", 3)
	now := time.Now()

	state.MarkAlertSent(KindHighRAM, now)
	assert.True(t, state.RAMAlertActive)
	state.MarkAlertSent(KindUnhealthy, now)
	assert.True(t, state.HealthAlertActive)

	// Recovery stamps a cooldown but has no latch to set.
	state.MarkAlertSent(KindRecovery, now)
	assert.True(t, state.InCooldown(KindRecovery, time.Minute, now))

	state.ClearAlert(KindHighRAM)
	assert.False(t, state.RAMAlertActive)
	assert.True(t, state.HealthAlertActive)
}

func TestEvictNotIn(t *testing.T) {
	tracker := NewStateTracker(3)
	tracker.Update("a", "one", 10, 10, models.HealthNone)
	tracker.Update("b", "two", 10, 10, models.HealthNone)
	tracker.Update("c", "three", 10, 10, models.HealthNone)

	tracker.EvictNotIn(map[string]struct{}{"a": {}, "c": {}})

	assert.Equal(t, 2, tracker.Len())
	assert.NotNil(t, tracker.Get("a"))
	assert.Nil(t, tracker.Get("b"))
	assert.NotNil(t, tracker.Get("c"))
}

func TestClearAlertIfNormalNeedsStrictlyBelow(t *testing.T) {
	tracker := NewStateTracker(3)

	state := tracker.Update("abc", "web", 85, 85, models.HealthNone)
	state.MarkAlertSent(KindHighCPU, time.Now())
	state.MarkAlertSent(KindHighRAM, time.Now())

	// Exactly at the threshold does not clear the latch.
	tracker.Update("abc", "web", 80, 80, models.HealthNone)
	tracker.ClearCPUAlertIfNormal("abc", 80)
	tracker.ClearRAMAlertIfNormal("abc", 80)
	assert.True(t, state.CPUAlertActive)
	assert.True(t, state.RAMAlertActive)

	tracker.Update("abc", "web", 79.9, 79.9, models.HealthNone)
	tracker.ClearCPUAlertIfNormal("abc", 80)
	tracker.ClearRAMAlertIfNormal("abc", 80)
	assert.False(t, state.CPUAlertActive)
	assert.False(t, state.RAMAlertActive)

	// Unknown container ids are a no-op.
	tracker.ClearCPUAlertIfNormal("missing", 80)
}

func TestSummariesSnapshot(t *testing.T) {
	tracker := NewStateTracker(3)
	tracker.Update("a", "one", 10, 20, models.HealthHealthy)

	summaries := tracker.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, "a", summaries[0].ContainerID)
	assert.Equal(t, "one", summaries[0].ContainerName)
	assert.Equal(t, models.HealthHealthy, summaries[0].Health)
	assert.Equal(t, []float64{10}, summaries[0].CPUHistory)
	assert.Equal(t, []float64{20}, summaries[0].RAMHistory)
}
