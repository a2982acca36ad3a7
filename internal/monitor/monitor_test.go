package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

const testConfigYAML = `
app:
  base_url: http://localhost:5001
monitor:
  interval_seconds: 1
  history_buffer: 3
thresholds:
  cpu_percent: 80
  ram_percent: 85
  duration_minutes: 1
alerts:
  enabled: true
  cooldown_minutes: 15
  recovery_cooldown_minutes: 5
email:
  enabled: true
  smtp_server: smtp.example.com
  smtp_port: 587
  sender_email: watcher@example.com
  sender_password: secret
  recipient_emails:
    - ops@example.com
`

func newTestStore(t *testing.T, yaml string) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	store, err := config.NewStore(path)
	require.NoError(t, err)
	return store
}

// scriptedSource returns one prepared sample set per call.
type scriptedSource struct {
	sets [][]models.Sample
	errs []error
	call int
}

func (s *scriptedSource) Samples(_ context.Context) ([]models.Sample, error) {
	i := s.call
	s.call++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.sets) {
		return s.sets[i], nil
	}
	return nil, nil
}

type recordingSink struct {
	samples []models.Sample
}

func (r *recordingSink) Write(sample models.Sample) {
	r.samples = append(r.samples, sample)
}

type recordingNotifier struct {
	batches    []alerts.Batch
	recoveries []alerts.Event
	batchErr   error
}

func (r *recordingNotifier) SendBatch(_ *config.Config, batch alerts.Batch) error {
	r.batches = append(r.batches, batch)
	return r.batchErr
}

func (r *recordingNotifier) SendRecovery(_ *config.Config, event alerts.Event) error {
	r.recoveries = append(r.recoveries, event)
	return nil
}

func sample(id, name string, cpu float64, health models.HealthStatus) models.Sample {
	return models.Sample{
		ContainerID:   id,
		ContainerName: name,
		CPUPercent:    cpu,
		RAMPercent:    10,
		Health:        health,
		Timestamp:     time.Now(),
	}
}

func newTestMonitor(t *testing.T, source SampleSource, sink HistorySink, notifier Notifier) *Monitor {
	t.Helper()
	store := newTestStore(t, testConfigYAML)
	detector := alerts.NewDetector(alerts.NewStateTracker(3))
	return New(store, source, detector, sink, notifier)
}

func TestTickSendsBatchAfterSustainedLoad(t *testing.T) {
	high := []models.Sample{sample("c1", "hot", 95, models.HealthNone)}
	source := &scriptedSource{sets: [][]models.Sample{high, high, high}}
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, source, nil, notifier)

	ctx := context.Background()
	m.Tick(ctx)
	m.Tick(ctx)
	assert.Empty(t, notifier.batches, "no alert before the window fills")

	m.Tick(ctx)
	require.Len(t, notifier.batches, 1)
	require.Len(t, notifier.batches[0].Warning, 1)
	assert.Equal(t, alerts.KindHighCPU, notifier.batches[0].Warning[0].Kind)
}

func TestTickSendsRecoveryEmailsIndividually(t *testing.T) {
	source := &scriptedSource{sets: [][]models.Sample{
		{sample("c1", "api", 10, models.HealthHealthy)},
		{sample("c1", "api", 10, models.HealthUnhealthy)},
		{sample("c1", "api", 10, models.HealthHealthy)},
	}}
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, source, nil, notifier)

	ctx := context.Background()
	m.Tick(ctx)
	m.Tick(ctx)
	require.Len(t, notifier.batches, 1, "unhealthy transition sends a batch")
	require.Len(t, notifier.batches[0].Critical, 1)

	m.Tick(ctx)
	// Recovery alone produces no batch email, only the recovery notice.
	assert.Len(t, notifier.batches, 1)
	require.Len(t, notifier.recoveries, 1)
	assert.Equal(t, "api", notifier.recoveries[0].ContainerName)
}

func TestTickWritesAllSamplesToHistory(t *testing.T) {
	set := []models.Sample{
		sample("c1", "web", 10, models.HealthNone),
		sample("c2", "db", 20, models.HealthNone),
	}
	source := &scriptedSource{sets: [][]models.Sample{set}}
	sink := &recordingSink{}
	m := newTestMonitor(t, source, sink, &recordingNotifier{})

	m.Tick(context.Background())
	require.Len(t, sink.samples, 2)
	assert.Equal(t, "web", sink.samples[0].ContainerName)
	assert.Equal(t, "db", sink.samples[1].ContainerName)
}

func TestTickSkipsCycleOnCollectorError(t *testing.T) {
	source := &scriptedSource{errs: []error{errors.New("daemon unavailable")}}
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, source, sink, notifier)

	m.Tick(context.Background())
	assert.Empty(t, sink.samples)
	assert.Empty(t, notifier.batches)
}

func TestTickSurvivesNotifierError(t *testing.T) {
	source := &scriptedSource{sets: [][]models.Sample{
		{sample("c1", "api", 10, models.HealthHealthy)},
		{sample("c1", "api", 10, models.HealthUnhealthy)},
	}}
	notifier := &recordingNotifier{batchErr: errors.New("smtp down")}
	m := newTestMonitor(t, source, nil, notifier)

	ctx := context.Background()
	m.Tick(ctx)
	m.Tick(ctx)
	// The error is logged; the loop keeps going and state stays consistent.
	require.Len(t, notifier.batches, 1)
}

func TestAlertsDisabledSuppressesNotifications(t *testing.T) {
	yaml := `
app:
  base_url: http://localhost:5001
thresholds:
  cpu_percent: 80
  ram_percent: 85
  duration_minutes: 1
alerts:
  enabled: false
email:
  enabled: false
`
	store := newTestStore(t, yaml)
	source := &scriptedSource{sets: [][]models.Sample{
		{sample("c1", "api", 10, models.HealthHealthy)},
		{sample("c1", "api", 10, models.HealthUnhealthy)},
	}}
	notifier := &recordingNotifier{}
	detector := alerts.NewDetector(alerts.NewStateTracker(3))
	m := New(store, source, detector, nil, notifier)

	ctx := context.Background()
	m.Tick(ctx)
	m.Tick(ctx)
	assert.Empty(t, notifier.batches)
	assert.Empty(t, notifier.recoveries)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{}
	m := newTestMonitor(t, source, nil, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	m.after = func(_ time.Duration) <-chan time.Time {
		cancel()
		// Never fires; cancellation wins the select.
		return make(chan time.Time)
	}

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, source.call, "exactly one tick before shutdown")
}
