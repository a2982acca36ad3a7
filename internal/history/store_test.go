package history

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	config := DefaultConfig(filepath.Join(t.TempDir(), "history.db"))
	store, err := NewStore(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSample(name string, cpu float64, ts time.Time) models.Sample {
	return models.Sample{
		ContainerID:   "id-" + name,
		ContainerName: name,
		CPUPercent:    cpu,
		RAMPercent:    40,
		MemUsageMB:    256,
		Health:        models.HealthHealthy,
		Timestamp:     ts,
	}
}

func TestWriteFlushAndStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	store.Write(testSample("web", 10, now.Add(-time.Hour)))
	store.Write(testSample("web", 20, now))
	store.Write(testSample("db", 30, now))
	store.Flush()

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Records)
	assert.Equal(t, int64(2), stats.Containers)
	assert.Equal(t, now.Add(-time.Hour), stats.Oldest)
	assert.Equal(t, now, stats.Newest)
	assert.Greater(t, stats.DBSize, int64(0))
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	store := newTestStore(t)
	store.Flush()

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Records)
	assert.True(t, stats.Oldest.IsZero())
}

func TestContainersListing(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	for i := 0; i < 3; i++ {
		store.Write(testSample("web", 10, base.Add(time.Duration(i)*time.Minute)))
	}
	store.Write(testSample("db", 5, base))
	store.Flush()

	summaries, err := store.Containers()
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Ordered by name.
	assert.Equal(t, "db", summaries[0].Name)
	assert.Equal(t, int64(1), summaries[0].Samples)
	assert.Equal(t, "web", summaries[1].Name)
	assert.Equal(t, int64(3), summaries[1].Samples)
	assert.Equal(t, base, summaries[1].FirstSeen)
	assert.Equal(t, base.Add(2*time.Minute), summaries[1].LastSeen)
}

func TestRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	for i := 0; i < 5; i++ {
		store.Write(testSample("web", float64(i), base.Add(time.Duration(i)*time.Minute)))
	}
	store.Flush()

	samples, err := store.Recent("web", 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 4.0, samples[0].CPUPercent)
	assert.Equal(t, 2.0, samples[2].CPUPercent)
	assert.Equal(t, models.HealthHealthy, samples[0].Health)
}

func TestCleanupRemovesOldSamples(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	store.Write(testSample("web", 10, now.Add(-48*time.Hour)))
	store.Write(testSample("web", 20, now.Add(-30*time.Hour)))
	store.Write(testSample("web", 30, now))
	store.Flush()

	deleted, err := store.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)

	require.NoError(t, store.Vacuum())
}

func TestExportCSV(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	store.Write(testSample("web", 12.345, now))
	store.Write(testSample("db", 5, now))
	store.Flush()

	var buf bytes.Buffer
	count, err := store.ExportCSV(&buf, "web")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "container_id,container_name,cpu_percent"))
	assert.Contains(t, lines[1], "web")
	assert.Contains(t, lines[1], "12.35")
	assert.NotContains(t, buf.String(), "db,")

	// Unfiltered export includes everything.
	buf.Reset()
	count, err = store.ExportCSV(&buf, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestOpenForMaintenance(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := NewStore(DefaultConfig(dbPath))
	require.NoError(t, err)
	store.Write(testSample("web", 10, time.Now().UTC().Add(-48*time.Hour)))
	store.Flush()
	require.NoError(t, store.Close())

	maint, err := OpenForMaintenance(dbPath)
	require.NoError(t, err)
	defer maint.Close()

	stats, err := maint.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)

	// Maintenance commands delete and vacuum through this handle.
	removed, err := maint.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.NoError(t, maint.Vacuum())

	_, err = OpenForMaintenance(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
