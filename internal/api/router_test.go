package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

type fakeDaemon struct {
	stats      models.SystemStats
	containers map[string][]models.ContainerInfo
	images     []models.ImageInfo
	err        error
}

func (f *fakeDaemon) SystemStats(_ context.Context) (models.SystemStats, error) {
	return f.stats, f.err
}

func (f *fakeDaemon) Containers(_ context.Context, state string) ([]models.ContainerInfo, error) {
	return f.containers[state], f.err
}

func (f *fakeDaemon) Images(_ context.Context) ([]models.ImageInfo, error) {
	return f.images, f.err
}

const routerConfigYAML = `
app:
  base_url: http://localhost:5001
thresholds:
  cpu_percent: 80
  ram_percent: 85
  duration_minutes: 1
email:
  enabled: false
`

func newTestRouter(t *testing.T, daemon *fakeDaemon) http.Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.yml")
	require.NoError(t, os.WriteFile(path, []byte(routerConfigYAML), 0644))
	store, err := config.NewStore(path)
	require.NoError(t, err)

	detector := alerts.NewDetector(alerts.NewStateTracker(3))
	return NewRouter(store, daemon, detector, "1.2.3")
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &fakeDaemon{})
	rec := doGet(t, router, "/api/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestStatsEndpoint(t *testing.T) {
	daemon := &fakeDaemon{stats: models.SystemStats{
		ImagesCount:       4,
		RunningContainers: 2,
		CPUUsage:          37.5,
	}}
	router := newTestRouter(t, daemon)
	rec := doGet(t, router, "/api/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	var body models.SystemStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.ImagesCount)
	assert.Equal(t, 2, body.RunningContainers)
	assert.Equal(t, 37.5, body.CPUUsage)
}

func TestContainersEndpoints(t *testing.T) {
	daemon := &fakeDaemon{containers: map[string][]models.ContainerInfo{
		"running": {{Name: "web", State: "running"}},
		"stopped": {{Name: "old", State: "exited"}},
	}}
	router := newTestRouter(t, daemon)

	rec := doGet(t, router, "/api/containers/running")
	require.Equal(t, http.StatusOK, rec.Code)
	var running []models.ContainerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &running))
	require.Len(t, running, 1)
	assert.Equal(t, "web", running[0].Name)

	rec = doGet(t, router, "/api/containers/stopped")
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped []models.ContainerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	require.Len(t, stopped, 1)
	assert.Equal(t, "old", stopped[0].Name)
}

func TestImagesEndpoint(t *testing.T) {
	daemon := &fakeDaemon{images: []models.ImageInfo{{Name: "nginx:latest", InUse: true}}}
	router := newTestRouter(t, daemon)

	rec := doGet(t, router, "/api/images")
	require.Equal(t, http.StatusOK, rec.Code)
	var images []models.ImageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 1)
	assert.True(t, images[0].InUse)
}

func TestAlertsEndpoint(t *testing.T) {
	router := newTestRouter(t, &fakeDaemon{})
	rec := doGet(t, router, "/api/alerts")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// Email channel is off in the test config, so alerting is inert.
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, 80.0, body["cpuThreshold"])
	assert.Equal(t, 0.0, body["trackedCount"])
}

func TestDaemonErrorsMapToBadGateway(t *testing.T) {
	daemon := &fakeDaemon{err: errors.New("daemon down")}
	router := newTestRouter(t, daemon)

	for _, path := range []string{"/api/stats", "/api/containers/running", "/api/images"} {
		rec := doGet(t, router, path)
		assert.Equal(t, http.StatusBadGateway, rec.Code, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &fakeDaemon{})
	req := httptest.NewRequest(http.MethodPost, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
