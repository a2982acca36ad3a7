// Package docker samples resource usage and health from the local container
// runtime and exposes the daemon-level views used by the dashboard.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	systemtypes "github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
	gocpu "github.com/shirou/gopsutil/v4/cpu"
	gomem "github.com/shirou/gopsutil/v4/mem"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

const (
	perContainerTimeout = 15 * time.Second
	bytesPerMB          = 1024 * 1024
	bytesPerGB          = 1024 * 1024 * 1024
)

// apiClient is the slice of the docker SDK the collector depends on, kept
// narrow so tests can substitute a fake daemon.
type apiClient interface {
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]containertypes.Summary, error)
	ContainerInspectWithRaw(ctx context.Context, containerID string, getSize bool) (containertypes.InspectResponse, []byte, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (containertypes.StatsResponseReader, error)
	ImageList(ctx context.Context, options imagetypes.ListOptions) ([]imagetypes.Summary, error)
	Info(ctx context.Context) (systemtypes.Info, error)
	DaemonHost() string
	Close() error
}

// Seams for tests.
var (
	newClientFn = func(opts ...client.Opt) (apiClient, error) {
		return client.NewClientWithOpts(opts...)
	}
	hostCPUPercentFn   = gocpu.PercentWithContext
	hostVirtualMemFn   = gomem.VirtualMemoryWithContext
	hostCPUSampleDelay = 500 * time.Millisecond
)

// cpuSample is one previous CPU reading kept per container for manual delta
// calculation when the daemon omits PreCPUStats from one-shot stats.
type cpuSample struct {
	totalUsage  uint64
	systemUsage uint64
	onlineCPUs  uint32
	read        time.Time
}

// Collector talks to one container runtime. It is safe for concurrent use.
type Collector struct {
	docker   apiClient
	cpuCount int

	cpuMu               sync.Mutex
	prevCPU             map[string]cpuSample
	preCPUStatsFailures int
}

// NewCollector connects to the runtime via the environment (DOCKER_HOST et
// al.) and verifies the daemon answers before returning.
func NewCollector(ctx context.Context) (*Collector, error) {
	cli, err := newClientFn(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	info, err := cli.Info(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("query docker info: %w", err)
	}

	log.Info().
		Str("daemon_host", cli.DaemonHost()).
		Str("version", info.ServerVersion).
		Int("cpus", info.NCPU).
		Msg("Connected to container runtime")

	return &Collector{
		docker:   cli,
		cpuCount: info.NCPU,
		prevCPU:  make(map[string]cpuSample),
	}, nil
}

// Close releases the underlying client connection.
func (c *Collector) Close() error {
	return c.docker.Close()
}

// Samples collects one measurement per running container. A failure on one
// container is logged and skipped, never failing the whole sweep.
func (c *Collector) Samples(ctx context.Context) ([]models.Sample, error) {
	list, err := c.docker.ContainerList(ctx, containertypes.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	samples := make([]models.Sample, 0, len(list))
	active := make(map[string]struct{}, len(list))
	for _, summary := range list {
		active[summary.ID] = struct{}{}

		sample, err := c.collectSample(ctx, summary)
		if err != nil {
			log.Warn().
				Str("container", containerName(summary.Names)).
				Err(err).
				Msg("Failed to collect container stats")
			continue
		}
		samples = append(samples, sample)
	}

	c.pruneStaleCPUSamples(active)
	return samples, nil
}

func (c *Collector) collectSample(ctx context.Context, summary containertypes.Summary) (models.Sample, error) {
	containerCtx, cancel := context.WithTimeout(ctx, perContainerTimeout)
	defer cancel()

	inspect, _, err := c.docker.ContainerInspectWithRaw(containerCtx, summary.ID, false)
	if err != nil {
		return models.Sample{}, fmt.Errorf("inspect: %w", err)
	}

	health := ""
	if inspect.State != nil && inspect.State.Health != nil {
		health = inspect.State.Health.Status
	}

	statsResp, err := c.docker.ContainerStatsOneShot(containerCtx, summary.ID)
	if err != nil {
		return models.Sample{}, fmt.Errorf("stats: %w", err)
	}
	defer statsResp.Body.Close()

	var stats containertypes.StatsResponse
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		return models.Sample{}, fmt.Errorf("decode stats: %w", err)
	}

	memUsage, _, memPercent := calculateMemoryUsage(stats)
	rxBytes, txBytes := summarizeNetworkIO(stats)
	readBytes, writeBytes := summarizeBlockIO(stats)

	return models.Sample{
		ContainerID:   summary.ID,
		ContainerName: containerName(summary.Names),
		CPUPercent:    c.calculateContainerCPUPercent(summary.ID, stats),
		RAMPercent:    memPercent,
		Health:        models.ParseHealth(health),
		MemUsageMB:    float64(memUsage) / bytesPerMB,
		NetInputMB:    float64(rxBytes) / bytesPerMB,
		NetOutputMB:   float64(txBytes) / bytesPerMB,
		DiskReadMB:    float64(readBytes) / bytesPerMB,
		DiskWriteMB:   float64(writeBytes) / bytesPerMB,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// pruneStaleCPUSamples drops previous CPU readings for containers that are no
// longer running so the map cannot grow unbounded.
func (c *Collector) pruneStaleCPUSamples(active map[string]struct{}) {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()

	for id := range c.prevCPU {
		if _, ok := active[id]; !ok {
			delete(c.prevCPU, id)
		}
	}
}

// calculateContainerCPUPercent prefers the daemon-provided PreCPUStats delta
// and falls back to a manually tracked previous sample, since one-shot stats
// frequently omit PreCPUStats.
func (c *Collector) calculateContainerCPUPercent(containerID string, stats containertypes.StatsResponse) float64 {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()

	current := cpuSample{
		totalUsage:  stats.CPUStats.CPUUsage.TotalUsage,
		systemUsage: stats.CPUStats.SystemUsage,
		onlineCPUs:  stats.CPUStats.OnlineCPUs,
		read:        stats.Read,
	}

	if percent := calculateCPUPercent(stats, c.cpuCount); percent > 0 {
		c.prevCPU[containerID] = current
		return percent
	}

	c.preCPUStatsFailures++
	if c.preCPUStatsFailures == 10 {
		log.Warn().Msg("PreCPUStats consistently unavailable from the daemon, using manual CPU delta tracking")
	}

	prev, ok := c.prevCPU[containerID]
	c.prevCPU[containerID] = current
	if !ok {
		// First sighting; the next sweep has a baseline to diff against.
		return 0
	}

	var totalDelta float64
	if current.totalUsage >= prev.totalUsage {
		totalDelta = float64(current.totalUsage - prev.totalUsage)
	} else {
		// Counter reset, likely a container restart.
		totalDelta = float64(current.totalUsage)
	}
	if totalDelta <= 0 {
		return 0
	}

	onlineCPUs := current.onlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = prev.onlineCPUs
	}
	if onlineCPUs == 0 && c.cpuCount > 0 {
		onlineCPUs = uint32(c.cpuCount)
	}
	if onlineCPUs == 0 {
		return 0
	}

	if current.systemUsage > prev.systemUsage {
		systemDelta := float64(current.systemUsage - prev.systemUsage)
		return safeFloat((totalDelta / systemDelta) * float64(onlineCPUs) * 100.0)
	}

	// No usable system counter; derive the busy fraction from wall time.
	if !prev.read.IsZero() && !current.read.IsZero() {
		elapsed := current.read.Sub(prev.read).Seconds()
		if elapsed > 0 {
			return safeFloat((totalDelta / (elapsed * float64(onlineCPUs) * 1e9)) * 100.0)
		}
	}
	return 0
}

func calculateCPUPercent(stats containertypes.StatsResponse, hostCPUs int) float64 {
	totalDelta := float64(stats.CPUStats.CPUUsage.TotalUsage - stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage - stats.PreCPUStats.SystemUsage)
	if totalDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	onlineCPUs := stats.CPUStats.OnlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = uint32(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 && hostCPUs > 0 {
		onlineCPUs = uint32(hostCPUs)
	}
	if onlineCPUs == 0 {
		return 0
	}

	return safeFloat((totalDelta / systemDelta) * float64(onlineCPUs) * 100.0)
}

// calculateMemoryUsage subtracts the reclaimable filesystem cache from the raw
// usage counter to match what `docker stats` reports. cgroup v1 exposes it as
// "cache", cgroup v2 as "inactive_file".
func calculateMemoryUsage(stats containertypes.StatsResponse) (usage int64, limit int64, percent float64) {
	usage = int64(stats.MemoryStats.Usage)

	var cacheBytes uint64
	if cache, ok := stats.MemoryStats.Stats["cache"]; ok {
		cacheBytes = cache
	} else if inactiveFile, ok := stats.MemoryStats.Stats["inactive_file"]; ok {
		cacheBytes = inactiveFile
	}
	if cacheBytes > 0 && int64(cacheBytes) < usage {
		usage -= int64(cacheBytes)
	}

	limit = int64(stats.MemoryStats.Limit)
	if limit > 0 {
		percent = (float64(usage) / float64(limit)) * 100.0
	}
	return usage, limit, safeFloat(percent)
}

func summarizeNetworkIO(stats containertypes.StatsResponse) (rxBytes, txBytes uint64) {
	for _, network := range stats.Networks {
		rxBytes += network.RxBytes
		txBytes += network.TxBytes
	}
	return rxBytes, txBytes
}

func summarizeBlockIO(stats containertypes.StatsResponse) (readBytes, writeBytes uint64) {
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			readBytes += entry.Value
		case "write":
			writeBytes += entry.Value
		}
	}
	return readBytes, writeBytes
}

func safeFloat(val float64) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0
	}
	return val
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// Containers lists containers in the given state ("running" or "stopped");
// an empty state lists everything.
func (c *Collector) Containers(ctx context.Context, state string) ([]models.ContainerInfo, error) {
	list, err := c.docker.ContainerList(ctx, containertypes.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]models.ContainerInfo, 0, len(list))
	for _, summary := range list {
		switch state {
		case "running":
			if summary.State != containertypes.StateRunning {
				continue
			}
		case "stopped":
			if summary.State == containertypes.StateRunning {
				continue
			}
		}
		infos = append(infos, models.ContainerInfo{
			ID:     shortID(summary.ID),
			Name:   containerName(summary.Names),
			Image:  summary.Image,
			State:  string(summary.State),
			Status: summary.Status,
			Ports:  formatPorts(summary.Ports),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Images lists local images and flags the ones referenced by a container.
func (c *Collector) Images(ctx context.Context) ([]models.ImageInfo, error) {
	images, err := c.docker.ImageList(ctx, imagetypes.ListOptions{All: false})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	containers, err := c.docker.ContainerList(ctx, containertypes.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	inUse := make(map[string]struct{}, len(containers))
	for _, summary := range containers {
		inUse[summary.ImageID] = struct{}{}
	}

	infos := make([]models.ImageInfo, 0, len(images))
	for _, img := range images {
		name := "<none>:<none>"
		if len(img.RepoTags) > 0 {
			name = img.RepoTags[0]
		}
		_, used := inUse[img.ID]
		infos = append(infos, models.ImageInfo{
			Name:    name,
			ID:      shortID(strings.TrimPrefix(img.ID, "sha256:")),
			SizeMB:  float64(img.Size) / bytesPerMB,
			Created: time.Unix(img.Created, 0).UTC().Format("2006-01-02 15:04:05"),
			InUse:   used,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// SystemStats summarizes the daemon and the host for the dashboard header.
func (c *Collector) SystemStats(ctx context.Context) (models.SystemStats, error) {
	info, err := c.docker.Info(ctx)
	if err != nil {
		return models.SystemStats{}, fmt.Errorf("query docker info: %w", err)
	}

	cpuPercents, err := hostCPUPercentFn(ctx, hostCPUSampleDelay, false)
	if err != nil {
		return models.SystemStats{}, fmt.Errorf("read host cpu: %w", err)
	}
	vm, err := hostVirtualMemFn(ctx)
	if err != nil {
		return models.SystemStats{}, fmt.Errorf("read host memory: %w", err)
	}

	cpuUsage := 0.0
	if len(cpuPercents) > 0 {
		cpuUsage = cpuPercents[0]
	}

	return models.SystemStats{
		ImagesCount:       info.Images,
		TotalContainers:   info.Containers,
		RunningContainers: info.ContainersRunning,
		StoppedContainers: info.ContainersStopped + info.ContainersPaused,
		CPUUsage:          round1(cpuUsage),
		RAMUsage:          round1(vm.UsedPercent),
		RAMUsedGB:         round2(float64(vm.Used) / bytesPerGB),
		RAMTotalGB:        round2(float64(vm.Total) / bytesPerGB),
	}, nil
}

func formatPorts(ports []containertypes.Port) string {
	if len(ports) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ports))
	for _, port := range ports {
		if port.PublicPort > 0 {
			parts = append(parts, fmt.Sprintf("%d->%d/%s", port.PublicPort, port.PrivatePort, port.Type))
		} else {
			parts = append(parts, fmt.Sprintf("%d/%s", port.PrivatePort, port.Type))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
