// Package models defines the shared data types exchanged between the
// collector, the alert engine, the history store and the dashboard API.
package models

import (
	"strings"
	"time"
)

// HealthStatus is the docker healthcheck state of a container.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthNone      HealthStatus = "none"
)

// ParseHealth normalizes a docker inspect health string. Containers without a
// healthcheck report an empty string, which maps to HealthNone.
func ParseHealth(value string) HealthStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	case "starting":
		return HealthStarting
	case "", "none":
		return HealthNone
	default:
		return HealthUnknown
	}
}

// Sample is one per-container measurement produced by the collector each tick.
type Sample struct {
	ContainerID   string       `json:"containerId"`
	ContainerName string       `json:"containerName"`
	CPUPercent    float64      `json:"cpuPercent"`
	RAMPercent    float64      `json:"ramPercent"`
	Health        HealthStatus `json:"health"`

	// Extended metrics kept for the history store only; the alert engine
	// never reads these.
	MemUsageMB  float64   `json:"memUsageMb"`
	NetInputMB  float64   `json:"netInputMb"`
	NetOutputMB float64   `json:"netOutputMb"`
	DiskReadMB  float64   `json:"diskReadMb"`
	DiskWriteMB float64   `json:"diskWriteMb"`
	Timestamp   time.Time `json:"timestamp"`
}

// ContainerInfo is the dashboard view of a container.
type ContainerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	State  string `json:"state"`
	Status string `json:"status"`
	Ports  string `json:"ports"`
}

// ImageInfo is the dashboard view of a docker image.
type ImageInfo struct {
	Name    string  `json:"name"`
	ID      string  `json:"id"`
	SizeMB  float64 `json:"size"`
	Created string  `json:"created"`
	InUse   bool    `json:"in_use"`
}

// SystemStats summarizes the docker daemon and host for the dashboard.
type SystemStats struct {
	ImagesCount       int     `json:"images_count"`
	TotalContainers   int     `json:"total_containers"`
	RunningContainers int     `json:"running_containers"`
	StoppedContainers int     `json:"stopped_containers"`
	CPUUsage          float64 `json:"cpu_usage"`
	RAMUsage          float64 `json:"ram_usage"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
}
