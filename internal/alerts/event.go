package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the condition an alert event reports.
type Kind string

const (
	KindUnhealthy Kind = "unhealthy"
	KindHighCPU   Kind = "high_cpu"
	KindHighRAM   Kind = "high_ram"
	KindRecovery  Kind = "recovery"
)

// Severity ranks an alert event for batch partitioning.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event is one immutable alert occurrence. Resource events (high_cpu,
// high_ram) carry Value and History; recovery events carry Downtime; health
// events carry neither. Use the constructors so each kind keeps its shape.
type Event struct {
	ID            string    `json:"id"`
	ContainerID   string    `json:"containerId"`
	ContainerName string    `json:"containerName"`
	Kind          Kind      `json:"kind"`
	Severity      Severity  `json:"severity"`
	Value         *float64  `json:"value,omitempty"`
	History       []float64 `json:"history,omitempty"`
	Downtime      string    `json:"downtime,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func newResourceEvent(kind Kind, containerID, containerName string, value float64, history []float64, ts time.Time) Event {
	v := value
	return Event{
		ID:            uuid.NewString(),
		ContainerID:   containerID,
		ContainerName: containerName,
		Kind:          kind,
		Severity:      SeverityWarning,
		Value:         &v,
		History:       history,
		Timestamp:     ts,
	}
}

func newUnhealthyEvent(containerID, containerName string, ts time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		ContainerID:   containerID,
		ContainerName: containerName,
		Kind:          KindUnhealthy,
		Severity:      SeverityCritical,
		Timestamp:     ts,
	}
}

func newRecoveryEvent(containerID, containerName, downtime string, ts time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		ContainerID:   containerID,
		ContainerName: containerName,
		Kind:          KindRecovery,
		Severity:      SeverityInfo,
		Downtime:      downtime,
		Timestamp:     ts,
	}
}

// FormatDowntime renders an unhealthy period as whole minutes, matching the
// granularity shown in recovery notifications.
func FormatDowntime(d time.Duration) string {
	minutes := int(d.Minutes())
	return fmt.Sprintf("%d minutes", minutes)
}

// Batch groups the events of one detection tick by how they should be
// notified. Recovery events are severity info and appear only in Recovery;
// they never count as actionable.
type Batch struct {
	Critical  []Event   `json:"critical"`
	Warning   []Event   `json:"warning"`
	Recovery  []Event   `json:"recovery"`
	Timestamp time.Time `json:"timestamp"`
}

// HasActionable reports whether the batch carries critical or warning events.
func (b Batch) HasActionable() bool {
	return len(b.Critical) > 0 || len(b.Warning) > 0
}

// HasRecovery reports whether the batch carries recovery events.
func (b Batch) HasRecovery() bool {
	return len(b.Recovery) > 0
}

// ActionableCount is the number of critical plus warning events.
func (b Batch) ActionableCount() int {
	return len(b.Critical) + len(b.Warning)
}
