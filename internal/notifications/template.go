package notifications

import (
	"fmt"
	"html"
	"strings"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
)

const (
	criticalColor = "#ef4444"
	warningColor  = "#f59e0b"
	recoveryColor = "#22c55e"

	timestampLayout = "2006-01-02 15:04:05"
)

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatHistory(history []float64, sep string) string {
	parts := make([]string, len(history))
	for i, v := range history {
		parts[i] = fmt.Sprintf("%.1f%%", v)
	}
	return strings.Join(parts, sep)
}

// BatchSubject builds the subject line for an aggregate alert email.
func BatchSubject(batch alerts.Batch) string {
	criticalCount := len(batch.Critical)
	warningCount := len(batch.Warning)

	if criticalCount > 0 {
		subject := fmt.Sprintf("CRITICAL: %d Container Issue%s", criticalCount, plural(criticalCount))
		if warningCount > 0 {
			subject += fmt.Sprintf(" (+ %d Warning%s)", warningCount, plural(warningCount))
		}
		return subject
	}
	return fmt.Sprintf("WARNING: %d Resource Alert%s", warningCount, plural(warningCount))
}

// BatchTemplate generates the HTML and plain text bodies for an aggregate
// alert email covering the batch's critical and warning events.
func BatchTemplate(cfg *config.Config, batch alerts.Batch) (subject, htmlBody, textBody string) {
	subject = BatchSubject(batch)
	baseURL := cfg.App.BaseURL

	criticalCount := len(batch.Critical)
	warningCount := len(batch.Warning)

	var titleParts []string
	if criticalCount > 0 {
		titleParts = append(titleParts, fmt.Sprintf("%d Critical Issue%s", criticalCount, plural(criticalCount)))
	}
	if warningCount > 0 {
		titleParts = append(titleParts, fmt.Sprintf("%d Warning%s", warningCount, plural(warningCount)))
	}
	prefix := "WARNING"
	if criticalCount > 0 {
		prefix = "CRITICAL"
	}
	title := prefix + ": " + strings.Join(titleParts, " + ")

	var body strings.Builder
	body.WriteString(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Docker Watcher Alert</title>
</head>
<body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background: linear-gradient(135deg, #1e293b 0%%, #0f172a 100%%); color: #e2e8f0;">
    <div style="max-width: 800px; margin: 0 auto; padding: 40px 20px;">
        <div style="text-align: center; margin-bottom: 40px;">
            <h1 style="color: #3b82f6; font-size: 32px; margin: 0 0 10px 0;">Docker Watcher</h1>
            <p style="color: #94a3b8; font-size: 16px; margin: 0;">Container Monitoring Alert System</p>
        </div>
        <div style="background: rgba(239, 68, 68, 0.15); border: 2px solid %s; border-radius: 12px; padding: 20px; margin-bottom: 30px; text-align: center;">
            <h2 style="margin: 0; color: %s; font-size: 24px;">%s</h2>
            <p style="margin: 10px 0 0 0; color: #94a3b8; font-size: 14px;">%s</p>
        </div>
        <div style="background: rgba(30, 41, 59, 0.6); border: 1px solid #334155; border-radius: 12px; padding: 30px;">
`,
		criticalColor, criticalColor,
		html.EscapeString(title),
		batch.Timestamp.Format(timestampLayout),
	))

	if criticalCount > 0 {
		body.WriteString(renderSection(cfg, batch.Critical, "CRITICAL ALERTS", criticalColor))
	}
	if warningCount > 0 {
		body.WriteString(renderSection(cfg, batch.Warning, "WARNING ALERTS", warningColor))
	}

	body.WriteString(fmt.Sprintf(`        </div>
        <div style="text-align: center; margin-top: 30px; padding-top: 20px; border-top: 1px solid #334155;">
            <p style="color: #64748b; font-size: 14px; margin: 0 0 10px 0;">Docker Watcher Alert System</p>
            <a href="%s" style="color: #3b82f6; text-decoration: none; font-size: 14px;">View Full Dashboard</a>
        </div>
    </div>
</body>
</html>`, html.EscapeString(baseURL)))

	return subject, body.String(), batchPlainText(cfg, batch)
}

// renderSection renders one severity block of the aggregate email.
func renderSection(cfg *config.Config, events []alerts.Event, label, color string) string {
	var section strings.Builder
	section.WriteString(fmt.Sprintf(`            <div style="margin-bottom: 30px;">
                <div style="background: %s22; border-left: 4px solid %s; padding: 15px; border-radius: 8px; margin-bottom: 15px;">
                    <h2 style="margin: 0; color: %s; font-size: 18px;">%s (%d)</h2>
                </div>
`, color, color, color, label, len(events)))

	for _, event := range events {
		name := html.EscapeString(event.ContainerName)
		section.WriteString(fmt.Sprintf(`                <div style="background: #1e293b; border: 1px solid #334155; border-radius: 8px; padding: 20px; margin-bottom: 15px; border-left: 4px solid %s;">
                    <h3 style="margin: 0 0 10px 0; color: #e2e8f0; font-size: 16px;">%s <span style="color: #64748b; font-size: 14px;">(ID: %s)</span></h3>
`, color, name, html.EscapeString(shortID(event.ContainerID))))

		switch event.Kind {
		case alerts.KindUnhealthy:
			section.WriteString(fmt.Sprintf(`                    <p style="margin: 8px 0; color: #e2e8f0;"><strong>Status:</strong> <span style="color: %s;">UNHEALTHY</span></p>
                    <p style="margin: 8px 0; color: #94a3b8; font-size: 14px;">Time: %s</p>
`, color, event.Timestamp.Format(timestampLayout)))
		case alerts.KindHighCPU, alerts.KindHighRAM:
			resource := "CPU"
			threshold := cfg.CPUThresholdFor(event.ContainerName)
			if event.Kind == alerts.KindHighRAM {
				resource = "RAM"
				threshold = cfg.RAMThresholdFor(event.ContainerName)
			}
			value := 0.0
			if event.Value != nil {
				value = *event.Value
			}
			section.WriteString(fmt.Sprintf(`                    <p style="margin: 8px 0; color: #e2e8f0;"><strong>Issue:</strong> High %s Usage</p>
                    <p style="margin: 8px 0; color: #e2e8f0;"><strong>Current:</strong> <span style="color: %s; font-size: 18px; font-weight: bold;">%.1f%%</span> <span style="color: #64748b;">(threshold: %g%%)</span></p>
`, resource, color, value, threshold))
			if len(event.History) > 0 {
				section.WriteString(fmt.Sprintf(`                    <p style="margin: 8px 0; color: #94a3b8; font-size: 13px;">History: %s</p>
`, formatHistory(event.History, " &rarr; ")))
			}
		}

		containerURL := fmt.Sprintf("%s/container/%s", cfg.App.BaseURL, event.ContainerID)
		section.WriteString(fmt.Sprintf(`                    <div style="margin-top: 15px;">
                        <a href="%s" style="display: inline-block; background: #3b82f6; color: white; padding: 8px 16px; text-decoration: none; border-radius: 6px; font-size: 14px;">View Container Details</a>
                    </div>
                </div>
`, html.EscapeString(containerURL)))
	}

	section.WriteString("            </div>\n")
	return section.String()
}

func batchPlainText(cfg *config.Config, batch alerts.Batch) string {
	baseURL := cfg.App.BaseURL
	var text strings.Builder

	text.WriteString("Docker Watcher - Container Alerts\n")
	text.WriteString("===================================\n\n")
	text.WriteString(fmt.Sprintf("Timestamp: %s\n", batch.Timestamp.Format(timestampLayout)))

	writeEvents := func(label string, events []alerts.Event) {
		text.WriteString(fmt.Sprintf("\n%s (%d)\n", label, len(events)))
		text.WriteString(strings.Repeat("=", 50) + "\n\n")
		for _, event := range events {
			text.WriteString(fmt.Sprintf("Container: %s (ID: %s)\n", event.ContainerName, shortID(event.ContainerID)))
			switch event.Kind {
			case alerts.KindUnhealthy:
				text.WriteString("Status: UNHEALTHY\n")
				text.WriteString(fmt.Sprintf("Time: %s\n", event.Timestamp.Format(timestampLayout)))
			case alerts.KindHighCPU, alerts.KindHighRAM:
				resource := "CPU"
				if event.Kind == alerts.KindHighRAM {
					resource = "RAM"
				}
				text.WriteString(fmt.Sprintf("Issue: High %s Usage\n", resource))
				if event.Value != nil {
					text.WriteString(fmt.Sprintf("Current: %.1f%%\n", *event.Value))
				}
				if len(event.History) > 0 {
					text.WriteString(fmt.Sprintf("History: %s\n", formatHistory(event.History, " -> ")))
				}
			}
			text.WriteString(fmt.Sprintf("Details: %s/container/%s\n\n", baseURL, event.ContainerID))
		}
	}

	if len(batch.Critical) > 0 {
		writeEvents("CRITICAL ALERTS", batch.Critical)
	}
	if len(batch.Warning) > 0 {
		writeEvents("WARNING ALERTS", batch.Warning)
	}

	text.WriteString("\n---\nDocker Watcher Alert System\n")
	text.WriteString(fmt.Sprintf("Dashboard: %s\n", baseURL))
	return text.String()
}

// RecoveryTemplate generates the subject, HTML and plain text bodies for a
// single container recovery email.
func RecoveryTemplate(cfg *config.Config, event alerts.Event) (subject, htmlBody, textBody string) {
	subject = fmt.Sprintf("RESOLVED: %s Container Recovered", event.ContainerName)
	baseURL := cfg.App.BaseURL
	containerURL := fmt.Sprintf("%s/container/%s", baseURL, event.ContainerID)

	downtimeHTML := ""
	if event.Downtime != "" {
		downtimeHTML = fmt.Sprintf(`                <p style="margin: 8px 0; color: #e2e8f0;"><strong>Downtime:</strong> <span style="color: %s;">%s</span></p>
`, warningColor, html.EscapeString(event.Downtime))
	}

	htmlBody = fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Docker Watcher - Container Recovered</title>
</head>
<body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background: linear-gradient(135deg, #1e293b 0%%, #0f172a 100%%); color: #e2e8f0;">
    <div style="max-width: 800px; margin: 0 auto; padding: 40px 20px;">
        <div style="text-align: center; margin-bottom: 40px;">
            <h1 style="color: #3b82f6; font-size: 32px; margin: 0 0 10px 0;">Docker Watcher</h1>
            <p style="color: #94a3b8; font-size: 16px; margin: 0;">Container Monitoring Alert System</p>
        </div>
        <div style="background: rgba(34, 197, 94, 0.15); border: 2px solid %s; border-radius: 12px; padding: 20px; margin-bottom: 30px; text-align: center;">
            <h2 style="margin: 0; color: %s; font-size: 24px;">RESOLVED: Container Recovered</h2>
            <p style="margin: 10px 0 0 0; color: #94a3b8; font-size: 14px;">%s</p>
        </div>
        <div style="background: rgba(30, 41, 59, 0.6); border: 1px solid #334155; border-radius: 12px; padding: 30px;">
            <div style="background: #1e293b; border: 1px solid #334155; border-radius: 8px; padding: 20px; border-left: 4px solid %s;">
                <h3 style="margin: 0 0 15px 0; color: #e2e8f0; font-size: 18px;">%s</h3>
                <p style="margin: 8px 0; color: #e2e8f0;"><strong>Container ID:</strong> <span style="color: #64748b;">%s</span></p>
                <p style="margin: 8px 0; color: #e2e8f0;"><strong>Previous Status:</strong> <span style="color: %s;">UNHEALTHY</span></p>
                <p style="margin: 8px 0; color: #e2e8f0;"><strong>Current Status:</strong> <span style="color: %s;">HEALTHY</span></p>
%s                <p style="margin: 8px 0; color: #94a3b8; font-size: 14px;">Recovered At: %s</p>
                <div style="margin-top: 20px;">
                    <a href="%s" style="display: inline-block; background: %s; color: white; padding: 10px 20px; text-decoration: none; border-radius: 6px; font-size: 14px; font-weight: 600;">View Container Details</a>
                </div>
            </div>
        </div>
        <div style="text-align: center; margin-top: 30px; padding-top: 20px; border-top: 1px solid #334155;">
            <p style="color: #64748b; font-size: 14px; margin: 0 0 10px 0;">Docker Watcher Alert System</p>
            <a href="%s" style="color: #3b82f6; text-decoration: none; font-size: 14px;">View Full Dashboard</a>
        </div>
    </div>
</body>
</html>`,
		recoveryColor, recoveryColor,
		event.Timestamp.Format(timestampLayout),
		recoveryColor,
		html.EscapeString(event.ContainerName),
		html.EscapeString(shortID(event.ContainerID)),
		criticalColor, recoveryColor,
		downtimeHTML,
		event.Timestamp.Format(timestampLayout),
		html.EscapeString(containerURL), recoveryColor,
		html.EscapeString(baseURL),
	)

	var text strings.Builder
	text.WriteString("Docker Watcher - Container Recovered\n")
	text.WriteString("=====================================\n\n")
	text.WriteString(fmt.Sprintf("Container: %s\n", event.ContainerName))
	text.WriteString(fmt.Sprintf("ID: %s\n\n", shortID(event.ContainerID)))
	text.WriteString("Previous Status: UNHEALTHY\n")
	text.WriteString("Current Status: HEALTHY\n")
	if event.Downtime != "" {
		text.WriteString(fmt.Sprintf("Downtime: %s\n", event.Downtime))
	}
	text.WriteString(fmt.Sprintf("\nRecovered At: %s\n\n", event.Timestamp.Format(timestampLayout)))
	text.WriteString(fmt.Sprintf("View Details: %s\n\n", containerURL))
	text.WriteString("---\nDocker Watcher Alert System\n")

	return subject, htmlBody, text.String()
}
