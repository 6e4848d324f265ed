// Package notify delivers human-readable alerts for fills, rejections, and
// failures. Delivery is fire-and-forget: a broken channel is logged, never
// fatal to the engine.
package notify

import (
	"log/slog"
)

// Severity ranks an alert for routing and display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Notifier is the alert channel contract.
type Notifier interface {
	// Notify sends one alert. Implementations must never return an error
	// to the caller; failures are their own problem to log.
	Notify(severity Severity, title, body string)
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no external channel is configured, and a cheap second channel otherwise.
type LogNotifier struct {
	Log *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// Notify logs the alert at a level matching its severity.
func (n *LogNotifier) Notify(severity Severity, title, body string) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	switch severity {
	case SeverityInfo:
		log.Info(title, "alert", true, "body", body)
	case SeverityWarning:
		log.Warn(title, "alert", true, "body", body)
	default:
		log.Error(title, "alert", true, "body", body, "severity", severity)
	}
}

// Multi fans one alert out to several channels.
type Multi []Notifier

var _ Notifier = (Multi)(nil)

// Notify forwards the alert to every channel.
func (m Multi) Notify(severity Severity, title, body string) {
	for _, n := range m {
		n.Notify(severity, title, body)
	}
}
