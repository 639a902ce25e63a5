package domain

import "time"

// AlertKind classifies operator alerts.
type AlertKind string

const (
	AlertSafeMode          AlertKind = "safe_mode"
	AlertFeePayerShortfall AlertKind = "fee_payer_shortfall"
	AlertRefillFailed      AlertKind = "refill_failed"
)

// AlertSeverity ranks alerts.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert stands until an operator acknowledges it. Key deduplicates open
// alerts about the same condition.
type Alert struct {
	ID             string         `json:"id"`
	Kind           AlertKind      `json:"kind"`
	Severity       AlertSeverity  `json:"severity"`
	Key            string         `json:"key"`
	Message        string         `json:"message"`
	Detail         map[string]any `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
}

// Open reports whether the alert is unacknowledged.
func (a Alert) Open() bool { return a.AcknowledgedAt == nil }
