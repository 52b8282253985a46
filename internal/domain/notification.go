package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationSeverity string

const (
	SeverityInfo     NotificationSeverity = "info"
	SeverityWarning  NotificationSeverity = "warning"
	SeverityCritical NotificationSeverity = "critical"
)

// Notification is a fire-and-forget operator alert. DedupKey lets the
// receiving side collapse repeats of the same condition.
type Notification struct {
	ID       uuid.UUID
	Source   string
	Type     string
	Severity NotificationSeverity
	DedupKey string

	TradeID        int64
	IdempotencyKey string
	Message        string

	CreatedAt time.Time
}
