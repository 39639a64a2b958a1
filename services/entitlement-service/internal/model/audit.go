package model

import (
	"encoding/json"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AuditLogEntry is an append-only record of a state-changing decision.
type AuditLogEntry struct {
	ID        string          `json:"id"`
	Entity    string          `json:"entity"`
	RecordID  string          `json:"record_id"`
	Operation string          `json:"operation"`
	ChangedBy string          `json:"changed_by"`
	Severity  Severity        `json:"severity"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	At        time.Time       `json:"at"`
}
