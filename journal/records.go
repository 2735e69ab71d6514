package journal

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDataset is the lode dataset ID used when none is configured.
const DefaultDataset = "spotlight"

// Record kinds, also the last Hive partition key.
const (
	RecordKindVisit   = "visit"
	RecordKindMetrics = "metrics"
)

// partitionKeys is the Hive layout of every journal dataset.
// Every record must carry all three keys.
var partitionKeys = []string{"day", "instance_id", "record_kind"}

// VisitRecord is the journal entry for one navigation outcome.
type VisitRecord struct {
	RecordID     string    `json:"record_id" yaml:"record_id"`
	InstanceID   string    `json:"instance_id" yaml:"instance_id"`
	UserID       string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Screen       string    `json:"screen" yaml:"screen"`
	Transition   uint64    `json:"transition" yaml:"transition"`
	RequestID    string    `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Phase        string    `json:"phase" yaml:"phase"`
	FetchOutcome string    `json:"fetch_outcome,omitempty" yaml:"fetch_outcome,omitempty"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	Campaigns    int       `json:"campaigns" yaml:"campaigns"`
	DurationMs   int64     `json:"duration_ms" yaml:"duration_ms"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp    time.Time `json:"ts" yaml:"ts"`
}

// Day formats t as the day partition value.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ToMap converts the record to its stored form.
func (r VisitRecord) ToMap() map[string]any {
	id := r.RecordID
	if id == "" {
		id = uuid.NewString()
	}
	m := map[string]any{
		"record_id":     id,
		"record_kind":   RecordKindVisit,
		"day":           Day(r.Timestamp),
		"instance_id":   r.InstanceID,
		"screen":        r.Screen,
		"transition":    r.Transition,
		"request_id":    r.RequestID,
		"phase":         r.Phase,
		"fetch_outcome": r.FetchOutcome,
		"source":        r.Source,
		"campaigns":     r.Campaigns,
		"duration_ms":   r.DurationMs,
		"ts":            r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if r.UserID != "" {
		m["user_id"] = r.UserID
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// visitFromMap decodes a stored visit record. Numbers arrive as float64
// from the JSONL codec.
func visitFromMap(m map[string]any) VisitRecord {
	r := VisitRecord{
		RecordID:     toString(m["record_id"]),
		InstanceID:   toString(m["instance_id"]),
		UserID:       toString(m["user_id"]),
		Screen:       toString(m["screen"]),
		Transition:   uint64(toInt64(m["transition"])),
		RequestID:    toString(m["request_id"]),
		Phase:        toString(m["phase"]),
		FetchOutcome: toString(m["fetch_outcome"]),
		Source:       toString(m["source"]),
		Campaigns:    int(toInt64(m["campaigns"])),
		DurationMs:   toInt64(m["duration_ms"]),
		Error:        toString(m["error"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, toString(m["ts"])); err == nil {
		r.Timestamp = ts
	}
	return r
}

// MetricsRecord builds the stored form of a metrics snapshot taken at ts.
// snapshot is typically metrics.Snapshot.ToMap().
func MetricsRecord(instanceID string, snapshot map[string]any, ts time.Time) map[string]any {
	m := make(map[string]any, len(snapshot)+5)
	for k, v := range snapshot {
		m[k] = v
	}
	m["record_id"] = uuid.NewString()
	m["record_kind"] = RecordKindMetrics
	m["day"] = Day(ts)
	m["instance_id"] = instanceID
	m["ts"] = ts.UTC().Format(time.RFC3339Nano)
	return m
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
