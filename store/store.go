// Package store defines the persistent-store collaborator boundary for the
// streaming subsystem: recency-ordered watermark reads for the pollers,
// point writes for commands, and point-in-time lookups for queries.
//
// Two implementations are provided: Memory for development and tests, and
// Postgres for deployment.
package store

import (
	"context"
	"time"
)

// MetricRow is a performance metric sample
type MetricRow struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipmentId"`
	Name        string    `json:"name"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertRow is a platform alert
type AlertRow struct {
	ID             string    `json:"id"`
	EquipmentID    string    `json:"equipmentId"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	Acknowledged   bool      `json:"acknowledged"`
	AcknowledgedBy string    `json:"acknowledgedBy,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// QualityRow is a quality measurement against a target and tolerance
type QualityRow struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipmentId"`
	Parameter   string    `json:"parameter"`
	Actual      float64   `json:"actual"`
	Target      float64   `json:"target"`
	Tolerance   float64   `json:"tolerance"`
	Timestamp   time.Time `json:"timestamp"`
}

// WithinSpec reports whether the reading is inside tolerance of target
func (q QualityRow) WithinSpec() bool {
	diff := q.Actual - q.Target
	if diff < 0 {
		diff = -diff
	}
	return diff <= q.Tolerance
}

// EquipmentRow is an equipment state record
type EquipmentRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LineID    string    `json:"lineId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Annotation is a user note attached to a point in the production timeline
type Annotation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId,omitempty"`
	EquipmentID string    `json:"equipmentId,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OEESnapshot is a point-in-time overall-equipment-effectiveness reading
type OEESnapshot struct {
	EquipmentID  string    `json:"equipmentId"`
	Availability float64   `json:"availability"`
	Performance  float64   `json:"performance"`
	Quality      float64   `json:"quality"`
	OEE          float64   `json:"oee"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProductionRate is a production throughput figure over a window
type ProductionRate struct {
	LineID       string        `json:"lineId,omitempty"`
	Units        int           `json:"units"`
	UnitsPerHour float64       `json:"unitsPerHour"`
	Window       time.Duration `json:"window"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Store is the persistent-store boundary. All Since reads return rows with
// timestamp strictly greater than since, ordered newest first, capped at
// limit rows.
type Store interface {
	// Watermark reads for the pollers
	MetricsSince(ctx context.Context, since time.Time, limit int) ([]MetricRow, error)
	AlertsSince(ctx context.Context, since time.Time, limit int) ([]AlertRow, error)
	QualitySince(ctx context.Context, since time.Time, limit int) ([]QualityRow, error)
	EquipmentSince(ctx context.Context, since time.Time, limit int) ([]EquipmentRow, error)

	// Point writes for commands
	AcknowledgeAlert(ctx context.Context, alertID, userID string) (*AlertRow, error)
	UpdateEquipmentStatus(ctx context.Context, equipmentID, status string) (*EquipmentRow, error)
	CreateAnnotation(ctx context.Context, a Annotation) (*Annotation, error)

	// Point-in-time queries
	CurrentOEE(ctx context.Context, equipmentID string) ([]OEESnapshot, error)
	ActiveAlerts(ctx context.Context, severity string) ([]AlertRow, error)
	EquipmentStatus(ctx context.Context, equipmentIDs []string) ([]EquipmentRow, error)
	ProductionRate(ctx context.Context, lineID string, window time.Duration) (*ProductionRate, error)

	// Close releases any connections held by the implementation
	Close()
}
