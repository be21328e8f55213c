package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
)

// Memory is an in-process Store used by tests and the dev configuration.
// All reads honor the recency-ordered, watermark-filtered, capped contract.
type Memory struct {
	mu          sync.RWMutex
	metrics     []MetricRow
	alerts      []AlertRow
	quality     []QualityRow
	equipment   map[string]EquipmentRow
	annotations []Annotation
	oee         map[string]OEESnapshot
	production  []productionUnit
}

type productionUnit struct {
	lineID string
	at     time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		equipment: make(map[string]EquipmentRow),
		oee:       make(map[string]OEESnapshot),
	}
}

// AddMetric inserts a metric sample
func (m *Memory) AddMetric(row MetricRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	m.metrics = append(m.metrics, row)
}

// AddAlert inserts an alert
func (m *Memory) AddAlert(row AlertRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	m.alerts = append(m.alerts, row)
}

// AddQuality inserts a quality reading
func (m *Memory) AddQuality(row QualityRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	m.quality = append(m.quality, row)
}

// PutEquipment inserts or replaces an equipment record
func (m *Memory) PutEquipment(row EquipmentRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equipment[row.ID] = row
}

// PutOEE records the current OEE snapshot for a piece of equipment
func (m *Memory) PutOEE(snap OEESnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oee[snap.EquipmentID] = snap
}

// AddProductionUnit records one produced unit for rate queries
func (m *Memory) AddProductionUnit(lineID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.production = append(m.production, productionUnit{lineID: lineID, at: at})
}

// MetricsSince implements Store
func (m *Memory) MetricsSince(_ context.Context, since time.Time, limit int) ([]MetricRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MetricRow, 0)
	for _, row := range m.metrics {
		if row.Timestamp.After(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AlertsSince implements Store
func (m *Memory) AlertsSince(_ context.Context, since time.Time, limit int) ([]AlertRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRow, 0)
	for _, row := range m.alerts {
		if row.Timestamp.After(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QualitySince implements Store
func (m *Memory) QualitySince(_ context.Context, since time.Time, limit int) ([]QualityRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]QualityRow, 0)
	for _, row := range m.quality {
		if row.Timestamp.After(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EquipmentSince implements Store
func (m *Memory) EquipmentSince(_ context.Context, since time.Time, limit int) ([]EquipmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EquipmentRow, 0)
	for _, row := range m.equipment {
		if row.UpdatedAt.After(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AcknowledgeAlert implements Store
func (m *Memory) AcknowledgeAlert(_ context.Context, alertID, userID string) (*AlertRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Acknowledged = true
			m.alerts[i].AcknowledgedBy = userID
			row := m.alerts[i]
			return &row, nil
		}
	}
	return nil, errors.WrapInvalid(errors.ErrNotFound, "Memory", "AcknowledgeAlert", "alert "+alertID)
}

// UpdateEquipmentStatus implements Store
func (m *Memory) UpdateEquipmentStatus(_ context.Context, equipmentID, status string) (*EquipmentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.equipment[equipmentID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Memory", "UpdateEquipmentStatus", "equipment "+equipmentID)
	}
	row.Status = status
	row.UpdatedAt = time.Now()
	m.equipment[equipmentID] = row
	return &row, nil
}

// CreateAnnotation implements Store
func (m *Memory) CreateAnnotation(_ context.Context, a Annotation) (*Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Text == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "Memory", "CreateAnnotation", "annotation text required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.annotations = append(m.annotations, a)
	return &a, nil
}

// CurrentOEE implements Store. An empty equipmentID returns snapshots for
// all known equipment.
func (m *Memory) CurrentOEE(_ context.Context, equipmentID string) ([]OEESnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if equipmentID != "" {
		snap, ok := m.oee[equipmentID]
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "Memory", "CurrentOEE", "equipment "+equipmentID)
		}
		return []OEESnapshot{snap}, nil
	}

	out := make([]OEESnapshot, 0, len(m.oee))
	for _, snap := range m.oee {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EquipmentID < out[j].EquipmentID })
	return out, nil
}

// ActiveAlerts implements Store. An empty severity returns all
// unacknowledged alerts.
func (m *Memory) ActiveAlerts(_ context.Context, severity string) ([]AlertRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRow, 0)
	for _, row := range m.alerts {
		if row.Acknowledged {
			continue
		}
		if severity != "" && row.Severity != severity {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// EquipmentStatus implements Store. An empty id list returns all equipment.
func (m *Memory) EquipmentStatus(_ context.Context, equipmentIDs []string) ([]EquipmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EquipmentRow, 0)
	if len(equipmentIDs) == 0 {
		for _, row := range m.equipment {
			out = append(out, row)
		}
	} else {
		for _, id := range equipmentIDs {
			if row, ok := m.equipment[id]; ok {
				out = append(out, row)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ProductionRate implements Store
func (m *Memory) ProductionRate(_ context.Context, lineID string, window time.Duration) (*ProductionRate, error) {
	if window <= 0 {
		window = time.Hour
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	units := 0
	for _, u := range m.production {
		if lineID != "" && u.lineID != lineID {
			continue
		}
		if u.at.After(cutoff) {
			units++
		}
	}

	return &ProductionRate{
		LineID:       lineID,
		Units:        units,
		UnitsPerHour: float64(units) / window.Hours(),
		Window:       window,
		Timestamp:    time.Now(),
	}, nil
}

// Close implements Store
func (m *Memory) Close() {}
