package poller

import (
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

// Severity and in-spec derivation is deterministic: the same row always
// maps to the same event, so a retried poll window produces identical
// payloads.

// mapMetric converts a metric sample to a stream event
func mapMetric(row store.MetricRow) *event.StreamEvent {
	return &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeMetric,
		Timestamp: row.Timestamp,
		Source:    "poller:metric",
		Data: map[string]any{
			"metricId":    row.ID,
			"equipmentId": row.EquipmentID,
			"name":        row.Name,
			"value":       row.Value,
			"unit":        row.Unit,
		},
	}
}

// mapAlert converts an alert row to a stream event. Unknown severities
// degrade to warning rather than dropping the alert.
func mapAlert(row store.AlertRow) *event.StreamEvent {
	sev := event.Severity(row.Severity)
	switch sev {
	case event.SeverityInfo, event.SeverityWarning, event.SeverityError, event.SeverityCritical:
	default:
		sev = event.SeverityWarning
	}

	return &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeAlert,
		Timestamp: row.Timestamp,
		Source:    "poller:alert",
		Severity:  sev,
		Data: map[string]any{
			"alertId":      row.ID,
			"equipmentId":  row.EquipmentID,
			"message":      row.Message,
			"acknowledged": row.Acknowledged,
		},
	}
}

// mapQuality converts a quality reading to a stream event. A reading
// within |actual - target| <= tolerance is in-spec and informational;
// anything outside is a warning.
func mapQuality(row store.QualityRow) *event.StreamEvent {
	withinSpec := row.WithinSpec()
	sev := event.SeverityInfo
	if !withinSpec {
		sev = event.SeverityWarning
	}

	return &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeQuality,
		Timestamp: row.Timestamp,
		Source:    "poller:quality",
		Severity:  sev,
		Data: map[string]any{
			"readingId":   row.ID,
			"equipmentId": row.EquipmentID,
			"parameter":   row.Parameter,
			"actual":      row.Actual,
			"target":      row.Target,
			"tolerance":   row.Tolerance,
			"withinSpec":  withinSpec,
		},
	}
}

// mapEquipment converts an equipment state record to a stream event
func mapEquipment(row store.EquipmentRow) *event.StreamEvent {
	return &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeEquipment,
		Timestamp: row.UpdatedAt,
		Source:    "poller:equipment",
		Severity:  event.SeverityInfo,
		Data: map[string]any{
			"equipmentId": row.ID,
			"name":        row.Name,
			"status":      row.Status,
			"lineId":      row.LineID,
		},
	}
}
