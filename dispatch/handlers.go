package dispatch

import (
	"context"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", clientErr(errors.ErrMalformedMessage, "Missing required field: %s", key)
	}
	return s, nil
}

// durationArg accepts a number of seconds or a duration string like "1h".
// Absent or unparseable values fall back to def.
func durationArg(args map[string]any, key string, def time.Duration) time.Duration {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (d *Dispatcher) acknowledgeAlert(ctx context.Context, caller Caller, args map[string]any) (any, *event.StreamEvent, error) {
	alertID, err := requireString(args, "alertId")
	if err != nil {
		return nil, nil, err
	}

	row, err := d.store.AcknowledgeAlert(ctx, alertID, caller.UserID)
	if err != nil {
		return nil, nil, err
	}

	notice := &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeAlert,
		Timestamp: time.Now(),
		Source:    "command:acknowledgeAlert",
		Severity:  event.SeverityInfo,
		Data: map[string]any{
			"alertId":        row.ID,
			"equipmentId":    row.EquipmentID,
			"acknowledged":   true,
			"acknowledgedBy": row.AcknowledgedBy,
		},
	}
	return map[string]any{"acknowledged": true, "alertId": row.ID}, notice, nil
}

func (d *Dispatcher) updateEquipmentStatus(ctx context.Context, _ Caller, args map[string]any) (any, *event.StreamEvent, error) {
	equipmentID, err := requireString(args, "equipmentId")
	if err != nil {
		return nil, nil, err
	}
	status, err := requireString(args, "status")
	if err != nil {
		return nil, nil, err
	}

	row, err := d.store.UpdateEquipmentStatus(ctx, equipmentID, status)
	if err != nil {
		return nil, nil, err
	}

	notice := &event.StreamEvent{
		ID:        event.NewID(),
		Type:      event.TypeEquipment,
		Timestamp: row.UpdatedAt,
		Source:    "command:updateEquipmentStatus",
		Severity:  event.SeverityInfo,
		Data: map[string]any{
			"equipmentId": row.ID,
			"name":        row.Name,
			"status":      row.Status,
			"lineId":      row.LineID,
		},
	}
	return map[string]any{"updated": true, "equipmentId": row.ID, "status": row.Status}, notice, nil
}

func (d *Dispatcher) createAnnotation(ctx context.Context, caller Caller, args map[string]any) (any, *event.StreamEvent, error) {
	text, err := requireString(args, "text")
	if err != nil {
		return nil, nil, err
	}

	created, err := d.store.CreateAnnotation(ctx, store.Annotation{
		UserID:      caller.UserID,
		EquipmentID: stringArg(args, "equipmentId"),
		Text:        text,
	})
	if err != nil {
		return nil, nil, err
	}

	// Annotations are collaborative context, not machine telemetry; no
	// broadcast.
	return map[string]any{"created": true, "annotationId": created.ID}, nil, nil
}

func (d *Dispatcher) currentOEE(ctx context.Context, _ Caller, args map[string]any) (any, *event.StreamEvent, error) {
	snaps, err := d.store.CurrentOEE(ctx, stringArg(args, "equipmentId"))
	if err != nil {
		return nil, nil, err
	}
	return snaps, nil, nil
}

func (d *Dispatcher) activeAlerts(ctx context.Context, _ Caller, args map[string]any) (any, *event.StreamEvent, error) {
	alerts, err := d.store.ActiveAlerts(ctx, stringArg(args, "severity"))
	if err != nil {
		return nil, nil, err
	}
	return alerts, nil, nil
}

func (d *Dispatcher) equipmentStatus(ctx context.Context, _ Caller, args map[string]any) (any, *event.StreamEvent, error) {
	var ids []string
	if raw, ok := args["equipmentIds"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
	}

	rows, err := d.store.EquipmentStatus(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return rows, nil, nil
}

func (d *Dispatcher) productionRate(ctx context.Context, _ Caller, args map[string]any) (any, *event.StreamEvent, error) {
	rate, err := d.store.ProductionRate(ctx, stringArg(args, "lineId"), durationArg(args, "duration", time.Hour))
	if err != nil {
		return nil, nil, err
	}
	return rate, nil, nil
}
