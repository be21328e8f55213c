// Package event defines the value types that flow through the streaming
// subsystem: manufacturing stream events, severities, and subscription
// filters. Events are immutable once published; nothing in this package
// mutates an event after construction.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the category of a stream event
type Type string

const (
	// TypeMetric is a performance/production metric sample
	TypeMetric Type = "metric"
	// TypeAlert is an alert raised by the platform
	TypeAlert Type = "alert"
	// TypeEquipment is an equipment state change
	TypeEquipment Type = "equipment"
	// TypeQuality is a quality measurement reading
	TypeQuality Type = "quality"
	// TypeMaintenance is a maintenance activity record
	TypeMaintenance Type = "maintenance"
	// TypeProduction is a production run record
	TypeProduction Type = "production"
)

// Valid reports whether t is one of the known event types
func (t Type) Valid() bool {
	switch t {
	case TypeMetric, TypeAlert, TypeEquipment, TypeQuality, TypeMaintenance, TypeProduction:
		return true
	}
	return false
}

// Severity grades the importance of an event
type Severity string

const (
	// SeverityInfo is informational
	SeverityInfo Severity = "info"
	// SeverityWarning needs attention but not action
	SeverityWarning Severity = "warning"
	// SeverityError indicates a fault
	SeverityError Severity = "error"
	// SeverityCritical indicates a fault requiring immediate action
	SeverityCritical Severity = "critical"
)

// StreamEvent is a single manufacturing event. The Data payload is opaque
// to the streaming layer; its shape depends on Type.
type StreamEvent struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Source    string         `json:"source,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
}

// NewID returns a unique event/subscription/connection identifier
func NewID() string {
	return uuid.NewString()
}

// EquipmentID extracts the equipment identifier from the opaque payload,
// or "" when the payload carries none. Used only for filter matching.
func (e *StreamEvent) EquipmentID() string {
	if e.Data == nil {
		return ""
	}
	if id, ok := e.Data["equipmentId"].(string); ok {
		return id
	}
	return ""
}

// TimeRange is an inclusive [Start, End] timestamp window
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether ts lies within the inclusive range
func (r TimeRange) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && !ts.After(r.End)
}

// Filter selects the subset of events a subscription receives. Every
// dimension is optional; an empty dimension matches all events. Filters are
// pure predicates: evaluating them never blocks or has side effects.
type Filter struct {
	Types      []Type     `json:"types,omitempty"`
	Equipment  []string   `json:"equipment,omitempty"`
	Severities []Severity `json:"severity,omitempty"`
	TimeRange  *TimeRange `json:"timeRange,omitempty"`
}

// Matches reports whether ev passes every non-empty filter dimension.
func (f Filter) Matches(ev *StreamEvent) bool {
	if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
		return false
	}
	if len(f.Equipment) > 0 && !containsString(f.Equipment, ev.EquipmentID()) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, ev.Severity) {
		return false
	}
	if f.TimeRange != nil && !f.TimeRange.Contains(ev.Timestamp) {
		return false
	}
	return true
}

func containsType(haystack []Type, needle Type) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []Severity, needle Severity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
