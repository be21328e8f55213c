package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

func TestMapMetricPreservesRowFields(t *testing.T) {
	ts := time.Now().Add(-time.Minute)
	ev := mapMetric(store.MetricRow{
		ID:          "m-1",
		EquipmentID: "eq-1",
		Name:        "throughput",
		Value:       42.5,
		Unit:        "units/min",
		Timestamp:   ts,
	})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, event.TypeMetric, ev.Type)
	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, "poller:metric", ev.Source)
	assert.Equal(t, "eq-1", ev.Data["equipmentId"])
	assert.Equal(t, 42.5, ev.Data["value"])
}

func TestMapAlertSeverity(t *testing.T) {
	critical := mapAlert(store.AlertRow{ID: "a-1", Severity: "critical", Timestamp: time.Now()})
	assert.Equal(t, event.SeverityCritical, critical.Severity)

	// Unknown severities degrade rather than drop
	bogus := mapAlert(store.AlertRow{ID: "a-2", Severity: "catastrophic", Timestamp: time.Now()})
	assert.Equal(t, event.SeverityWarning, bogus.Severity)
	assert.Equal(t, event.TypeAlert, bogus.Type)
}

func TestMapQualitySpecDerivation(t *testing.T) {
	in := mapQuality(store.QualityRow{Actual: 10.2, Target: 10.0, Tolerance: 0.5, Timestamp: time.Now()})
	assert.Equal(t, event.SeverityInfo, in.Severity)
	assert.Equal(t, true, in.Data["withinSpec"])

	out := mapQuality(store.QualityRow{Actual: 11.0, Target: 10.0, Tolerance: 0.5, Timestamp: time.Now()})
	assert.Equal(t, event.SeverityWarning, out.Severity)
	assert.Equal(t, false, out.Data["withinSpec"])
}

func TestMapEquipment(t *testing.T) {
	ts := time.Now()
	ev := mapEquipment(store.EquipmentRow{ID: "eq-9", Name: "Lathe", Status: "maintenance", LineID: "line-2", UpdatedAt: ts})

	assert.Equal(t, event.TypeEquipment, ev.Type)
	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, "eq-9", ev.Data["equipmentId"])
	assert.Equal(t, "maintenance", ev.Data["status"])
}

func TestMapEventIDsAreUnique(t *testing.T) {
	row := store.MetricRow{ID: "m-1", Timestamp: time.Now()}
	a := mapMetric(row)
	b := mapMetric(row)
	assert.NotEqual(t, a.ID, b.ID)
}
