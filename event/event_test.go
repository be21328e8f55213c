package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(t Type, sev Severity, equipment string, ts time.Time) *StreamEvent {
	data := map[string]any{}
	if equipment != "" {
		data["equipmentId"] = equipment
	}
	return &StreamEvent{
		ID:        NewID(),
		Type:      t,
		Timestamp: ts,
		Data:      data,
		Severity:  sev,
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := Filter{}
	now := time.Now()

	assert.True(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "eq-1", now)))
	assert.True(t, f.Matches(sampleEvent(TypeAlert, SeverityCritical, "", now)))
	assert.True(t, f.Matches(&StreamEvent{ID: NewID(), Type: TypeQuality, Timestamp: now}))
}

func TestTypeFilterExcludesOtherTypes(t *testing.T) {
	f := Filter{Types: []Type{TypeAlert}}
	now := time.Now()

	assert.True(t, f.Matches(sampleEvent(TypeAlert, SeverityWarning, "eq-1", now)))
	assert.False(t, f.Matches(sampleEvent(TypeMetric, SeverityWarning, "eq-1", now)))
	assert.False(t, f.Matches(sampleEvent(TypeQuality, SeverityWarning, "eq-1", now)))
}

func TestEquipmentFilter(t *testing.T) {
	f := Filter{Equipment: []string{"eq-1", "eq-2"}}
	now := time.Now()

	assert.True(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "eq-2", now)))
	assert.False(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "eq-3", now)))
	// Event with no equipment in payload never matches a non-empty equipment filter
	assert.False(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", now)))
}

func TestSeverityFilter(t *testing.T) {
	f := Filter{Severities: []Severity{SeverityCritical}}
	now := time.Now()

	assert.True(t, f.Matches(sampleEvent(TypeAlert, SeverityCritical, "eq-1", now)))
	assert.False(t, f.Matches(sampleEvent(TypeAlert, SeverityWarning, "eq-1", now)))
}

func TestTimeRangeIsInclusive(t *testing.T) {
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	f := Filter{TimeRange: &TimeRange{Start: start, End: end}}

	assert.True(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", start)))
	assert.True(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", end)))
	assert.True(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", start.Add(30*time.Minute))))
	assert.False(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", start.Add(-time.Second))))
	assert.False(t, f.Matches(sampleEvent(TypeMetric, SeverityInfo, "", end.Add(time.Second))))
}

func TestCombinedDimensionsAreConjunctive(t *testing.T) {
	now := time.Now()
	f := Filter{
		Types:      []Type{TypeQuality},
		Equipment:  []string{"eq-7"},
		Severities: []Severity{SeverityWarning},
	}

	assert.True(t, f.Matches(sampleEvent(TypeQuality, SeverityWarning, "eq-7", now)))
	assert.False(t, f.Matches(sampleEvent(TypeQuality, SeverityWarning, "eq-8", now)))
	assert.False(t, f.Matches(sampleEvent(TypeQuality, SeverityInfo, "eq-7", now)))
	assert.False(t, f.Matches(sampleEvent(TypeAlert, SeverityWarning, "eq-7", now)))
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeMetric, TypeAlert, TypeEquipment, TypeQuality, TypeMaintenance, TypeProduction} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, Type("bogus").Valid())
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
