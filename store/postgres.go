package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
)

// Postgres implements Store against PostgreSQL via a pgx connection pool.
// Schema assumptions: metrics, alerts, quality_readings, equipment,
// annotations, oee_snapshots, and production_units tables as created by
// the platform migrations.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn and verifies the connection
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Postgres", "NewPostgres", "parse connection config")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "Postgres", "NewPostgres", "ping database")
	}
	return &Postgres{pool: pool}, nil
}

// Close implements Store
func (p *Postgres) Close() {
	p.pool.Close()
}

// MetricsSince implements Store
func (p *Postgres) MetricsSince(ctx context.Context, since time.Time, limit int) ([]MetricRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, equipment_id, name, value, COALESCE(unit, ''), ts
		 FROM metrics WHERE ts > $1 ORDER BY ts DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "MetricsSince", "query metrics")
	}
	defer rows.Close()

	out := make([]MetricRow, 0, limit)
	for rows.Next() {
		var r MetricRow
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.Name, &r.Value, &r.Unit, &r.Timestamp); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "MetricsSince", "scan metric row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AlertsSince implements Store
func (p *Postgres) AlertsSince(ctx context.Context, since time.Time, limit int) ([]AlertRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, equipment_id, severity, message, acknowledged, COALESCE(acknowledged_by, ''), ts
		 FROM alerts WHERE ts > $1 ORDER BY ts DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "AlertsSince", "query alerts")
	}
	defer rows.Close()

	out := make([]AlertRow, 0, limit)
	for rows.Next() {
		var r AlertRow
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.Severity, &r.Message,
			&r.Acknowledged, &r.AcknowledgedBy, &r.Timestamp); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "AlertsSince", "scan alert row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QualitySince implements Store
func (p *Postgres) QualitySince(ctx context.Context, since time.Time, limit int) ([]QualityRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, equipment_id, parameter, actual, target, tolerance, ts
		 FROM quality_readings WHERE ts > $1 ORDER BY ts DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "QualitySince", "query quality readings")
	}
	defer rows.Close()

	out := make([]QualityRow, 0, limit)
	for rows.Next() {
		var r QualityRow
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.Parameter, &r.Actual,
			&r.Target, &r.Tolerance, &r.Timestamp); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "QualitySince", "scan quality row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EquipmentSince implements Store
func (p *Postgres) EquipmentSince(ctx context.Context, since time.Time, limit int) ([]EquipmentRow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, status, COALESCE(line_id, ''), updated_at
		 FROM equipment WHERE updated_at > $1 ORDER BY updated_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "EquipmentSince", "query equipment")
	}
	defer rows.Close()

	out := make([]EquipmentRow, 0, limit)
	for rows.Next() {
		var r EquipmentRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Status, &r.LineID, &r.UpdatedAt); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "EquipmentSince", "scan equipment row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AcknowledgeAlert implements Store
func (p *Postgres) AcknowledgeAlert(ctx context.Context, alertID, userID string) (*AlertRow, error) {
	var r AlertRow
	err := p.pool.QueryRow(ctx,
		`UPDATE alerts SET acknowledged = TRUE, acknowledged_by = $2
		 WHERE id = $1
		 RETURNING id, equipment_id, severity, message, acknowledged, COALESCE(acknowledged_by, ''), ts`,
		alertID, userID).
		Scan(&r.ID, &r.EquipmentID, &r.Severity, &r.Message, &r.Acknowledged, &r.AcknowledgedBy, &r.Timestamp)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "Postgres", "AcknowledgeAlert", "alert "+alertID)
		}
		return nil, errors.WrapTransient(err, "Postgres", "AcknowledgeAlert", "update alert")
	}
	return &r, nil
}

// UpdateEquipmentStatus implements Store
func (p *Postgres) UpdateEquipmentStatus(ctx context.Context, equipmentID, status string) (*EquipmentRow, error) {
	var r EquipmentRow
	err := p.pool.QueryRow(ctx,
		`UPDATE equipment SET status = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, name, status, COALESCE(line_id, ''), updated_at`,
		equipmentID, status).
		Scan(&r.ID, &r.Name, &r.Status, &r.LineID, &r.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "Postgres", "UpdateEquipmentStatus", "equipment "+equipmentID)
		}
		return nil, errors.WrapTransient(err, "Postgres", "UpdateEquipmentStatus", "update equipment")
	}
	return &r, nil
}

// CreateAnnotation implements Store
func (p *Postgres) CreateAnnotation(ctx context.Context, a Annotation) (*Annotation, error) {
	if a.Text == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedMessage, "Postgres", "CreateAnnotation", "annotation text required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO annotations (id, user_id, equipment_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.UserID, a.EquipmentID, a.Text, a.CreatedAt)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "CreateAnnotation", "insert annotation")
	}
	return &a, nil
}

// CurrentOEE implements Store
func (p *Postgres) CurrentOEE(ctx context.Context, equipmentID string) ([]OEESnapshot, error) {
	query := `SELECT DISTINCT ON (equipment_id)
		equipment_id, availability, performance, quality, oee, ts
		FROM oee_snapshots`
	args := []any{}
	if equipmentID != "" {
		query += ` WHERE equipment_id = $1`
		args = append(args, equipmentID)
	}
	query += ` ORDER BY equipment_id, ts DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "CurrentOEE", "query oee snapshots")
	}
	defer rows.Close()

	out := make([]OEESnapshot, 0)
	for rows.Next() {
		var s OEESnapshot
		if err := rows.Scan(&s.EquipmentID, &s.Availability, &s.Performance, &s.Quality, &s.OEE, &s.Timestamp); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "CurrentOEE", "scan oee row")
		}
		out = append(out, s)
	}
	if equipmentID != "" && len(out) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "Postgres", "CurrentOEE", "equipment "+equipmentID)
	}
	return out, rows.Err()
}

// ActiveAlerts implements Store
func (p *Postgres) ActiveAlerts(ctx context.Context, severity string) ([]AlertRow, error) {
	query := `SELECT id, equipment_id, severity, message, acknowledged, COALESCE(acknowledged_by, ''), ts
		FROM alerts WHERE acknowledged = FALSE`
	args := []any{}
	if severity != "" {
		query += ` AND severity = $1`
		args = append(args, severity)
	}
	query += ` ORDER BY ts DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "ActiveAlerts", "query active alerts")
	}
	defer rows.Close()

	out := make([]AlertRow, 0)
	for rows.Next() {
		var r AlertRow
		if err := rows.Scan(&r.ID, &r.EquipmentID, &r.Severity, &r.Message,
			&r.Acknowledged, &r.AcknowledgedBy, &r.Timestamp); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "ActiveAlerts", "scan alert row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EquipmentStatus implements Store
func (p *Postgres) EquipmentStatus(ctx context.Context, equipmentIDs []string) ([]EquipmentRow, error) {
	query := `SELECT id, name, status, COALESCE(line_id, ''), updated_at FROM equipment`
	args := []any{}
	if len(equipmentIDs) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, equipmentIDs)
	}
	query += ` ORDER BY id`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "EquipmentStatus", "query equipment")
	}
	defer rows.Close()

	out := make([]EquipmentRow, 0)
	for rows.Next() {
		var r EquipmentRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Status, &r.LineID, &r.UpdatedAt); err != nil {
			return nil, errors.WrapTransient(err, "Postgres", "EquipmentStatus", "scan equipment row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProductionRate implements Store
func (p *Postgres) ProductionRate(ctx context.Context, lineID string, window time.Duration) (*ProductionRate, error) {
	if window <= 0 {
		window = time.Hour
	}
	cutoff := time.Now().Add(-window)

	query := `SELECT COUNT(*) FROM production_units WHERE produced_at > $1`
	args := []any{cutoff}
	if lineID != "" {
		query += ` AND line_id = $2`
		args = append(args, lineID)
	}

	var units int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&units); err != nil {
		return nil, errors.WrapTransient(err, "Postgres", "ProductionRate", "count production units")
	}

	return &ProductionRate{
		LineID:       lineID,
		Units:        units,
		UnitsPerHour: float64(units) / window.Hours(),
		Window:       window,
		Timestamp:    time.Now(),
	}, nil
}
