package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

const telemetryColumns = `id, plate, date, time, speed, fuel_level, status, latitude, longitude`

// InsertTelemetryBatch inserts samples in one transaction. Samples whose
// date or time cannot be resolved are skipped and not counted.
func (db *Database) InsertTelemetryBatch(ctx context.Context, records []models.TelemetrySample) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin telemetry batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry
		(plate, date, time, day_key, ts, speed, fuel_level, status, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare telemetry insert")
	}
	defer stmt.Close()

	var count int64
	for _, t := range records {
		dayKey, ok := temporal.DayKey(t.Date)
		ts, tsOK := db.parser.Parse(t.Date, t.Time)
		if !ok || !tsOK {
			log.Warn().Str("plate", t.Plate).Str("date", t.Date).Str("time", t.Time).Msg("skipping sample with unparsable date/time")
			continue
		}

		if _, err := stmt.ExecContext(ctx,
			t.Plate, temporal.DateOnly(t.Date), strings.TrimSpace(t.Time), dayKey, ts,
			t.Speed, t.FuelLevel, t.Status, t.Latitude, t.Longitude,
		); err != nil {
			return count, errors.Wrap(err, "insert telemetry")
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit telemetry batch")
	}
	return count, nil
}

// QueryTelemetry returns samples for a plate over an inclusive locale-date
// range in chronological order
func (db *Database) QueryTelemetry(ctx context.Context, q models.TelemetryQuery) ([]models.TelemetrySample, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `SELECT ` + telemetryColumns + ` FROM telemetry`

	if q.Plate != "" {
		conditions = append(conditions, "plate = ?")
		args = append(args, q.Plate)
	}
	if q.FromDate != "" {
		key, ok := temporal.DayKey(q.FromDate)
		if !ok {
			return nil, fmt.Errorf("invalid from date %q", q.FromDate)
		}
		conditions = append(conditions, "day_key >= ?")
		args = append(args, key)
	}
	if q.ToDate != "" {
		key, ok := temporal.DayKey(q.ToDate)
		if !ok {
			return nil, fmt.Errorf("invalid to date %q", q.ToDate)
		}
		conditions = append(conditions, "day_key <= ?")
		args = append(args, key)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY ts ASC, id ASC"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, errors.Wrap(err, "telemetry query failed")
	}
	defer rows.Close()

	results := []models.TelemetrySample{}
	for rows.Next() {
		var t models.TelemetrySample
		var status sql.NullString
		if err := rows.Scan(&t.ID, &t.Plate, &t.Date, &t.Time, &t.Speed, &t.FuelLevel,
			&status, &t.Latitude, &t.Longitude); err != nil {
			return nil, errors.Wrap(err, "scan telemetry")
		}
		t.Status = status.String
		results = append(results, t)
	}

	return results, errors.Wrap(rows.Err(), "telemetry rows")
}

// ListPlates returns every plate with telemetry
func (db *Database) ListPlates(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT plate FROM telemetry ORDER BY plate`)
	if err != nil {
		return nil, errors.Wrap(err, "plate list query failed")
	}
	defer rows.Close()

	plates := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		plates = append(plates, p)
	}
	return plates, rows.Err()
}

// GetVehicleSummary returns aggregated statistics for a plate
func (db *Database) GetVehicleSummary(ctx context.Context, plate string) (*models.VehicleSummary, error) {
	query := `
		SELECT
			plate,
			COUNT(*) as total_records,
			AVG(speed) as avg_speed,
			MIN(fuel_level) as min_fuel,
			MAX(fuel_level) as max_fuel,
			(SELECT date FROM telemetry WHERE plate = ? ORDER BY ts ASC LIMIT 1) as first_date,
			(SELECT date FROM telemetry WHERE plate = ? ORDER BY ts DESC LIMIT 1) as last_date
		FROM telemetry
		WHERE plate = ?
		GROUP BY plate
	`

	var s models.VehicleSummary
	err := db.conn.QueryRowContext(ctx, query, plate, plate, plate).Scan(
		&s.Plate, &s.TotalRecords, &s.AvgSpeed, &s.MinFuel, &s.MaxFuel, &s.FirstDate, &s.LastDate,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStats returns telemetry statistics. Review counts come from the
// review store, which may not be backed by this database.
func (db *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"total_telemetry_records", "SELECT COUNT(*) FROM telemetry"},
		{"total_vehicles", "SELECT COUNT(DISTINCT plate) FROM telemetry"},
	}
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "stats %s", c.key)
		}
		stats[c.key] = n
	}

	return stats, nil
}
