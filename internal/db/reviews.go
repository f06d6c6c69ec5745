package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"fleet-fuel-review/internal/models"
)

const reviewColumns = `id, plate, start_ts, end_ts, start_date, start_time, end_date, end_time,
	fuel_start, fuel_end, fuel_diff, duration_min, decision, note, reviewer, revision_of, created_at_ns`

// InsertReview writes a review record in a single statement
func (db *Database) InsertReview(ctx context.Context, r *models.ReviewRecord) error {
	query := `INSERT INTO reviews (` + reviewColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var revisionOf sql.NullString
	if r.RevisionOf != nil {
		revisionOf = sql.NullString{String: *r.RevisionOf, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.Plate, r.StartTS, r.EndTS, r.StartDate, r.StartTime, r.EndDate, r.EndTime,
		r.FuelStart, r.FuelEnd, r.FuelDiff, r.DurationMin, string(r.Decision), r.Note, r.Reviewer,
		revisionOf, r.CreatedAt.UnixNano(),
	)
	return errors.Wrap(err, "insert review")
}

// QueryReviews returns reviews matching plate and overlapping the interval,
// newest first
func (db *Database) QueryReviews(ctx context.Context, q models.ReviewQuery) ([]models.ReviewRecord, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `SELECT ` + reviewColumns + ` FROM reviews`

	if q.Plate != "" {
		conditions = append(conditions, "plate = ?")
		args = append(args, q.Plate)
	}
	if q.Interval != nil {
		// closed-interval overlap: qStart <= end_ts AND start_ts <= qEnd
		conditions = append(conditions, "end_ts >= ?", "start_ts <= ?")
		args = append(args, q.Interval.Start, q.Interval.End)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY created_at_ns DESC, rowid DESC"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, errors.Wrap(err, "review query failed")
	}
	defer rows.Close()

	results := []models.ReviewRecord{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}

	return results, errors.Wrap(rows.Err(), "review rows")
}

// GetReview returns the review with id, or nil when it does not exist
func (db *Database) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)

	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(s scanner) (*models.ReviewRecord, error) {
	var r models.ReviewRecord
	var decision string
	var note, reviewer, revisionOf sql.NullString
	var createdNs int64

	err := s.Scan(
		&r.ID, &r.Plate, &r.StartTS, &r.EndTS, &r.StartDate, &r.StartTime, &r.EndDate, &r.EndTime,
		&r.FuelStart, &r.FuelEnd, &r.FuelDiff, &r.DurationMin, &decision, &note, &reviewer,
		&revisionOf, &createdNs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan review")
	}

	r.Decision = models.Decision(decision)
	r.Note = note.String
	r.Reviewer = reviewer.String
	if revisionOf.Valid {
		id := revisionOf.String
		r.RevisionOf = &id
	}
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	return &r, nil
}
