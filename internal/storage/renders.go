package storage

import (
	"fmt"
	"time"
)

// RenderRecord is one plot image sent to the IDE.
type RenderRecord struct {
	ID          int64
	DeviceID    string
	PlotID      string
	Path        string
	Width       float64
	Height      float64
	Bytes       int64
	Placeholder bool
	RenderedAt  time.Time
}

// RenderLog records plot renders. The plot manager depends on this
// interface so it can run without a database.
type RenderLog interface {
	RecordRender(rec RenderRecord) error
}

// RecordRender appends rec to the render log. A zero RenderedAt is set to
// the current time.
func (s *SQLiteStore) RecordRender(rec RenderRecord) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("render record needs a device id")
	}
	if rec.RenderedAt.IsZero() {
		rec.RenderedAt = time.Now()
	}
	placeholder := 0
	if rec.Placeholder {
		placeholder = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO plot_renders
			(device_id, plot_id, path, width, height, bytes, placeholder, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.DeviceID,
		rec.PlotID,
		rec.Path,
		rec.Width,
		rec.Height,
		rec.Bytes,
		placeholder,
		rec.RenderedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return queryFailed("record render", err)
	}
	return nil
}

// RecentRenders returns up to limit renders, newest first.
func (s *SQLiteStore) RecentRenders(limit int) ([]RenderRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, device_id, plot_id, path, width, height, bytes, placeholder, rendered_at
		FROM plot_renders
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, queryFailed("list renders", err)
	}
	defer rows.Close()

	var records []RenderRecord
	for rows.Next() {
		var (
			rec         RenderRecord
			placeholder int
			renderedAt  string
		)
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &rec.PlotID, &rec.Path,
			&rec.Width, &rec.Height, &rec.Bytes, &placeholder, &renderedAt,
		); err != nil {
			return nil, queryFailed("scan render", err)
		}
		rec.Placeholder = placeholder != 0
		rec.RenderedAt, err = time.Parse(time.RFC3339Nano, renderedAt)
		if err != nil {
			return nil, queryFailed("parse rendered_at", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("list renders", err)
	}
	return records, nil
}

// PruneRenders deletes render records older than retention and returns how
// many were removed.
func (s *SQLiteStore) PruneRenders(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM plot_renders WHERE rendered_at < ?", cutoff)
	if err != nil {
		return 0, queryFailed("prune renders", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
