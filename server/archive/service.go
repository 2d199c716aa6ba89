// Package archive keeps a history of completed downloads. It is a
// collaborator of the download core: it observes Completed events,
// the manager knows nothing about it.
package archive

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	db *sql.DB
}

func New(db *sql.DB) (*Service, error) {
	const schema = `
		CREATE TABLE IF NOT EXISTS archive (
			id         TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL,
			url        TEXT NOT NULL,
			filename   TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Service{db: db}, nil
}

func (s *Service) Archive(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archive (id, job_id, url, filename, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.URL, e.Filename, e.CreatedAt,
	)
	return err
}

func (s *Service) All(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, url, filename, created_at FROM archive ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.JobID, &e.URL, &e.Filename, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM archive WHERE id = ?`, id)
	return err
}
