// Package persistence archives task reports in SQLite. The coordination
// store holds only live state with TTLs; finished tasks land here so
// operators can answer "what ran last week" after the store has forgotten.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"dogwalker/pkg/logx"
	"dogwalker/pkg/proto"
)

// ErrNotFound indicates no archived report for the task.
var ErrNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS task_reports (
	task_id      TEXT PRIMARY KEY,
	agent_name   TEXT NOT NULL,
	channel_id   TEXT NOT NULL,
	thread_ts    TEXT NOT NULL,
	terminal     TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	pr_url       TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP NOT NULL,
	report_json  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_reports_agent
	ON task_reports(agent_name, finished_at);
`

// Store is the report archive.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// ArchivedReport is one row of the archive.
type ArchivedReport struct {
	TaskID     string
	AgentName  string
	ChannelID  string
	ThreadTS   string
	Terminal   string
	Title      string
	PRURL      string
	StartedAt  time.Time
	FinishedAt time.Time
	Report     *proto.Report
}

// Open opens (or creates) the archive at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("Report archive opened: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReport archives a terminal report. Re-recording the same task
// replaces the row, which covers redelivered tasks finishing twice.
func (s *Store) RecordReport(ctx context.Context, spec *proto.TaskSpec, report *proto.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report for task %s: %w", spec.TaskID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_reports
		(task_id, agent_name, channel_id, thread_ts, terminal, title, pr_url, started_at, finished_at, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.TaskID, spec.DogName, spec.ChannelID, spec.ThreadTS,
		string(report.Terminal), report.Title, report.PRURL,
		report.StartTime.UTC(), time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to archive report for task %s: %w", spec.TaskID, err)
	}

	s.logger.Info("Archived %s report for task %s", report.Terminal, spec.TaskID)
	return nil
}

// GetReport loads one archived report.
func (s *Store) GetReport(ctx context.Context, taskID string) (*ArchivedReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, agent_name, channel_id, thread_ts, terminal, title, pr_url, started_at, finished_at, report_json
		FROM task_reports WHERE task_id = ?`, taskID)

	rec, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report for task %s: %w", taskID, err)
	}
	return rec, nil
}

// ListRecent returns the most recently finished tasks, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*ArchivedReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, agent_name, channel_id, thread_ts, terminal, title, pr_url, started_at, finished_at, report_json
		FROM task_reports ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ArchivedReport
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*ArchivedReport, error) {
	var rec ArchivedReport
	var reportJSON string
	if err := row.Scan(&rec.TaskID, &rec.AgentName, &rec.ChannelID, &rec.ThreadTS,
		&rec.Terminal, &rec.Title, &rec.PRURL, &rec.StartedAt, &rec.FinishedAt, &reportJSON); err != nil {
		return nil, err
	}

	var report proto.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("corrupt report_json for task %s: %w", rec.TaskID, err)
	}
	rec.Report = &report
	return &rec, nil
}
