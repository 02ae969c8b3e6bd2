package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"gptqual/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL UNIQUE,
		source        TEXT NOT NULL DEFAULT 'web',
		mode          TEXT NOT NULL,
		column_name   TEXT NOT NULL,
		output_column TEXT NOT NULL,
		preview       INTEGER NOT NULL DEFAULT 0,
		llm_provider  TEXT DEFAULT '',
		llm_model     TEXT DEFAULT '',
		rows_total    INTEGER NOT NULL DEFAULT 0,
		rows_ok       INTEGER NOT NULL DEFAULT 0,
		rows_absent   INTEGER NOT NULL DEFAULT 0,
		rows_malformed INTEGER NOT NULL DEFAULT 0,
		rows_transport INTEGER NOT NULL DEFAULT 0,
		rows_auth     INTEGER NOT NULL DEFAULT 0,
		prompt_chars  INTEGER NOT NULL DEFAULT 0,
		reply_chars   INTEGER NOT NULL DEFAULT 0,
		tokens        INTEGER NOT NULL DEFAULT 0,
		started_at    DATETIME NOT NULL,
		finished_at   DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_categories (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id   TEXT NOT NULL,
		position INTEGER NOT NULL,
		category TEXT NOT NULL,
		count    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rc_run ON run_categories(run_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func InsertRun(db *sql.DB, r domain.RunRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO runs
		 (run_id, source, mode, column_name, output_column, preview, llm_provider, llm_model,
		  rows_total, rows_ok, rows_absent, rows_malformed, rows_transport, rows_auth,
		  prompt_chars, reply_chars, tokens, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Mode, r.Column, r.OutputColumn, r.Preview, r.Provider, r.Model,
		r.Summary.Rows, r.Summary.OK, r.Summary.Absent, r.Summary.Malformed, r.Summary.Transport, r.Summary.Auth,
		r.Summary.PromptChars, r.Summary.ReplyChars, r.Summary.Tokens, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first.
func ListRuns(db *sql.DB, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, run_id, source, mode, column_name, output_column, preview, llm_provider, llm_model,
		        rows_total, rows_ok, rows_absent, rows_malformed, rows_transport, rows_auth,
		        prompt_chars, reply_chars, tokens, started_at, finished_at
		 FROM runs
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.Source, &r.Mode, &r.Column, &r.OutputColumn, &r.Preview,
			&r.Provider, &r.Model,
			&r.Summary.Rows, &r.Summary.OK, &r.Summary.Absent, &r.Summary.Malformed,
			&r.Summary.Transport, &r.Summary.Auth,
			&r.Summary.PromptChars, &r.Summary.ReplyChars, &r.Summary.Tokens,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func GetRun(db *sql.DB, runID string) (domain.RunRecord, error) {
	var r domain.RunRecord
	err := db.QueryRow(
		`SELECT id, run_id, source, mode, column_name, output_column, preview, llm_provider, llm_model,
		        rows_total, rows_ok, rows_absent, rows_malformed, rows_transport, rows_auth,
		        prompt_chars, reply_chars, tokens, started_at, finished_at
		 FROM runs WHERE run_id = ?`,
		runID,
	).Scan(
		&r.ID, &r.RunID, &r.Source, &r.Mode, &r.Column, &r.OutputColumn, &r.Preview,
		&r.Provider, &r.Model,
		&r.Summary.Rows, &r.Summary.OK, &r.Summary.Absent, &r.Summary.Malformed,
		&r.Summary.Transport, &r.Summary.Auth,
		&r.Summary.PromptChars, &r.Summary.ReplyChars, &r.Summary.Tokens,
		&r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// --- Category snapshots ---

func InsertRunCategories(db *sql.DB, runID string, entries []domain.CategoryCount) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO run_categories (run_id, position, category, count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.Exec(runID, i, e.Category, e.Count); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func GetRunCategories(db *sql.DB, runID string) ([]domain.CategoryCount, error) {
	rows, err := db.Query(
		`SELECT category, count FROM run_categories WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CategoryCount
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
