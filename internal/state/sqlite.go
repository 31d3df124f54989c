//go:build sqlite
// +build sqlite

package state

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"autopost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps both ledgers for all targets in one database file.
// Saves replace the target's rows inside a single transaction, which gives
// the same all-or-nothing visibility as the file driver's rename.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.Dir, "autopost.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec("PRAGMA busy_timeout = ?", cfg.BusyTimeout.Milliseconds())
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadPublish(target string) (*PublishState, error) {
	st := NewPublishState()

	row := s.db.QueryRow(`SELECT bucket_index, last_day FROM publish_rotation WHERE target = ?`, target)
	if err := row.Scan(&st.Rotation.BucketIndex, &st.Rotation.LastDay); err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT source_url, bucket, filename, title, attempts, result, remote_id, last_error, last_attempt
		FROM publish_items WHERE target = ?`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec := &AttemptRecord{}
		var lastAttempt string
		if err := rows.Scan(&rec.SourceURL, &rec.Bucket, &rec.Filename, &rec.Title,
			&rec.Attempts, &rec.Result, &rec.RemoteID, &rec.LastError, &lastAttempt); err != nil {
			return nil, err
		}
		rec.LastAttempt = parseTS(lastAttempt)
		st.Items[rec.SourceURL] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runRows, err := s.db.Query(`SELECT at, source_url, bucket, result, remote_id, err
		FROM publish_runs WHERE target = ? ORDER BY id`, target)
	if err != nil {
		return nil, err
	}
	defer runRows.Close()
	for runRows.Next() {
		var run PublishRun
		var at string
		if err := runRows.Scan(&at, &run.SourceURL, &run.Bucket, &run.Result, &run.RemoteID, &run.Error); err != nil {
			return nil, err
		}
		run.At = parseTS(at)
		st.Runs = append(st.Runs, run)
	}
	if err := runRows.Err(); err != nil {
		return nil, err
	}

	st.Normalize()
	return st, nil
}

func (s *sqliteStore) SavePublish(target string, st *PublishState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO publish_rotation(target, bucket_index, last_day) VALUES(?,?,?)
		ON CONFLICT(target) DO UPDATE SET bucket_index=excluded.bucket_index, last_day=excluded.last_day`,
		target, st.Rotation.BucketIndex, st.Rotation.LastDay); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM publish_items WHERE target = ?`, target); err != nil {
		return err
	}
	for _, rec := range st.Items {
		if _, err := tx.Exec(`INSERT INTO publish_items(target, source_url, bucket, filename, title, attempts, result, remote_id, last_error, last_attempt)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			target, rec.SourceURL, rec.Bucket, rec.Filename, rec.Title,
			rec.Attempts, string(rec.Result), rec.RemoteID, rec.LastError, formatTS(rec.LastAttempt)); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM publish_runs WHERE target = ?`, target); err != nil {
		return err
	}
	for _, run := range st.Runs {
		if _, err := tx.Exec(`INSERT INTO publish_runs(target, at, source_url, bucket, result, remote_id, err)
			VALUES(?,?,?,?,?,?,?)`,
			target, formatTS(run.At), run.SourceURL, run.Bucket, string(run.Result), run.RemoteID, run.Error); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) LoadEngage(target string) (*EngageState, error) {
	st := NewEngageState()

	rows, err := s.db.Query(`SELECT remote_id, source_url, bucket, decision, template_index, comment_text, status,
		comment_id, attempts, verify_attempts, posted_at, verify_after, retry_after, last_error
		FROM engage_items WHERE target = ?`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec := &CommentRecord{}
		var postedAt, verifyAfter, retryAfter string
		if err := rows.Scan(&rec.RemoteID, &rec.SourceURL, &rec.Bucket, &rec.Decision, &rec.TemplateIndex,
			&rec.CommentText, &rec.Status, &rec.CommentID, &rec.Attempts, &rec.VerifyAttempts,
			&postedAt, &verifyAfter, &retryAfter, &rec.LastError); err != nil {
			return nil, err
		}
		rec.PostedAt = parseTS(postedAt)
		rec.VerifyAfter = parseTS(verifyAfter)
		rec.RetryAfter = parseTS(retryAfter)
		st.Items[rec.RemoteID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runRows, err := s.db.Query(`SELECT at, remote_id, status, comment_id, err
		FROM engage_runs WHERE target = ? ORDER BY id`, target)
	if err != nil {
		return nil, err
	}
	defer runRows.Close()
	for runRows.Next() {
		var run CommentRun
		var at string
		if err := runRows.Scan(&at, &run.RemoteID, &run.Status, &run.CommentID, &run.Error); err != nil {
			return nil, err
		}
		run.At = parseTS(at)
		st.Runs = append(st.Runs, run)
	}
	if err := runRows.Err(); err != nil {
		return nil, err
	}

	st.Normalize()
	return st, nil
}

func (s *sqliteStore) SaveEngage(target string, st *EngageState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM engage_items WHERE target = ?`, target); err != nil {
		return err
	}
	for _, rec := range st.Items {
		if _, err := tx.Exec(`INSERT INTO engage_items(target, remote_id, source_url, bucket, decision, template_index,
			comment_text, status, comment_id, attempts, verify_attempts, posted_at, verify_after, retry_after, last_error)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			target, rec.RemoteID, rec.SourceURL, rec.Bucket, rec.Decision, rec.TemplateIndex,
			rec.CommentText, string(rec.Status), rec.CommentID, rec.Attempts, rec.VerifyAttempts,
			formatTS(rec.PostedAt), formatTS(rec.VerifyAfter), formatTS(rec.RetryAfter), rec.LastError); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM engage_runs WHERE target = ?`, target); err != nil {
		return err
	}
	for _, run := range st.Runs {
		if _, err := tx.Exec(`INSERT INTO engage_runs(target, at, remote_id, status, comment_id, err)
			VALUES(?,?,?,?,?,?)`,
			target, formatTS(run.At), run.RemoteID, string(run.Status), run.CommentID, run.Error); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
