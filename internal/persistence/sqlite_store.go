package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-pipeline/internal/jobs"
	"github.com/MimeLyc/subtitle-pipeline/internal/subtitle"
	"github.com/MimeLyc/subtitle-pipeline/internal/translator"
	_ "modernc.org/sqlite"
)

const transcriptCacheDefaultTTL = 24 * time.Hour

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, payload_json, status, processed, total, error, failed_at_id, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.TranslationJob, 0)
	for rows.Next() {
		var item jobs.TranslationJob
		var status string
		var payloadJSON string
		if err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.DedupeKey,
			&payloadJSON,
			&status,
			&item.Progress.Processed,
			&item.Progress.Total,
			&item.Error,
			&item.FailedAtID,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", item.ID, err)
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteJob removes a job with its checkpoints and line snapshot in one
// transaction.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM job_batch_checkpoints WHERE job_id = ?`,
		`DELETE FROM job_lines WHERE job_id = ?`,
		`DELETE FROM jobs WHERE id = ?`,
	} {
		if _, err = tx.ExecContext(ctx, stmt, jobID); err != nil {
			return fmt.Errorf("delete job %s: %w", jobID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.TranslationJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, source, dedupe_key, payload_json, status, processed, total, error, failed_at_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			payload_json=excluded.payload_json,
			status=excluded.status,
			processed=excluded.processed,
			total=excluded.total,
			error=excluded.error,
			failed_at_id=excluded.failed_at_id,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		string(payload),
		string(job.Status),
		job.Progress.Processed,
		job.Progress.Total,
		job.Error,
		job.FailedAtID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) SaveBatchCheckpoint(ctx context.Context, jobID string, firstID, lastID int, results []translator.Result) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO job_batch_checkpoints (job_id, first_id, last_id, results_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, first_id, last_id) DO UPDATE SET
			results_json=excluded.results_json,
			updated_at=excluded.updated_at`,
		jobID,
		firstID,
		lastID,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadBatchCheckpoints(ctx context.Context, jobID string) ([]BatchCheckpoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, first_id, last_id, results_json, updated_at
		 FROM job_batch_checkpoints
		 WHERE job_id = ?
		 ORDER BY first_id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]BatchCheckpoint, 0)
	for rows.Next() {
		var item BatchCheckpoint
		var resultsJSON string
		if err := rows.Scan(&item.JobID, &item.FirstID, &item.LastID, &resultsJSON, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultsJSON), &item.Results); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// PutJobLines stores the latest translated snapshot of a job.
func (s *SQLiteStore) PutJobLines(ctx context.Context, jobID string, lines []subtitle.Line) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO job_lines (job_id, lines_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			lines_json=excluded.lines_json,
			updated_at=excluded.updated_at`,
		jobID,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) GetJobLines(ctx context.Context, jobID string) ([]subtitle.Line, bool, error) {
	var linesJSON string
	err := s.db.QueryRowContext(ctx, `SELECT lines_json FROM job_lines WHERE job_id = ?`, jobID).Scan(&linesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var lines []subtitle.Line
	if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
		return nil, false, err
	}
	return lines, true, nil
}

func (s *SQLiteStore) PutTranscriptCache(ctx context.Context, entry TranscriptCacheEntry) error {
	segmentsJSON, err := json.Marshal(entry.Segments)
	if err != nil {
		return err
	}
	updatedAt := entry.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	expiresAt := entry.ExpiresAt.UTC()
	if expiresAt.IsZero() {
		expiresAt = updatedAt.Add(transcriptCacheDefaultTTL)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO transcript_cache (cache_key, language, text, segments_json, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			language=excluded.language,
			text=excluded.text,
			segments_json=excluded.segments_json,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at`,
		entry.CacheKey,
		entry.Language,
		entry.Text,
		string(segmentsJSON),
		expiresAt,
		updatedAt,
	)
	return err
}

func (s *SQLiteStore) GetTranscriptCache(ctx context.Context, cacheKey string, now time.Time) (TranscriptCacheEntry, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT cache_key, language, text, segments_json, expires_at, updated_at
		 FROM transcript_cache
		 WHERE cache_key = ? AND expires_at > ?`,
		cacheKey,
		now.UTC(),
	)
	var ret TranscriptCacheEntry
	var segmentsJSON string
	if err := row.Scan(&ret.CacheKey, &ret.Language, &ret.Text, &segmentsJSON, &ret.ExpiresAt, &ret.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TranscriptCacheEntry{}, false, nil
		}
		return TranscriptCacheEntry{}, false, err
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &ret.Segments); err != nil {
		return TranscriptCacheEntry{}, false, err
	}
	return ret, true, nil
}

// DeleteExpiredTranscriptCache removes transcript_cache rows whose expires_at is before now.
func (s *SQLiteStore) DeleteExpiredTranscriptCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcript_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
