// Package progress is the durable record of what has been processed,
// keyed by fingerprint. It is the only shared mutable state of a run
// besides the rate limiters.
package progress

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dtnitsch/drive-ocr/models"
)

// DefaultDBName is where the run command keeps its progress database
// unless --db says otherwise.
const DefaultDBName = "progress.db"

// ErrIllegalTransition is returned by Advance when the requested status
// change would regress the forward-only lattice.
var ErrIllegalTransition = errors.New("illegal status transition")

type Store struct {
	db   *sql.DB
	path string
}

func openDB(dbPath string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY churn between workers.
	sqlDB.SetMaxOpenConns(1)
	return sqlDB, nil
}

// Open opens or creates the progress database at path.
func Open(path string) (*Store, error) {
	sqlDB, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: sqlDB, path: path}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, strconv.Itoa(SchemaVersion))
		return err
	case err != nil:
		return err
	}
	v, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt schema_version %q: %w", stored, err)
	}
	if v > SchemaVersion {
		return fmt.Errorf("database written by schema version %d, this binary supports up to %d", v, SchemaVersion)
	}
	return nil
}

// Register creates a pending record for the fingerprint if none exists.
// Seeing the same fingerprint again is a no-op.
func (s *Store) Register(fp models.Fingerprint, d models.Descriptor) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO records (fingerprint, file_id, name, path, mime_type, size, modified_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, string(fp), d.ID, d.Name, d.DisplayPath(), d.MimeType, d.Size,
		d.ModifiedTime.UTC().Format(time.RFC3339), string(models.StatusPending), now, now)
	if err != nil {
		return fmt.Errorf("failed to register record: %w", err)
	}
	return nil
}

// Claim marks the record as owned by runID. At most one caller wins for a
// given fingerprint within a run: the single UPDATE is serialized by
// sqlite, and a record already claimed by this run or already terminal is
// not claimable. The current record is returned either way, so a losing
// caller can observe the winner's state.
func (s *Store) Claim(fp models.Fingerprint, runID string) (*models.Record, bool, error) {
	res, err := s.db.Exec(`
		UPDATE records SET claim_run = ?, updated_at = ?
		WHERE fingerprint = ? AND claim_run <> ? AND status IN (?, ?)
	`, runID, time.Now().UTC().Format(time.RFC3339), string(fp), runID,
		string(models.StatusPending), string(models.StatusOcrDone))
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	rec, err := s.Lookup(fp)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("claim of unregistered fingerprint %s", fp)
	}
	return rec, n == 1, nil
}

// Mutation carries the optional fields an Advance may set.
type Mutation struct {
	Attempts     int // attempts made by the stage that caused this transition
	LastError    string
	OcrText      string
	Language     string
	Translation  string
	MetadataYAML string
}

// Advance atomically applies a forward-only status transition. The WHERE
// clause re-checks the expected current status, so a racing transition
// surfaces as ErrIllegalTransition instead of silently regressing.
func (s *Store) Advance(fp models.Fingerprint, from, to models.Status, m Mutation) error {
	if !from.CanAdvanceTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	res, err := s.db.Exec(`
		UPDATE records SET
			status = ?,
			attempts = CASE WHEN ? > 0 THEN ? ELSE attempts END,
			last_error = CASE WHEN ? <> '' THEN ? ELSE last_error END,
			ocr_text = CASE WHEN ? <> '' THEN ? ELSE ocr_text END,
			language = CASE WHEN ? <> '' THEN ? ELSE language END,
			translation = CASE WHEN ? <> '' THEN ? ELSE translation END,
			metadata_yaml = CASE WHEN ? <> '' THEN ? ELSE metadata_yaml END,
			updated_at = ?
		WHERE fingerprint = ? AND status = ?
	`, string(to), m.Attempts, m.Attempts,
		m.LastError, m.LastError,
		m.OcrText, m.OcrText,
		m.Language, m.Language,
		m.Translation, m.Translation,
		m.MetadataYAML, m.MetadataYAML,
		time.Now().UTC().Format(time.RFC3339),
		string(fp), string(from))
	if err != nil {
		return fmt.Errorf("failed to advance record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record not in status %s", ErrIllegalTransition, from)
	}
	return nil
}

// Lookup returns the record for fp, or nil if absent.
func (s *Store) Lookup(fp models.Fingerprint) (*models.Record, error) {
	row := s.db.QueryRow(selectColumns+` WHERE fingerprint = ?`, string(fp))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Summary returns the count of records per status.
func (s *Store) Summary() (map[models.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize records: %w", err)
	}
	defer rows.Close()
	out := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.Status(status)] = n
	}
	return out, rows.Err()
}

// Failures returns every failed record, newest first, for diagnosis.
func (s *Store) Failures() ([]models.Record, error) {
	return s.list(selectColumns+` WHERE status = ? ORDER BY updated_at DESC`, string(models.StatusFailed))
}

// All returns every record ordered by path, for the report command.
func (s *Store) All() ([]models.Record, error) {
	return s.list(selectColumns + ` ORDER BY path, name`)
}

// DeleteStale removes terminal records not touched since cutoff. Used by
// garbage collection of fingerprints whose source documents are gone.
func (s *Store) DeleteStale(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM records
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`, string(models.StatusExtracted), string(models.StatusSkipped), string(models.StatusFailed),
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale records: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
	SELECT fingerprint, file_id, name, path, mime_type, size, modified_time,
	       status, attempts, COALESCE(last_error, ''), COALESCE(ocr_text, ''),
	       COALESCE(language, ''), COALESCE(translation, ''), COALESCE(metadata_yaml, ''),
	       claim_run, created_at, updated_at
	FROM records`

func (s *Store) list(query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()
	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var rec models.Record
	var fp, status, modified, created, updated string
	err := row.Scan(&fp, &rec.FileID, &rec.Name, &rec.Path, &rec.MimeType, &rec.Size, &modified,
		&status, &rec.Attempts, &rec.LastError, &rec.OcrText,
		&rec.Language, &rec.Translation, &rec.MetadataYAML,
		&rec.ClaimRun, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Fingerprint = models.Fingerprint(fp)
	rec.Status = models.Status(status)
	rec.ModifiedTime, _ = time.Parse(time.RFC3339, modified)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &rec, nil
}
