package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Result is one scored comparison between a catalog sample and a generated
// variant.
type Result struct {
	ID                 int64
	SourceDataset      string
	SourceFilename     string
	SourceKind         string
	SourceAudioURL     string
	SourceMetadata     map[string]any
	AppliedTags        map[string]any
	GeneratedAudioID   string
	GeneratedAudioPath string
	ModelVersion       string
	Score              int
	Notes              string
	TestedAt           time.Time
}

// ScoredKey identifies a sample that has been scored. Dataset is stored as
// submitted, normally source-qualified.
type ScoredKey struct {
	Dataset  string
	Filename string
}

// ResultUpdate carries optional changes to a stored result.
type ResultUpdate struct {
	Score *int
	Notes *string
}

// ErrInvalidScore is returned for scores outside 0..100 or not a multiple of 10.
var ErrInvalidScore = errors.New("store: score must be between 0 and 100 in steps of 10")

// ValidateScore checks the score scale.
func ValidateScore(score int) error {
	if score < 0 || score > 100 || score%10 != 0 {
		return ErrInvalidScore
	}
	return nil
}

// timeLayout is fixed width so tested_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const resultColumns = `id, source_dataset, source_filename, source_kind, source_audio_url,
	source_metadata, applied_tags, generated_audio_id, generated_audio_path,
	model_version, score, notes, tested_at`

// CreateResult stores r unless a result for the same (dataset, filename)
// already exists, in which case the existing id is returned with existed set.
func (s *Store) CreateResult(ctx context.Context, r Result) (id int64, existed bool, err error) {
	if s.readOnly {
		return 0, false, ErrReadOnly
	}
	if err := ValidateScore(r.Score); err != nil {
		return 0, false, err
	}
	if r.SourceDataset == "" || r.SourceFilename == "" {
		return 0, false, errors.New("store: source dataset and filename are required")
	}

	metadata, err := encodeJSON(r.SourceMetadata, nullWhenNilMap[string, any])
	if err != nil {
		return 0, false, fmt.Errorf("store: encode source metadata: %w", err)
	}
	tags := r.AppliedTags
	if tags == nil {
		tags = map[string]any{}
	}
	applied, err := encodeJSON(tags, nil)
	if err != nil {
		return 0, false, fmt.Errorf("store: encode applied tags: %w", err)
	}
	testedAt := r.TestedAt
	if testedAt.IsZero() {
		testedAt = s.now()
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM model_test_results
			WHERE source_dataset = ? AND source_filename = ?
		`, r.SourceDataset, r.SourceFilename).Scan(&id)
		switch {
		case err == nil:
			existed = true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("store: lookup result: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO model_test_results (
				source_dataset, source_filename, source_kind, source_audio_url,
				source_metadata, applied_tags, generated_audio_id, generated_audio_path,
				model_version, score, notes, tested_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.SourceDataset, r.SourceFilename, nullString(r.SourceKind), nullString(r.SourceAudioURL),
			metadata, applied, r.GeneratedAudioID, r.GeneratedAudioPath,
			r.ModelVersion, r.Score, nullString(r.Notes), formatTime(testedAt),
		)
		if err != nil {
			return fmt.Errorf("store: insert result: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, existed, err
}

// GetResult returns the result with the given id.
func (s *Store) GetResult(ctx context.Context, id int64) (Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM model_test_results WHERE id = ?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, NotFoundError{Entity: "result", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return Result{}, fmt.Errorf("store: get result: %w", err)
	}
	return r, nil
}

// ListResults returns every result, newest first.
func (s *Store) ListResults(ctx context.Context) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM model_test_results ORDER BY tested_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	return scanList(rows, scanResult, "store: scan result", "store: iterate results")
}

// UpdateResult applies the non-nil fields of u and returns the stored row.
func (s *Store) UpdateResult(ctx context.Context, id int64, u ResultUpdate) (Result, error) {
	if s.readOnly {
		return Result{}, ErrReadOnly
	}
	if u.Score != nil {
		if err := ValidateScore(*u.Score); err != nil {
			return Result{}, err
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE model_test_results
			SET score = COALESCE(?, score), notes = COALESCE(?, notes)
			WHERE id = ?
		`, u.Score, u.Notes, id)
		if err != nil {
			return fmt.Errorf("store: update result: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NotFoundError{Entity: "result", Key: strconv.FormatInt(id, 10)}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return s.GetResult(ctx, id)
}

// DeleteResult removes the result with the given id.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_test_results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFoundError{Entity: "result", Key: strconv.FormatInt(id, 10)}
	}
	return nil
}

// ScoredKeys returns the (dataset, filename) pair of every stored result.
func (s *Store) ScoredKeys(ctx context.Context) ([]ScoredKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_dataset, source_filename FROM model_test_results`)
	if err != nil {
		return nil, fmt.Errorf("store: list scored keys: %w", err)
	}
	return scanList(rows, func(sc rowScanner) (ScoredKey, error) {
		var k ScoredKey
		err := sc.Scan(&k.Dataset, &k.Filename)
		return k, err
	}, "store: scan scored key", "store: iterate scored keys")
}

func scanResult(scanner rowScanner) (Result, error) {
	var (
		r        Result
		kind     sql.NullString
		audioURL sql.NullString
		metadata sql.NullString
		applied  sql.NullString
		notes    sql.NullString
		testedAt string
	)
	err := scanner.Scan(
		&r.ID,
		&r.SourceDataset,
		&r.SourceFilename,
		&kind,
		&audioURL,
		&metadata,
		&applied,
		&r.GeneratedAudioID,
		&r.GeneratedAudioPath,
		&r.ModelVersion,
		&r.Score,
		&notes,
		&testedAt,
	)
	if err != nil {
		return Result{}, err
	}
	r.SourceKind = kind.String
	r.SourceAudioURL = audioURL.String
	r.Notes = notes.String
	if r.SourceMetadata, err = decodeJSON[map[string]any](metadata); err != nil {
		return Result{}, fmt.Errorf("decode source metadata: %w", err)
	}
	if r.AppliedTags, err = decodeJSON[map[string]any](applied); err != nil {
		return Result{}, fmt.Errorf("decode applied tags: %w", err)
	}
	if r.TestedAt, err = time.Parse(timeLayout, testedAt); err != nil {
		return Result{}, fmt.Errorf("parse tested_at: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
