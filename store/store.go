// Package store wraps the SQLite database for all lawkb persistence:
// knowledge entries, relations, embeddings and the consultation log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/junyiz/lawkb/category"
)

func init() {
	sqlite_vec.Auto()
}

// Input bounds for knowledge entries.
const (
	MaxTitleLen   = 500
	MaxContentLen = 100_000
	MaxTags       = 20
	MaxTagLen     = 50
)

// Entry represents a row in the entries table.
type Entry struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Category  category.Category `json:"category"`
	Tags      []string          `json:"tags"`
	Source    string            `json:"source,omitempty"`
	Version   int64             `json:"version"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EntryPatch carries the fields of an update. Nil fields are left
// unchanged; at least one field must be set.
type EntryPatch struct {
	Title    *string            `json:"title,omitempty"`
	Content  *string            `json:"content,omitempty"`
	Category *category.Category `json:"category,omitempty"`
	Tags     *[]string          `json:"tags,omitempty"`
	Source   *string            `json:"source,omitempty"`
}

func (p EntryPatch) empty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil &&
		p.Tags == nil && p.Source == nil
}

// Change describes a committed write to an entry. The indexer consumes
// these to keep the search index converging on store state.
type Change struct {
	EntryID     int64
	Version     int64
	Deactivated bool
}

// ChangeFunc receives a Change after the write transaction commits.
type ChangeFunc func(Change)

// Store wraps the SQLite database for all lawkb persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	notify       ChangeFunc
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// SetNotifier registers the callback invoked after every committed
// entry write. Must be called before the store receives traffic.
func (s *Store) SetNotifier(fn ChangeFunc) {
	s.notify = fn
}

func (s *Store) notifyChange(c Change) {
	if s.notify != nil {
		s.notify(c)
	}
}

// --- Entry operations ---

// CreateEntry validates and inserts a new knowledge entry and returns
// it with id, version and timestamps populated.
func (s *Store) CreateEntry(ctx context.Context, e Entry) (*Entry, error) {
	e.Title = strings.TrimSpace(e.Title)
	e.Content = strings.TrimSpace(e.Content)
	if err := validateEntryFields(e.Title, e.Content, e.Category, e.Tags); err != nil {
		return nil, err
	}
	e.Tags = normalizeTags(e.Tags)

	now := time.Now().UTC()
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (title, content, category, tags, source, version, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 1, ?, ?)
	`, e.Title, e.Content, string(e.Category), string(tags), e.Source,
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	e.ID = id
	e.Version = 1
	e.Active = true
	e.CreatedAt = now
	e.UpdatedAt = now

	s.notifyChange(Change{EntryID: id, Version: 1})
	return &e, nil
}

// GetEntry retrieves an entry by ID regardless of its active flag.
// Returns ErrNotFound for unknown ids.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, category, tags, source, version, active, created_at, updated_at
		FROM entries WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return e, err
}

// UpdateEntry applies patch to an active entry if expectedVersion still
// matches the stored version, bumping the version by one. A stale
// expectedVersion yields ErrConflict; unknown or inactive entries yield
// ErrNotFound.
func (s *Store) UpdateEntry(ctx context.Context, id, expectedVersion int64, patch EntryPatch) (*Entry, error) {
	if patch.empty() {
		return nil, fmt.Errorf("%w: empty patch", ErrValidation)
	}
	if expectedVersion < 1 {
		return nil, fmt.Errorf("%w: expected_version must be >= 1", ErrValidation)
	}

	cur, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Active {
		return nil, fmt.Errorf("%w: entry %d is inactive", ErrNotFound, id)
	}

	next := *cur
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Content != nil {
		next.Content = strings.TrimSpace(*patch.Content)
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Tags != nil {
		next.Tags = normalizeTags(*patch.Tags)
	}
	if patch.Source != nil {
		next.Source = strings.TrimSpace(*patch.Source)
	}
	if err := validateEntryFields(next.Title, next.Content, next.Category, next.Tags); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tags, err := json.Marshal(next.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	// Version is the optimistic concurrency guard: the UPDATE only lands
	// when nobody else bumped it since the caller read the entry.
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET title = ?, content = ?, category = ?, tags = ?, source = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND active = 1 AND version = ?
	`, next.Title, next.Content, string(next.Category), string(tags), next.Source,
		formatTime(now), id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("updating entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Row existed and was active a moment ago, so the guard that
		// failed is the version.
		latest, gerr := s.GetEntry(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if !latest.Active {
			return nil, fmt.Errorf("%w: entry %d is inactive", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: entry %d is at version %d, expected %d",
			ErrConflict, id, latest.Version, expectedVersion)
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = now

	s.notifyChange(Change{EntryID: id, Version: next.Version})
	return &next, nil
}

// DeactivateEntry soft-deletes an entry. Deactivating an already
// inactive entry is a no-op; unknown ids yield ErrNotFound.
func (s *Store) DeactivateEntry(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET active = 0, version = version + 1, updated_at = ?
		WHERE id = ? AND active = 1
	`, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("deactivating entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, gerr := s.GetEntry(ctx, id)
		if gerr != nil {
			return gerr
		}
		if !cur.Active {
			return nil // already inactive, idempotent
		}
		return fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}

	s.notifyChange(Change{EntryID: id, Deactivated: true})
	return nil
}

// ListEntries returns active entries, optionally restricted to one
// category, ordered by id, with skip/limit pagination.
func (s *Store) ListEntries(ctx context.Context, cat category.Category, skip, limit int) ([]Entry, error) {
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must be non-negative", ErrValidation)
	}
	if limit == 0 || limit > 100 {
		limit = 100
	}

	q := `
		SELECT id, title, content, category, tags, source, version, active, created_at, updated_at
		FROM entries WHERE active = 1`
	args := []any{}
	if cat != "" {
		if !category.Valid(cat) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, cat)
		}
		q += " AND category = ?"
		args = append(args, string(cat))
	}
	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, skip)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AllActiveEntries returns every active entry. Used for index rebuilds
// and graph traversal.
func (s *Store) AllActiveEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, category, tags, source, version, active, created_at, updated_at
		FROM entries WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing active entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ActiveIDs returns the set of active entry ids.
func (s *Store) ActiveIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM entries WHERE active = 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// EntriesByIDs fetches entries by id, preserving the input order and
// skipping unknown ids.
func (s *Store) EntriesByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, content, category, tags, source, version, active, created_at, updated_at
		FROM entries WHERE id IN (%s)
	`, repeatPlaceholders(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("fetching entries: %w", err)
	}
	defer rows.Close()

	got, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Entry, len(got))
	for _, e := range got {
		byID[e.ID] = e
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- helpers ---

func validateEntryFields(title, content string, cat category.Category, tags []string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLen)
	}
	if content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLen)
	}
	if !category.Valid(cat) {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, cat)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("%w: at most %d tags", ErrValidation, MaxTags)
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > MaxTagLen {
			return fmt.Errorf("%w: tag %q exceeds %d characters", ErrValidation, t, MaxTagLen)
		}
	}
	return nil
}

// normalizeTags trims, drops empties, dedupes and sorts.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e         Entry
		cat       string
		tags      string
		source    sql.NullString
		active    int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&e.ID, &e.Title, &e.Content, &cat, &tags, &source,
		&e.Version, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Category = category.Category(cat)
	e.Source = source.String
	e.Active = active != 0
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags for entry %d: %w", e.ID, err)
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}
