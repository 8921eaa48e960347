package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MetadataStore persists collection and profile records. Get methods return
// (nil, nil) when the record does not exist.
type MetadataStore interface {
	GetCollection(ctx context.Context, id string) (*CollectionMetadata, error)
	SaveCollection(ctx context.Context, c *CollectionMetadata) error
	ListCollections(ctx context.Context) ([]CollectionMetadata, error)
	DeleteCollection(ctx context.Context, id string) error

	GetProfile(ctx context.Context, id string) (*ProfileMetadata, error)
	SaveProfile(ctx context.Context, p *ProfileMetadata) error
	ListProfiles(ctx context.Context) ([]ProfileMetadata, error)
	ListProfilesByCollection(ctx context.Context, collectionID string) ([]ProfileMetadata, error)
	DeleteProfile(ctx context.Context, id string) error
}

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore is the MetadataStore backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create directory: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metadata: open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("metadata: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadata: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			collection_id   TEXT PRIMARY KEY,
			source_type     TEXT NOT NULL,
			source_location TEXT NOT NULL,
			mount_path      TEXT NOT NULL,
			source_commit   TEXT,
			last_updated    TEXT,
			last_checked    TEXT
		);

		CREATE TABLE IF NOT EXISTS profiles (
			profile_id    TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			source_path   TEXT NOT NULL,
			cache_path    TEXT NOT NULL,
			manifest_hash TEXT,
			cache_built   TEXT,
			last_checked  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_collection ON profiles(collection_id);

		CREATE TABLE IF NOT EXISTS profile_dependencies (
			dependent_profile_id  TEXT NOT NULL REFERENCES profiles(profile_id) ON DELETE CASCADE,
			dependency_profile_id TEXT NOT NULL,
			dependency_type       TEXT NOT NULL,
			PRIMARY KEY (dependent_profile_id, dependency_profile_id, dependency_type)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Collections ─────────────────────────────────────────────────────────────

const collectionColumns = `collection_id, source_type, source_location, mount_path, source_commit, last_updated, last_checked`

func (s *SQLiteStore) GetCollection(ctx context.Context, id string) (*CollectionMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE collection_id = ?`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: get collection %q: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) SaveCollection(ctx context.Context, c *CollectionMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (`+collectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET
			source_type     = excluded.source_type,
			source_location = excluded.source_location,
			mount_path      = excluded.mount_path,
			source_commit   = excluded.source_commit,
			last_updated    = excluded.last_updated,
			last_checked    = excluded.last_checked`,
		c.CollectionID, string(c.SourceType), c.SourceLocation, c.MountPath,
		nullString(c.SourceCommit), formatTime(c.LastUpdated), formatTime(c.LastChecked))
	if err != nil {
		return fmt.Errorf("metadata: save collection %q: %w", c.CollectionID, err)
	}
	return nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]CollectionMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY collection_id`)
	if err != nil {
		return nil, fmt.Errorf("metadata: list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CollectionMetadata
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("metadata: list collections: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("metadata: delete collection %q: %w", id, err)
	}
	return nil
}

// ─── Profiles ────────────────────────────────────────────────────────────────

const profileColumns = `profile_id, collection_id, source_path, cache_path, manifest_hash, cache_built, last_checked`

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*ProfileMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE profile_id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: get profile %q: %w", id, err)
	}
	if p.Dependencies, err = s.dependencies(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProfile upserts the profile and replaces its dependency edges.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *ProfileMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: save profile %q: %w", p.ProfileID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			collection_id = excluded.collection_id,
			source_path   = excluded.source_path,
			cache_path    = excluded.cache_path,
			manifest_hash = excluded.manifest_hash,
			cache_built   = excluded.cache_built,
			last_checked  = excluded.last_checked`,
		p.ProfileID, p.CollectionID, p.SourcePath, p.CachePath,
		nullString(p.ManifestHash), formatTime(p.CacheBuilt), formatTime(p.LastChecked))
	if err != nil {
		return fmt.Errorf("metadata: save profile %q: %w", p.ProfileID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_dependencies WHERE dependent_profile_id = ?`, p.ProfileID); err != nil {
		return fmt.Errorf("metadata: save profile %q: %w", p.ProfileID, err)
	}
	for _, d := range p.Dependencies {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO profile_dependencies (dependent_profile_id, dependency_profile_id, dependency_type)
			VALUES (?, ?, ?)`, p.ProfileID, d.DependencyProfileID, d.DependencyType)
		if err != nil {
			return fmt.Errorf("metadata: save profile %q: dependency %q: %w", p.ProfileID, d.DependencyProfileID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]ProfileMetadata, error) {
	return s.listProfiles(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY profile_id`)
}

func (s *SQLiteStore) ListProfilesByCollection(ctx context.Context, collectionID string) ([]ProfileMetadata, error) {
	return s.listProfiles(ctx, `SELECT `+profileColumns+` FROM profiles WHERE collection_id = ? ORDER BY profile_id`, collectionID)
}

func (s *SQLiteStore) listProfiles(ctx context.Context, query string, args ...any) ([]ProfileMetadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: list profiles: %w", err)
	}
	var out []ProfileMetadata
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("metadata: list profiles: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// One connection: the rows must be closed before the next query.
	_ = rows.Close()

	for i := range out {
		deps, err := s.dependencies(ctx, out[i].ProfileID)
		if err != nil {
			return nil, err
		}
		out[i].Dependencies = deps
	}
	return out, nil
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE profile_id = ?`, id); err != nil {
		return fmt.Errorf("metadata: delete profile %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, id string) ([]ProfileDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dependent_profile_id, dependency_profile_id, dependency_type
		FROM profile_dependencies
		WHERE dependent_profile_id = ?
		ORDER BY dependency_type, dependency_profile_id`, id)
	if err != nil {
		return nil, fmt.Errorf("metadata: dependencies of %q: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProfileDependency
	for rows.Next() {
		var d ProfileDependency
		if err := rows.Scan(&d.DependentProfileID, &d.DependencyProfileID, &d.DependencyType); err != nil {
			return nil, fmt.Errorf("metadata: dependencies of %q: %w", id, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ─── Scanning ────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(row scanner) (*CollectionMetadata, error) {
	var (
		c                     CollectionMetadata
		sourceType            string
		commit                sql.NullString
		lastUpdated, lastSeen sql.NullString
	)
	if err := row.Scan(&c.CollectionID, &sourceType, &c.SourceLocation, &c.MountPath, &commit, &lastUpdated, &lastSeen); err != nil {
		return nil, err
	}
	c.SourceType = SourceType(sourceType)
	c.SourceCommit = commit.String
	var err error
	if c.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	if c.LastChecked, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanProfile(row scanner) (*ProfileMetadata, error) {
	var (
		p                   ProfileMetadata
		hash                sql.NullString
		cacheBuilt, checked sql.NullString
	)
	if err := row.Scan(&p.ProfileID, &p.CollectionID, &p.SourcePath, &p.CachePath, &hash, &cacheBuilt, &checked); err != nil {
		return nil, err
	}
	p.ManifestHash = hash.String
	var err error
	if p.CacheBuilt, err = parseTime(cacheBuilt); err != nil {
		return nil, err
	}
	if p.LastChecked, err = parseTime(checked); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// formatTime stores a zero time as NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
