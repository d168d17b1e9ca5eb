package bundle

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// The merged bundle report is persisted in the archive as a self-contained
// SQLite file so downstream consumers can query it without this package.
// user_version tags the file format for future migrations.

const fileFormatVersion = 1

const fileSchema = `
CREATE TABLE bundles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	cached INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bundle_id INTEGER NOT NULL REFERENCES bundles(id) ON DELETE CASCADE,
	uuid TEXT NOT NULL,
	name TEXT NOT NULL,
	hash TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL
);
CREATE INDEX idx_assets_bundle ON assets(bundle_id);
`

// Marshal serializes the report into SQLite file bytes.
func Marshal(r *Report) ([]byte, error) {
	dir, err := os.MkdirTemp("", "coverdeck-bundle-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "bundle_report.sqlite")
	if err := writeFile(path, r); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle report file: %w", err)
	}
	return data, nil
}

// Unmarshal reconstructs a report from SQLite file bytes.
func Unmarshal(data []byte) (*Report, error) {
	dir, err := os.MkdirTemp("", "coverdeck-bundle-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "bundle_report.sqlite")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write bundle report file: %w", err)
	}
	return readFile(path)
}

func writeFile(path string, r *Report) error {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return fmt.Errorf("open bundle report db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fileSchema); err != nil {
		return fmt.Errorf("create bundle report schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", fileFormatVersion)); err != nil {
		return fmt.Errorf("set format version: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	names := make([]string, 0, len(r.Bundles))
	for name := range r.Bundles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := r.Bundles[name]
		cached := 0
		if b.Cached {
			cached = 1
		}
		res, err := tx.Exec(`INSERT INTO bundles (name, cached) VALUES (?, ?)`, b.Name, cached)
		if err != nil {
			return fmt.Errorf("insert bundle %s: %w", b.Name, err)
		}
		bundleID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("bundle %s insert id: %w", b.Name, err)
		}
		for _, a := range b.Assets {
			if _, err := tx.Exec(
				`INSERT INTO assets (bundle_id, uuid, name, hash, size) VALUES (?, ?, ?, ?, ?)`,
				bundleID, a.UUID, a.Name, a.Hash, a.Size,
			); err != nil {
				return fmt.Errorf("insert asset %s of bundle %s: %w", a.Name, b.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bundle report: %w", err)
	}
	return nil
}

func readFile(path string) (*Report, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open bundle report db: %w", err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return nil, fmt.Errorf("%w: read format version: %v", ErrMalformed, err)
	}
	if version != fileFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, version)
	}

	r := New()
	bundleIDs := make(map[int64]*Bundle)

	rows, err := db.Query(`SELECT id, name, cached FROM bundles`)
	if err != nil {
		return nil, fmt.Errorf("%w: query bundles: %v", ErrMalformed, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		var cached int
		if err := rows.Scan(&id, &name, &cached); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		b := &Bundle{Name: name, Cached: cached != 0}
		r.Bundles[name] = b
		bundleIDs[id] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundles: %w", err)
	}

	assetRows, err := db.Query(`SELECT bundle_id, uuid, name, hash, size FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query assets: %v", ErrMalformed, err)
	}
	defer assetRows.Close()
	for assetRows.Next() {
		var bundleID int64
		var a Asset
		if err := assetRows.Scan(&bundleID, &a.UUID, &a.Name, &a.Hash, &a.Size); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		b, ok := bundleIDs[bundleID]
		if !ok {
			return nil, fmt.Errorf("%w: asset references unknown bundle %d", ErrMalformed, bundleID)
		}
		b.Assets = append(b.Assets, a)
	}
	if err := assetRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}

	return r, nil
}
