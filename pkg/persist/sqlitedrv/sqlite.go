// Package sqlitedrv persists table files as rows of a single SQLite
// relation, keyed by (table_name, file_name).
package sqlitedrv

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"mirrordb/pkg/persist"
)

const schema = `
CREATE TABLE IF NOT EXISTS table_files (
	table_name TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	content    BLOB NOT NULL,
	PRIMARY KEY (table_name, file_name)
);
CREATE TABLE IF NOT EXISTS table_folders (
	table_name TEXT NOT NULL PRIMARY KEY
);
`

// Driver keeps every table file in one SQLite database.
type Driver struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the database at path.
func Open(path string) (*Driver, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite db %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing sqlite schema")
	}
	return &Driver{db: db}, nil
}

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT table_name FROM table_folders ORDER BY table_name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing tables")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (d *Driver) ListTableFiles(ctx context.Context, table string) ([]persist.TableFile, error) {
	var exists int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM table_folders WHERE table_name = ?`, table).Scan(&exists)
	if err != nil {
		return nil, errors.Wrapf(err, "checking table %s", table)
	}
	if exists == 0 {
		return nil, persist.ErrNotFound
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT file_name FROM table_files WHERE table_name = ? ORDER BY file_name`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "listing files of table %s", table)
	}
	defer rows.Close()

	var out []persist.TableFile
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		f, perr := persist.ParseTableFile(name)
		if perr != nil {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (d *Driver) LoadTableFile(ctx context.Context, table string, file persist.TableFile) ([]byte, error) {
	var content []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT content FROM table_files WHERE table_name = ? AND file_name = ?`,
		table, file.Name()).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s/%s", table, file.Name())
	}
	return content, nil
}

func (d *Driver) CreateTableFolder(ctx context.Context, table string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO table_folders (table_name) VALUES (?)`, table)
	return errors.Wrapf(err, "creating folder for table %s", table)
}

func (d *Driver) SaveTableFile(ctx context.Context, table string, file persist.TableFile, data []byte) error {
	if err := d.CreateTableFolder(ctx, table); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO table_files (table_name, file_name, content) VALUES (?, ?, ?)
		 ON CONFLICT (table_name, file_name) DO UPDATE SET content = excluded.content`,
		table, file.Name(), data)
	return errors.Wrapf(err, "saving %s/%s", table, file.Name())
}

func (d *Driver) DeleteTableFile(ctx context.Context, table string, file persist.TableFile) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM table_files WHERE table_name = ? AND file_name = ?`, table, file.Name())
	if err != nil {
		return errors.Wrapf(err, "deleting %s/%s", table, file.Name())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persist.ErrNotFound
	}
	return nil
}

func (d *Driver) DeleteTableFolder(ctx context.Context, table string) error {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM table_folders WHERE table_name = ?`, table)
	if err != nil {
		return errors.Wrapf(err, "deleting folder of table %s", table)
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM table_files WHERE table_name = ?`, table); err != nil {
		return errors.Wrapf(err, "deleting files of table %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persist.ErrNotFound
	}
	return nil
}

func (d *Driver) Close() error { return d.db.Close() }
