// Package files persists the table layout as plain directories: one
// folder per table, one file per partition, plus the .metadata sentinel.
package files

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"mirrordb/pkg/persist"
)

// Driver stores table folders under a root directory.
type Driver struct {
	root string
}

// New ensures the root directory exists and returns the driver.
func New(root string) (*Driver, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errors.Wrapf(err, "creating file store root %s", root)
	}
	return &Driver{root: root}, nil
}

func (d *Driver) tableDir(table string) string {
	return filepath.Join(d.root, table)
}

func (d *Driver) ListTables(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrap(err, "listing table folders")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (d *Driver) ListTableFiles(_ context.Context, table string) ([]persist.TableFile, error) {
	entries, err := os.ReadDir(d.tableDir(table))
	if os.IsNotExist(err) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing files of table %s", table)
	}
	var out []persist.TableFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, perr := persist.ParseTableFile(e.Name())
		if perr != nil {
			continue // stray file, not ours
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *Driver) LoadTableFile(_ context.Context, table string, file persist.TableFile) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.tableDir(table), file.Name()))
	if os.IsNotExist(err) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", table, file.Name())
	}
	return data, nil
}

func (d *Driver) CreateTableFolder(_ context.Context, table string) error {
	return os.MkdirAll(d.tableDir(table), 0o700)
}

// SaveTableFile writes through a temp file and renames it into place so
// a crash never leaves a partly written partition.
func (d *Driver) SaveTableFile(_ context.Context, table string, file persist.TableFile, data []byte) error {
	dir := d.tableDir(table)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "creating folder for table %s", table)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "writing %s/%s", table, file.Name())
	}
	if err := os.Rename(tmpName, filepath.Join(dir, file.Name())); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "renaming %s/%s into place", table, file.Name())
	}
	return nil
}

func (d *Driver) DeleteTableFile(_ context.Context, table string, file persist.TableFile) error {
	err := os.Remove(filepath.Join(d.tableDir(table), file.Name()))
	if os.IsNotExist(err) {
		return persist.ErrNotFound
	}
	return err
}

func (d *Driver) DeleteTableFolder(_ context.Context, table string) error {
	dir := d.tableDir(table)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return persist.ErrNotFound
	}
	return os.RemoveAll(dir)
}

func (d *Driver) Close() error { return nil }
