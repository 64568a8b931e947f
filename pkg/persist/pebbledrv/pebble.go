// Package pebbledrv persists table files in an embedded Pebble database.
//
// Key layout:
//
//	t:<table>            -> table marker (empty value)
//	f:<table>:<file>     -> file content
package pebbledrv

import (
	"bytes"
	"context"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"mirrordb/pkg/persist"
)

// Driver keeps the whole store inside one Pebble database.
type Driver struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Driver, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening pebble db %s", path)
	}
	return &Driver{db: db}, nil
}

func tableKey(table string) []byte { return []byte("t:" + table) }

func fileKey(table, file string) []byte { return []byte("f:" + table + ":" + file) }

func (d *Driver) ListTables(_ context.Context) ([]string, error) {
	prefix := []byte("t:")
	iter, err := d.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

func (d *Driver) ListTableFiles(_ context.Context, table string) ([]persist.TableFile, error) {
	if _, closer, err := d.db.Get(tableKey(table)); err == pebble.ErrNotFound {
		return nil, persist.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "checking table %s", table)
	} else {
		closer.Close()
	}

	prefix := []byte("f:" + table + ":")
	iter, err := d.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []persist.TableFile
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		name := string(iter.Key()[len(prefix):])
		if strings.Contains(name, ":") {
			continue
		}
		f, perr := persist.ParseTableFile(name)
		if perr != nil {
			continue
		}
		out = append(out, f)
	}
	return out, iter.Error()
}

func (d *Driver) LoadTableFile(_ context.Context, table string, file persist.TableFile) ([]byte, error) {
	v, closer, err := d.db.Get(fileKey(table, file.Name()))
	if err == pebble.ErrNotFound {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s/%s", table, file.Name())
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (d *Driver) CreateTableFolder(_ context.Context, table string) error {
	return d.db.Set(tableKey(table), nil, pebble.Sync)
}

func (d *Driver) SaveTableFile(ctx context.Context, table string, file persist.TableFile, data []byte) error {
	if err := d.CreateTableFolder(ctx, table); err != nil {
		return errors.Wrapf(err, "marking table %s", table)
	}
	return d.db.Set(fileKey(table, file.Name()), data, pebble.Sync)
}

func (d *Driver) DeleteTableFile(_ context.Context, table string, file persist.TableFile) error {
	key := fileKey(table, file.Name())
	if _, closer, err := d.db.Get(key); err == pebble.ErrNotFound {
		return persist.ErrNotFound
	} else if err != nil {
		return err
	} else {
		closer.Close()
	}
	return d.db.Delete(key, pebble.Sync)
}

func (d *Driver) DeleteTableFolder(ctx context.Context, table string) error {
	files, err := d.ListTableFiles(ctx, table)
	if err != nil {
		return err
	}
	batch := d.db.NewBatch()
	defer batch.Close()
	for _, f := range files {
		if err := batch.Delete(fileKey(table, f.Name()), nil); err != nil {
			return err
		}
	}
	if err := batch.Delete(tableKey(table), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (d *Driver) Close() error { return d.db.Close() }
