package backup

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"mirrordb/pkg/nosql"
	"mirrordb/pkg/persist"
)

// WriteArchive streams a zip of the persisted layout built from the
// in-memory store: one folder per table holding the .metadata file and
// one file per partition, identical to what the drivers write out.
func WriteArchive(w io.Writer, store *nosql.Store) error {
	zw := zip.NewWriter(w)
	for _, t := range store.Tables() {
		snap := t.Snapshot()

		f, err := zw.Create(t.Name + "/" + persist.AttributesFile().Name())
		if err != nil {
			return errors.Wrap(err, "backup: create metadata entry")
		}
		if _, err := f.Write(persist.MarshalAttributes(snap.Attrs)); err != nil {
			return errors.Wrap(err, "backup: write metadata")
		}

		for _, p := range snap.Partitions {
			f, err := zw.Create(t.Name + "/" + persist.PartitionFile(p.PartitionKey).Name())
			if err != nil {
				return errors.Wrapf(err, "backup: create entry for partition %q", p.PartitionKey)
			}
			if _, err := f.Write(nosql.MarshalRows(p.Rows)); err != nil {
				return errors.Wrapf(err, "backup: write partition %q", p.PartitionKey)
			}
		}
	}
	return zw.Close()
}

// WriteFile writes an archive to dir with a timestamped name and prunes
// old archives down to maxFiles. Returns the written path.
func WriteFile(dir string, store *nosql.Store, maxFiles int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "backup: ensure dir")
	}
	name := time.Now().UTC().Format("20060102-150405") + ".zip"
	path := filepath.Join(dir, name)

	f, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", errors.Wrap(err, "backup: temp file")
	}
	tmp := f.Name()
	if err := WriteArchive(f, store); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "backup: close archive")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "backup: rename archive")
	}

	if maxFiles > 0 {
		if err := prune(dir, maxFiles); err != nil {
			return path, err
		}
	}
	return path, nil
}

// prune removes the oldest archives so at most keep remain.
func prune(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "backup: list archives")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".zip" {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= keep {
		return nil
	}
	// timestamped names sort chronologically
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return errors.Wrapf(err, "backup: prune %q", name)
		}
	}
	return nil
}
