// Package loader performs the cold start: it reads every persisted
// table through the driver and attaches the restored tables to the
// store before the server starts answering.
package loader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/persist"
)

// Config controls cold-start behavior.
type Config struct {
	// Workers caps the number of tables loaded concurrently.
	Workers int
	// PartitionWorkers caps the partition files loaded concurrently
	// within one table.
	PartitionWorkers int
	// SkipBroken logs and skips unparsable files instead of failing
	// the whole start.
	SkipBroken bool
}

// LoadAll restores every persisted table into the store. Tables load in
// parallel, and so do the partition files of each table.
func LoadAll(ctx context.Context, driver persist.Driver, store *nosql.Store, cfg Config) error {
	started := time.Now()
	tables, err := driver.ListTables(ctx)
	if err != nil {
		return errors.Wrap(err, "listing persisted tables")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, table := range tables {
		table := table
		g.Go(func() error {
			return loadTable(ctx, driver, store, table, cfg)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("cold_start_done", "tables", len(tables), "elapsed", time.Since(started).String())
	return nil
}

func loadTable(ctx context.Context, driver persist.Driver, store *nosql.Store, table string, cfg Config) error {
	files, err := driver.ListTableFiles(ctx, table)
	if err != nil && err != persist.ErrNotFound {
		return errors.Wrapf(err, "listing files of table %s", table)
	}

	now := nosql.Now()
	attrs := nosql.DefaultAttributes(now)
	var partitions []persist.TableFile
	for _, f := range files {
		if f.Attributes {
			data, err := driver.LoadTableFile(ctx, table, f)
			if err != nil {
				if cfg.SkipBroken {
					logger.Warn("table_metadata_unreadable", "table", table, "err", err)
					continue
				}
				return errors.Wrapf(err, "loading metadata of table %s", table)
			}
			attrs = persist.UnmarshalAttributes(data, now)
			continue
		}
		partitions = append(partitions, f)
	}

	t := nosql.NewTable(table, attrs, store.Expiry())
	partWorkers := cfg.PartitionWorkers
	if partWorkers <= 0 {
		partWorkers = 8
	}
	var rowCount atomic.Int64
	pg, ctx := errgroup.WithContext(ctx)
	pg.SetLimit(partWorkers)
	for _, f := range partitions {
		f := f
		pg.Go(func() error {
			data, err := driver.LoadTableFile(ctx, table, f)
			if err != nil {
				if cfg.SkipBroken {
					logger.Warn("partition_file_unreadable", "table", table, "file", f.Name(), "err", err)
					return nil
				}
				return errors.Wrapf(err, "loading %s/%s", table, f.Name())
			}
			rows, err := persist.UnmarshalRows(data)
			if err != nil {
				if cfg.SkipBroken {
					logger.Warn("partition_file_unparsable", "table", table, "file", f.Name(), "err", err)
					return nil
				}
				return errors.Wrapf(err, "parsing %s/%s", table, f.Name())
			}
			t.BulkInsertOrReplace(rows, now)
			rowCount.Add(int64(len(rows)))
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return err
	}

	store.Attach(t)
	logger.Info("table_loaded", "table", table, "partitions", len(partitions), "rows", rowCount.Load())
	return nil
}
