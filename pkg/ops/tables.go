package ops

import (
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
)

// CreateTable creates a new table or fails with TableAlreadyExists.
func (s *Service) CreateTable(name string, persist bool, maxPartitions, maxRows int, src dbsync.Source, period dbsync.Period) error {
	attrs := nosql.Attributes{
		Persist:                   persist,
		MaxPartitionsAmount:       maxPartitions,
		MaxRowsPerPartitionAmount: maxRows,
		Created:                   nosql.Now(),
	}
	t, err := s.store.CreateTable(name, attrs)
	if err != nil {
		return err
	}
	logger.Info("table_created", "table", name, "persist", persist)
	s.publishAttributes(t, src, period)
	return nil
}

// CreateTableIfNotExists creates the table or aligns the attributes of
// an existing one.
func (s *Service) CreateTableIfNotExists(name string, persist bool, maxPartitions, maxRows int, src dbsync.Source, period dbsync.Period) error {
	attrs := nosql.Attributes{
		Persist:                   persist,
		MaxPartitionsAmount:       maxPartitions,
		MaxRowsPerPartitionAmount: maxRows,
		Created:                   nosql.Now(),
	}
	t, created := s.store.CreateTableIfNotExists(name, attrs)
	if created {
		logger.Info("table_created", "table", name, "persist", persist)
	} else {
		current := t.Attributes()
		if current.Persist == persist &&
			current.MaxPartitionsAmount == maxPartitions &&
			current.MaxRowsPerPartitionAmount == maxRows {
			return nil
		}
		t.SetAttributes(persist, maxPartitions, maxRows)
	}
	s.publishAttributes(t, src, period)
	return nil
}

// SetTableAttributes updates the persist flag and quotas of a table.
func (s *Service) SetTableAttributes(name string, persist bool, maxPartitions, maxRows int, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(name)
	if err != nil {
		return err
	}
	t.SetAttributes(persist, maxPartitions, maxRows)
	logger.Info("table_attributes_updated", "table", name, "persist", persist,
		"max_partitions", maxPartitions, "max_rows", maxRows)
	s.publishAttributes(t, src, period)
	return nil
}

func (s *Service) publishAttributes(t *nosql.Table, src dbsync.Source, period dbsync.Period) {
	attrs := t.Attributes()
	ev := event(t, dbsync.KindUpdateTableAttributes, src, period)
	ev.Attrs = &attrs
	s.bus.Publish(ev)
}

// DeleteTable drops the table, its persisted folder and notifies
// subscribers.
func (s *Service) DeleteTable(name string, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.DeleteTable(name)
	if err != nil {
		return err
	}
	logger.Warn("table_deleted", "table", name)
	ev := event(t, dbsync.KindDeleteTable, src, period)
	s.bus.Publish(ev)
	return nil
}

// CleanTable removes every partition, keeping the table itself.
func (s *Service) CleanTable(name string, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(name)
	if err != nil {
		return err
	}
	t.Clean()
	logger.Info("table_cleaned", "table", name)
	ev := event(t, dbsync.KindInitTable, src, period)
	snap := nosql.TableSnap{Name: t.Name, Attrs: t.Attributes()}
	ev.Snapshot = &snap
	s.bus.Publish(ev)
	return nil
}
