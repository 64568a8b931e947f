package ops

import (
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/telemetry"
)

// ExpireRows removes every row whose expiration moment has passed and
// notifies persistence and subscribers per affected table.
func (s *Service) ExpireRows(now nosql.Micros) int {
	expired := s.store.Expiry().PopExpired(now)
	if len(expired) == 0 {
		return 0
	}

	keysByTable := make(map[string]map[string][]string)
	for _, e := range expired {
		byPartition, ok := keysByTable[e.Table]
		if !ok {
			byPartition = make(map[string][]string)
			keysByTable[e.Table] = byPartition
		}
		byPartition[e.Row.PartitionKey] = append(byPartition[e.Row.PartitionKey], e.Row.RowKey)
	}

	removed := 0
	for table, keys := range keysByTable {
		t, err := s.store.GetTable(table)
		if err != nil {
			continue
		}
		gone := t.BulkDelete(keys, now)
		if len(gone) == 0 {
			continue
		}
		for _, rows := range gone {
			removed += len(rows)
		}
		ev := event(t, dbsync.KindDeleteRows, dbsync.SourceGC, dbsync.DefaultPeriod)
		ev.Deleted = deletedKeys(gone)
		s.bus.Publish(ev)
	}
	if removed > 0 {
		telemetry.ExpiredRows(removed)
		logger.Info("expired_rows_removed", "count", removed)
	}
	return removed
}

// EnforceQuotas applies each table's partition and row caps, evicting
// the least recently read content first.
func (s *Service) EnforceQuotas(now nosql.Micros) {
	for _, t := range s.store.Tables() {
		attrs := t.Attributes()

		if evicted := t.EvictPartitionsOverQuota(attrs.MaxPartitionsAmount); len(evicted) > 0 {
			logger.Info("partitions_evicted", "table", t.Name, "count", len(evicted))
			s.publishPartitionEviction(t, evicted, dbsync.SourceGC, dbsync.DefaultPeriod)
		}

		if gone := t.EvictRowsOverQuota(attrs.MaxRowsPerPartitionAmount, now); len(gone) > 0 {
			logger.Info("rows_evicted", "table", t.Name, "partitions", len(gone))
			ev := event(t, dbsync.KindDeleteRows, dbsync.SourceGC, dbsync.DefaultPeriod)
			ev.Deleted = deletedKeys(gone)
			s.bus.Publish(ev)
		}
	}
}

// CleanAndKeepMaxPartitions evicts the least recently read partitions
// until at most max remain.
func (s *Service) CleanAndKeepMaxPartitions(table string, max int, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	evicted := t.EvictPartitionsOverQuota(max)
	if len(evicted) == 0 {
		return nil
	}
	logger.Info("partitions_trimmed", "table", table, "count", len(evicted))
	s.publishPartitionEviction(t, evicted, src, period)
	return nil
}

// publishPartitionEviction announces dropped partitions: first the row
// deletions so subscribers and persistence see them, then the empty
// partition snapshots.
func (s *Service) publishPartitionEviction(t *nosql.Table, evicted []nosql.PartitionSnap, src dbsync.Source, period dbsync.Period) {
	deleted := make(map[string][]string, len(evicted))
	snaps := make([]nosql.PartitionSnap, 0, len(evicted))
	for _, p := range evicted {
		for _, r := range p.Rows {
			deleted[p.PartitionKey] = append(deleted[p.PartitionKey], r.RowKey)
		}
		snaps = append(snaps, nosql.PartitionSnap{PartitionKey: p.PartitionKey})
	}
	if len(deleted) > 0 {
		ev := event(t, dbsync.KindDeleteRows, src, period)
		ev.Deleted = deleted
		s.bus.Publish(ev)
	}
	ev := event(t, dbsync.KindInitPartitions, src, period)
	ev.Partitions = snaps
	s.bus.Publish(ev)
}

// CleanPartitionKeepMaxRecords trims a partition to at most amount rows,
// dropping the least recently read.
func (s *Service) CleanPartitionKeepMaxRecords(table, pk string, amount int, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	removed := t.CleanPartitionKeepMaxRecords(pk, amount, nosql.Now())
	if len(removed) == 0 {
		return nil
	}
	logger.Info("partition_trimmed", "table", table, "partition", pk, "removed", len(removed))

	ev := event(t, dbsync.KindDeleteRows, src, period)
	ev.Deleted = deletedKeys(groupRows(removed))
	s.bus.Publish(ev)
	return nil
}
