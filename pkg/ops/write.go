package ops

import (
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

// InsertOrReplace writes the entity, replacing any row with the same
// keys. The stored row is returned with its server-assigned TimeStamp.
func (s *Service) InsertOrReplace(table string, body []byte, src dbsync.Source, period dbsync.Period) (*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	entity, err := nosql.ParseEntity(body)
	if err != nil {
		return nil, err
	}
	row := entity.ToRow(nosql.Now())
	t.InsertOrReplaceRow(row, row.TimeStamp)

	ev := event(t, dbsync.KindUpdateRows, src, period)
	ev.Rows = groupRows([]*nosql.Row{row})
	s.bus.Publish(ev)
	return row, nil
}

// Insert writes the entity only when no row with the same keys exists.
func (s *Service) Insert(table string, body []byte, src dbsync.Source, period dbsync.Period) (*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	entity, err := nosql.ParseEntity(body)
	if err != nil {
		return nil, err
	}
	row := entity.ToRow(nosql.Now())
	if err := t.InsertRow(row, row.TimeStamp); err != nil {
		return nil, err
	}

	ev := event(t, dbsync.KindUpdateRows, src, period)
	ev.Rows = groupRows([]*nosql.Row{row})
	s.bus.Publish(ev)
	return row, nil
}

// Replace rewrites an existing row iff the entity's TimeStamp matches
// the stored one. An omitted Expires clears any expiration.
func (s *Service) Replace(table string, body []byte, src dbsync.Source, period dbsync.Period) (*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	entity, err := nosql.ParseEntity(body)
	if err != nil {
		return nil, err
	}
	if !entity.HasTimeStamp {
		return nil, nosql.Errf(nosql.KindTimestampMissing,
			"replace of %q/%q carries no %s", entity.PartitionKey, entity.RowKey, nosql.FieldTimeStamp)
	}
	row := entity.ToRow(nosql.Now())
	if err := t.ReplaceRow(row, entity.TimeStamp, row.TimeStamp); err != nil {
		return nil, err
	}

	ev := event(t, dbsync.KindUpdateRows, src, period)
	ev.Rows = groupRows([]*nosql.Row{row})
	s.bus.Publish(ev)
	return row, nil
}

// BulkInsertOrReplace writes a whole array of entities, each partition
// touched exactly once under the lock.
func (s *Service) BulkInsertOrReplace(table string, body []byte, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	rows, err := parseRows(body)
	if err != nil {
		return err
	}
	t.BulkInsertOrReplace(rows, nosql.Now())

	if len(rows) > 0 {
		ev := event(t, dbsync.KindUpdateRows, src, period)
		ev.Rows = groupRows(rows)
		s.bus.Publish(ev)
	}
	return nil
}

// CleanAndBulkInsert replaces content transactionally. With an empty
// partitionKey the whole table is replaced and subscribers receive a
// fresh InitTable; otherwise only the named partition is cleaned and
// the touched partitions are re-announced.
func (s *Service) CleanAndBulkInsert(table, partitionKey string, body []byte, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	rows, err := parseRows(body)
	if err != nil {
		return err
	}

	if partitionKey == "" {
		snap := t.ReplaceContent(rows, nosql.Now())
		ev := event(t, dbsync.KindInitTable, src, period)
		ev.Snapshot = &snap
		s.bus.Publish(ev)
		return nil
	}

	snaps := t.CleanAndBulkInsert(partitionKey, rows, nosql.Now())
	ev := event(t, dbsync.KindInitPartitions, src, period)
	ev.Partitions = snaps
	s.bus.Publish(ev)
	return nil
}

// DeleteRow removes one row, failing with RecordNotFound when absent.
func (s *Service) DeleteRow(table, pk, rk string, src dbsync.Source, period dbsync.Period) (*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	row := t.DeleteRow(pk, rk, nosql.Now())
	if row == nil {
		return nil, nosql.ErrRecordNotFound(pk, rk)
	}

	ev := event(t, dbsync.KindDeleteRows, src, period)
	ev.Deleted = map[string][]string{pk: {rk}}
	s.bus.Publish(ev)
	return row, nil
}

// BulkDelete removes the named rows across partitions. Missing rows are
// silently skipped.
func (s *Service) BulkDelete(table string, keys map[string][]string, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	removed := t.BulkDelete(keys, nosql.Now())
	if len(removed) == 0 {
		return nil
	}

	ev := event(t, dbsync.KindDeleteRows, src, period)
	ev.Deleted = deletedKeys(removed)
	s.bus.Publish(ev)
	return nil
}

// DeletePartitions removes whole partitions and re-announces them empty.
func (s *Service) DeletePartitions(table string, partitionKeys []string, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	var snaps []nosql.PartitionSnap
	for _, pk := range partitionKeys {
		if rows := t.CleanPartition(pk); rows != nil {
			snaps = append(snaps, nosql.PartitionSnap{PartitionKey: pk})
		}
	}
	if len(snaps) == 0 {
		return nil
	}

	ev := event(t, dbsync.KindInitPartitions, src, period)
	ev.Partitions = snaps
	s.bus.Publish(ev)
	return nil
}

// UpdateExpirationTime sets or clears the expiration moment of the
// named rows; zero expires clears it.
func (s *Service) UpdateExpirationTime(table, pk string, rowKeys []string, expires nosql.Micros, src dbsync.Source, period dbsync.Period) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return err
	}
	updated := t.UpdateExpiration(pk, rowKeys, expires, nosql.Now())
	if len(updated) == 0 {
		return nil
	}

	ev := event(t, dbsync.KindUpdateRows, src, period)
	ev.Rows = groupRows(updated)
	s.bus.Publish(ev)
	return nil
}

func parseRows(body []byte) ([]*nosql.Row, error) {
	entities, err := nosql.ParseEntityArray(body)
	if err != nil {
		return nil, err
	}
	now := nosql.Now()
	rows := make([]*nosql.Row, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, e.ToRow(now))
	}
	return rows, nil
}
