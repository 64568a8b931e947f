package ops

import (
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

// GetRow fetches one row. Reads carrying SetRowsExpiration rewrite the
// row and publish the rewritten version to persistence and subscribers.
func (s *Service) GetRow(table, pk, rk string, opts nosql.ReadOptions) (*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	row, updated := t.GetRow(pk, rk, nosql.Now(), opts)
	s.publishUpdatedRows(t, updated, dbsync.SourceClientRequest)
	if row == nil {
		return nil, nosql.ErrRecordNotFound(pk, rk)
	}
	return row, nil
}

// GetPartition returns every row of a partition in row-key order.
func (s *Service) GetPartition(table, pk string, opts nosql.ReadOptions) ([]*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	rows, updated := t.GetPartitionRows(pk, nosql.Now(), opts)
	s.publishUpdatedRows(t, updated, dbsync.SourceClientRequest)
	return rows, nil
}

// GetAll returns the whole table content in partition order.
func (s *Service) GetAll(table string) ([]*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	return t.Snapshot().AllRows(), nil
}

// GetByRowKey returns the rows matching rk across all partitions.
func (s *Service) GetByRowKey(table, rk string, opts nosql.ReadOptions) ([]*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	return t.GetRowsByRowKey(rk, nosql.Now(), opts), nil
}

// GetMultiRows returns the subset of rowKeys present in partition pk.
func (s *Service) GetMultiRows(table, pk string, rowKeys []string, opts nosql.ReadOptions) ([]*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	return t.GetMultiRows(pk, rowKeys, nosql.Now(), opts), nil
}

// GetHighestRowAndBelow scans partition pk downward from rowKey
// (inclusive), yielding up to limit rows.
func (s *Service) GetHighestRowAndBelow(table, pk, rowKey string, limit int, opts nosql.ReadOptions) ([]*nosql.Row, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil, err
	}
	return t.GetHighestRowAndBelow(pk, rowKey, limit, nosql.Now(), opts), nil
}

// Count reports the row count of a partition, or the whole table when
// pk is empty.
func (s *Service) Count(table, pk string) (int, error) {
	t, err := s.store.GetTable(table)
	if err != nil {
		return 0, err
	}
	if pk == "" {
		return t.RowsCount(), nil
	}
	rows, _ := t.GetPartitionRows(pk, nosql.Now(), nosql.ReadOptions{})
	return len(rows), nil
}
