// Package ops is the write/read operation layer: it validates input,
// mutates the store under the table locks and publishes the resulting
// sync events onto the bus after the locks are released.
package ops

import (
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

// Service binds the store to the sync bus.
type Service struct {
	store *nosql.Store
	bus   *dbsync.Bus
}

func New(store *nosql.Store, bus *dbsync.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// Store exposes the underlying store for read-only surfaces.
func (s *Service) Store() *nosql.Store { return s.store }

// event seeds a sync event with the table's persist setting.
func event(t *nosql.Table, kind dbsync.Kind, src dbsync.Source, period dbsync.Period) dbsync.Event {
	return dbsync.Event{
		Kind:    kind,
		Source:  src,
		Table:   t.Name,
		Period:  period,
		Persist: t.Attributes().Persist,
	}
}

// publishUpdatedRows emits an UpdateRows event for rows touched as a
// side effect of a read carrying an expiration update.
func (s *Service) publishUpdatedRows(t *nosql.Table, updated []*nosql.Row, src dbsync.Source) {
	if len(updated) == 0 {
		return
	}
	ev := event(t, dbsync.KindUpdateRows, src, dbsync.DefaultPeriod)
	ev.Rows = groupRows(updated)
	s.bus.Publish(ev)
}

func groupRows(rows []*nosql.Row) map[string][]*nosql.Row {
	out := make(map[string][]*nosql.Row)
	for _, r := range rows {
		out[r.PartitionKey] = append(out[r.PartitionKey], r)
	}
	return out
}

func deletedKeys(byPartition map[string][]*nosql.Row) map[string][]string {
	out := make(map[string][]string, len(byPartition))
	for pk, rows := range byPartition {
		keys := make([]string, 0, len(rows))
		for _, r := range rows {
			keys = append(keys, r.RowKey)
		}
		out[pk] = keys
	}
	return out
}
