package persist

import (
	"time"

	"mirrordb/pkg/dbsync"
)

// EventSink returns the bus sink that turns sync events into persistence
// marks. Attribute changes mark attributes, table-level events mark the
// whole table, partition events mark partitions, row events mark row
// sets; deadlines come from the event's sync period.
func EventSink(m *Markers) dbsync.Sink {
	return func(ev dbsync.Event) {
		if ev.Kind == dbsync.KindTableFirstInit {
			return // subscriber-only event, nothing to persist
		}
		// Attribute changes always reach .metadata: the payload may be
		// the transition to Persist=false itself. Table deletion must
		// drop the folder regardless of the final persist state.
		if !ev.Persist && ev.Kind != dbsync.KindDeleteTable && ev.Kind != dbsync.KindUpdateTableAttributes {
			return
		}
		deadline := ev.Period.Deadline(time.Now())
		switch ev.Kind {
		case dbsync.KindUpdateTableAttributes:
			m.PersistAttributes(ev.Table, deadline)
		case dbsync.KindInitTable, dbsync.KindDeleteTable:
			m.PersistTableContent(ev.Table, deadline)
		case dbsync.KindInitPartitions:
			for _, p := range ev.Partitions {
				m.PersistWholePartition(ev.Table, p.PartitionKey, deadline)
			}
		case dbsync.KindUpdateRows:
			for pk, rows := range ev.Rows {
				rowKeys := make([]string, 0, len(rows))
				for _, r := range rows {
					rowKeys = append(rowKeys, r.RowKey)
				}
				m.PersistRows(ev.Table, pk, rowKeys, deadline)
			}
		case dbsync.KindDeleteRows:
			for pk, rowKeys := range ev.Deleted {
				m.PersistRows(ev.Table, pk, rowKeys, deadline)
			}
		}
	}
}
