package dbsync

import (
	"time"

	"mirrordb/pkg/nosql"
)

// Kind tags the sync event variants emitted per committed mutation.
type Kind int

const (
	KindInitTable Kind = iota
	KindUpdateTableAttributes
	KindInitPartitions
	KindUpdateRows
	KindDeleteRows
	KindDeleteTable
	// KindTableFirstInit is a targeted event carrying the full table
	// snapshot for one session that just subscribed.
	KindTableFirstInit
)

func (k Kind) String() string {
	switch k {
	case KindInitTable:
		return "InitTable"
	case KindUpdateTableAttributes:
		return "UpdateTableAttributes"
	case KindInitPartitions:
		return "InitPartitions"
	case KindUpdateRows:
		return "UpdateRows"
	case KindDeleteRows:
		return "DeleteRows"
	case KindDeleteTable:
		return "DeleteTable"
	case KindTableFirstInit:
		return "TableFirstInit"
	}
	return "Unknown"
}

// Source records what triggered a mutation.
type Source int

const (
	SourceClientRequest Source = iota
	SourceGC
	SourceBackup
	SourceInitialization
)

func (s Source) String() string {
	switch s {
	case SourceGC:
		return "gc"
	case SourceBackup:
		return "backup"
	case SourceInitialization:
		return "init"
	}
	return "client"
}

// Event is one typed change record for a single table. Row references
// are shared with the store and immutable.
type Event struct {
	Kind   Kind
	Source Source
	Table  string

	// Attrs accompanies attribute and init events.
	Attrs *nosql.Attributes
	// Snapshot accompanies InitTable.
	Snapshot *nosql.TableSnap
	// Partitions accompanies InitPartitions: full per-partition
	// snapshots, empty Rows meaning the partition is gone.
	Partitions []nosql.PartitionSnap
	// Rows accompanies UpdateRows: affected rows per partition key.
	Rows map[string][]*nosql.Row
	// Deleted accompanies DeleteRows: removed row keys per partition key.
	Deleted map[string][]string

	// SessionID targets TableFirstInit at a single reader session.
	SessionID int64
	// Period is the persistence deadline hint from the request.
	Period Period
	// Persist mirrors the table's persist attribute at commit time;
	// events of non-persisted tables skip the marker updater.
	Persist bool
}

// Period bounds how long a mutation may linger before it is offered to
// the persistence driver.
type Period int

const (
	PeriodImmediately Period = iota
	PeriodSec1
	PeriodSec5
	PeriodSec15
	PeriodSec30
	PeriodMin1
)

// DefaultPeriod applies when the request does not name one.
const DefaultPeriod = PeriodSec5

// ParsePeriod maps the wire values of the syncPeriod query parameter.
// Unknown values fall back to the default.
func ParsePeriod(s string) Period {
	switch s {
	case "i", "a":
		return PeriodImmediately
	case "1":
		return PeriodSec1
	case "5":
		return PeriodSec5
	case "15":
		return PeriodSec15
	case "30":
		return PeriodSec30
	case "60":
		return PeriodMin1
	}
	return DefaultPeriod
}

// Duration returns the linger bound.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodSec1:
		return time.Second
	case PeriodSec5:
		return 5 * time.Second
	case PeriodSec15:
		return 15 * time.Second
	case PeriodSec30:
		return 30 * time.Second
	case PeriodMin1:
		return time.Minute
	}
	return 0
}

// Deadline computes the persist-by moment from now.
func (p Period) Deadline(now time.Time) time.Time {
	return now.Add(p.Duration())
}
