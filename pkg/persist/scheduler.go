package persist

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/telemetry"
)

// Scheduler polls the marker set and offers due tasks to the driver.
// Driver errors are never user-visible: failed tasks are re-marked and
// retried forever with backoff between attempts.
type Scheduler struct {
	store   *nosql.Store
	markers *Markers
	driver  Driver

	// PollInterval bounds how often the marker set is polled.
	PollInterval time.Duration
	// MaxAttempts bounds in-place retries before the task is re-marked.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	shuttingDown atomic.Bool
	executed     atomic.Uint64
}

func NewScheduler(store *nosql.Store, markers *Markers, driver Driver) *Scheduler {
	return &Scheduler{
		store:        store,
		markers:      markers,
		driver:       driver,
		PollInterval: 100 * time.Millisecond,
		MaxAttempts:  5,
		BackoffBase:  100 * time.Millisecond,
	}
}

// BeginShutdown makes GetTask yield any pending task regardless of
// deadline so the queue drains.
func (s *Scheduler) BeginShutdown() { s.shuttingDown.Store(true) }

// Executed returns the number of tasks offered to the driver so far.
func (s *Scheduler) Executed() uint64 { return s.executed.Load() }

// Run drains tasks until ctx is done and, when shutting down, until the
// marker set is empty.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		task := s.markers.GetTask(time.Now(), s.shuttingDown.Load())
		if task != nil {
			s.execute(ctx, *task)
			continue
		}
		if s.shuttingDown.Load() && !s.markers.HasPending() {
			return
		}
		select {
		case <-ctx.Done():
			if !s.shuttingDown.Load() {
				return
			}
		case <-ticker.C:
		}
	}
}

// Flush synchronously executes every pending task, used by tests and by
// the shutdown path.
func (s *Scheduler) Flush(ctx context.Context) {
	for {
		task := s.markers.GetTask(time.Now(), true)
		if task == nil {
			return
		}
		s.execute(ctx, *task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task Task) {
	s.executed.Add(1)
	var err error
	delay := s.BackoffBase
	for attempt := 1; ; attempt++ {
		err = s.run(ctx, task)
		if err == nil {
			return
		}
		telemetry.PersistFailure()
		logger.Warn("persist_task_failed",
			"kind", task.Kind.String(), "table", task.Table,
			"partition", task.PartitionKey, "attempt", attempt, "error", err)
		if attempt >= s.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			if !s.shuttingDown.Load() {
				// not draining; give the task back and leave
				s.markers.Remark(task, time.Now())
				return
			}
		case <-time.After(delay):
		}
		delay *= 2
	}
	// exhausted in-place retries; re-mark so the task is retried forever
	logger.Error("persist_task_requeued", "kind", task.Kind.String(), "table", task.Table)
	s.markers.Remark(task, time.Now().Add(delay))
}

func (s *Scheduler) save(ctx context.Context, table string, file TableFile, content []byte) error {
	if err := s.driver.SaveTableFile(ctx, table, file, content); err != nil {
		return err
	}
	telemetry.PersistFileWritten()
	return nil
}

func (s *Scheduler) remove(ctx context.Context, table string, file TableFile) error {
	err := s.driver.DeleteTableFile(ctx, table, file)
	if err != nil && err != ErrNotFound {
		return err
	}
	if err == nil {
		telemetry.PersistFileDeleted()
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskSaveAttributes:
		return s.saveAttributes(ctx, task.Table)
	case TaskSyncTable:
		return s.syncTable(ctx, task.Table)
	case TaskSyncPartition, TaskSyncRows:
		return s.syncPartition(ctx, task.Table, task.PartitionKey)
	}
	return nil
}

func (s *Scheduler) saveAttributes(ctx context.Context, table string) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		// table deleted since the mark; folder removal happens via SyncTable
		return nil
	}
	if err := s.driver.CreateTableFolder(ctx, table); err != nil {
		return err
	}
	return s.save(ctx, table, AttributesFile(), MarshalAttributes(t.Attributes()))
}

// syncTable writes the whole table layout: metadata, every partition
// file, and removes files of partitions that no longer exist. A table
// missing from the store means deletion: the folder goes away.
func (s *Scheduler) syncTable(ctx context.Context, table string) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		if derr := s.driver.DeleteTableFolder(ctx, table); derr != nil && derr != ErrNotFound {
			return derr
		}
		return nil
	}

	snap := t.Snapshot()
	if err := s.driver.CreateTableFolder(ctx, table); err != nil {
		return err
	}
	if err := s.save(ctx, table, AttributesFile(), MarshalAttributes(snap.Attrs)); err != nil {
		return err
	}

	live := make(map[string]bool, len(snap.Partitions))
	for _, p := range snap.Partitions {
		live[p.PartitionKey] = true
		if err := s.save(ctx, table, PartitionFile(p.PartitionKey), nosql.MarshalRows(p.Rows)); err != nil {
			return err
		}
	}

	existing, err := s.driver.ListTableFiles(ctx, table)
	if err == ErrNotFound {
		existing = nil
	} else if err != nil {
		return err
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].PartitionKey < existing[j].PartitionKey })
	for _, f := range existing {
		if f.Attributes || live[f.PartitionKey] {
			continue
		}
		if err := s.remove(ctx, table, f); err != nil {
			return err
		}
	}
	return nil
}

// syncPartition writes a partition's current content, or removes its
// file when the partition is gone. Row-level tasks also resolve here:
// the partition file is the persistence granularity.
func (s *Scheduler) syncPartition(ctx context.Context, table, pk string) error {
	t, err := s.store.GetTable(table)
	if err != nil {
		return nil // table deletion persists via SyncTable
	}
	snap, ok := t.PartitionSnapshot(pk)
	if !ok {
		return s.remove(ctx, table, PartitionFile(pk))
	}
	if err := s.driver.CreateTableFolder(ctx, table); err != nil {
		return err
	}
	return s.save(ctx, table, PartitionFile(pk), nosql.MarshalRows(snap.Rows))
}
