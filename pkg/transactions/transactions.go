// Package transactions queues multi-step mutations under a transaction
// id and applies them in order on commit. No cross-table two-phase
// commit is attempted: a failure mid-commit surfaces as
// TransactionFailed and the already-applied steps stand.
package transactions

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/ops"
)

// Step type discriminators of the transaction JSON contract.
const (
	StepCleanTable      = "CleanTable"
	StepCleanPartitions = "CleanPartitions"
	StepDeleteRows      = "DeleteRows"
	StepInsertOrUpdate  = "InsertOrUpdate"
)

// Step is one parsed transactional operation.
type Step struct {
	Kind          string
	Table         string
	PartitionKeys []string
	PartitionKey  string
	RowKeys       []string
	Entities      []json.RawMessage
}

type stepModel struct {
	Type          string            `json:"type"`
	TableName     string            `json:"tableName"`
	PartitionKeys []string          `json:"partitionKeys"`
	PartitionKey  string            `json:"partitionKey"`
	RowKeys       []string          `json:"rowKeys"`
	Entities      []json.RawMessage `json:"entities"`
}

// ParseSteps decodes a JSON array of transaction step objects.
func ParseSteps(body []byte) ([]Step, error) {
	var models []stepModel
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, nosql.Errf(nosql.KindJsonParseFail, "transaction body is not a JSON array: %v", err)
	}
	steps := make([]Step, 0, len(models))
	for i, m := range models {
		switch m.Type {
		case StepCleanTable, StepCleanPartitions, StepDeleteRows, StepInsertOrUpdate:
		default:
			return nil, nosql.Errf(nosql.KindJsonParseFail, "step %d has unknown type %q", i, m.Type)
		}
		if m.TableName == "" {
			return nil, nosql.Errf(nosql.KindJsonParseFail, "step %d carries no tableName", i)
		}
		steps = append(steps, Step{
			Kind:          m.Type,
			Table:         m.TableName,
			PartitionKeys: m.PartitionKeys,
			PartitionKey:  m.PartitionKey,
			RowKeys:       m.RowKeys,
			Entities:      m.Entities,
		})
	}
	return steps, nil
}

// Transaction accumulates steps until commit or cancellation.
type Transaction struct {
	ID         string
	Started    time.Time
	lastAccess time.Time
	steps      []Step
}

// Registry keeps the active transactions and applies them through the
// operation layer.
type Registry struct {
	svc     *ops.Service
	IdleTTL time.Duration

	mu     sync.Mutex
	active map[string]*Transaction
}

func NewRegistry(svc *ops.Service) *Registry {
	return &Registry{
		svc:     svc,
		IdleTTL: time.Minute,
		active:  map[string]*Transaction{},
	}
}

// Start opens a transaction and returns its id.
func (r *Registry) Start() string {
	tx := &Transaction{
		ID:         uuid.NewString(),
		Started:    time.Now(),
		lastAccess: time.Now(),
	}
	r.mu.Lock()
	r.active[tx.ID] = tx
	r.mu.Unlock()
	logger.Debug("transaction_started", "transaction", tx.ID)
	return tx.ID
}

// Append parses the body and queues its steps onto the transaction.
func (r *Registry) Append(id string, body []byte) error {
	steps, err := ParseSteps(body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.active[id]
	if !ok {
		return errNotFound(id)
	}
	tx.steps = append(tx.steps, steps...)
	tx.lastAccess = time.Now()
	return nil
}

// Commit applies the queued steps in order and drops the transaction.
func (r *Registry) Commit(id string, period dbsync.Period) error {
	r.mu.Lock()
	tx, ok := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if !ok {
		return errNotFound(id)
	}

	for i, step := range tx.steps {
		if err := r.apply(step, period); err != nil {
			logger.Error("transaction_step_failed",
				"transaction", id, "step", i, "kind", step.Kind, "table", step.Table, "err", err)
			return nosql.Errf(nosql.KindTransactionFailed,
				"transaction %s failed at step %d (%s): %v", id, i, step.Kind, err)
		}
	}
	logger.Debug("transaction_committed", "transaction", id, "steps", len(tx.steps))
	return nil
}

// Cancel drops the transaction without applying anything.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return errNotFound(id)
	}
	delete(r.active, id)
	return nil
}

// SweepIdle drops transactions untouched for longer than IdleTTL.
func (r *Registry) SweepIdle() int {
	deadline := time.Now().Add(-r.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, tx := range r.active {
		if tx.lastAccess.Before(deadline) {
			delete(r.active, id)
			n++
			logger.Warn("transaction_expired", "transaction", id, "steps", len(tx.steps))
		}
	}
	return n
}

// Count reports the number of live transactions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) apply(step Step, period dbsync.Period) error {
	src := dbsync.SourceClientRequest
	switch step.Kind {
	case StepCleanTable:
		return r.svc.CleanTable(step.Table, src, period)
	case StepCleanPartitions:
		return r.svc.DeletePartitions(step.Table, step.PartitionKeys, src, period)
	case StepDeleteRows:
		return r.svc.BulkDelete(step.Table, map[string][]string{step.PartitionKey: step.RowKeys}, src, period)
	case StepInsertOrUpdate:
		body, err := json.Marshal(step.Entities)
		if err != nil {
			return err
		}
		return r.svc.BulkInsertOrReplace(step.Table, body, src, period)
	}
	return nil
}

func errNotFound(id string) error {
	return nosql.Errf(nosql.KindTransactionNotFound, "transaction %s not found", id)
}
