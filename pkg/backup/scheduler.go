package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
)

// Scheduler writes periodic archives on a cron expression.
type Scheduler struct {
	Store    *nosql.Store
	Dir      string
	Cron     string
	MaxFiles int
}

// Start launches the scheduler goroutine. Returns an error on an
// invalid cron expression so startup can abort.
func (s *Scheduler) Start(ctx context.Context) (context.CancelFunc, error) {
	cronExpr := s.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("backup_invalid_cron", "cron", s.Cron)
		return nil, fmt.Errorf("invalid backup cron expression: %s", s.Cron)
	}

	logger.Info("backup_enabled", "cron", cronExpr, "path", s.Dir)
	ctx2, cancel := context.WithCancel(ctx)
	go s.run(ctx2, cronExpr)
	return cancel, nil
}

func (s *Scheduler) run(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("backup_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("backup_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			s.runOnce()
		case <-ctx.Done():
			logger.Info("backup_scheduler_stopping")
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	start := time.Now()
	path, err := WriteFile(s.Dir, s.Store, s.MaxFiles)
	if err != nil {
		logger.Error("backup_run_error", "error", err)
		return
	}
	logger.Info("backup_written", "path", path, "took", time.Since(start).String())
}
