package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/database"
	"github.com/robfig/cron/v3"
)

type Tasks struct {
	cron            *cron.Cron
	cnfg            *config.AppConfig
	logger          *slog.Logger
	harvest         map[string]func()
	running         sync.Map
	MaintenanceTask func()
}

// NewTasks builds one harvest task per configured job plus the maintenance task.
// db may be nil in tests that only exercise harvesting.
func NewTasks(db *database.Database, deps HarvestDeps, cnfg *config.AppConfig) *Tasks {
	logger := slog.Default().With("module", "tasks")
	t := &Tasks{
		cron:    cron.New(),
		cnfg:    cnfg,
		logger:  logger,
		harvest: make(map[string]func(), len(cnfg.Harvest)),
	}
	for _, job := range cnfg.Harvest {
		t.harvest[job.Name] = t.exclusive(job.Name,
			NewHarvestTask(logger.With(slog.String("task", "harvest"), slog.String("job", job.Name)), job, deps))
	}
	if db != nil {
		t.MaintenanceTask = t.exclusive("maintenance",
			NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg))
	}
	return t
}

// exclusive skips a run while the previous run of the same task is still busy.
func (t *Tasks) exclusive(name string, fn func()) func() {
	return func() {
		if _, busy := t.running.LoadOrStore(name, struct{}{}); busy {
			t.logger.Warn("task still running, skipping", slog.String("task", name))
			return
		}
		defer t.running.Delete(name)
		fn()
	}
}

func (t *Tasks) Run() error {
	for _, job := range t.cnfg.Harvest {
		if _, err := t.cron.AddFunc(job.RunAt, t.harvest[job.Name]); err != nil {
			return fmt.Errorf("scheduling harvest job %q: %w", job.Name, err)
		}
	}
	if t.MaintenanceTask != nil {
		if _, err := t.cron.AddFunc(t.cnfg.Maintenance.GetRunAt(), t.MaintenanceTask); err != nil {
			return fmt.Errorf("scheduling maintenance: %w", err)
		}
	}
	t.cron.Start()
	t.logger.Info("tasks scheduled", slog.Int("harvest_jobs", len(t.harvest)))
	return nil
}

// Jobs lists the harvest job names in sorted order.
func (t *Tasks) Jobs() []string {
	names := make([]string, 0, len(t.harvest))
	for name := range t.harvest {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Trigger starts a harvest job outside its schedule and reports whether it exists.
func (t *Tasks) Trigger(job string) bool {
	fn, ok := t.harvest[job]
	if !ok {
		return false
	}
	go fn()
	return true
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
