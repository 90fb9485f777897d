package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/config"
	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// Abuse flags raised by the anomaly worker.
const (
	AbuseRepeatCaller = "repeat_caller"
	AbuseRapidHangups = "rapid_hangups"
)

const (
	anomalyTaskTimeout = 5 * time.Second

	// calls shorter than this from a caller seen before count as hangups
	hangupMaxSeconds = 2
	hangupMinRepeats = 3
)

// AnomalyTask holds the data for one caller check.
type AnomalyTask struct {
	Ctx             context.Context // detached from the request, carries its logger
	WorkspaceID     string
	CallID          string
	FromPhone       string
	DurationSeconds int
}

// IAnomalyWorker defines the interface for the anomaly worker pool.
type IAnomalyWorker interface {
	SubmitTask(task AnomalyTask) error
	// Verdict returns the caller's current abuse flag, empty if none.
	Verdict(workspaceID, phone string) string
	Stop()
}

type abuseVerdict struct {
	reason  string
	expires time.Time
}

// AnomalyWorker checks callers for abuse patterns off the request path and
// caches the latest flag per caller for the finalize guardrails.
type AnomalyWorker struct {
	pool       *ants.PoolWithFunc
	calls      storage.CallRepo
	cfg        config.AnomalyWorkerPoolConfig
	baseLogger *zap.Logger
	verdicts   sync.Map // workspace|phone -> abuseVerdict
	now        func() time.Time
}

// Ensure AnomalyWorker implements IAnomalyWorker
var _ IAnomalyWorker = (*AnomalyWorker)(nil)

// NewAnomalyWorker creates and initializes a new anomaly worker pool.
func NewAnomalyWorker(cfg config.AnomalyWorkerPoolConfig, calls storage.CallRepo, baseLogger *zap.Logger) (*AnomalyWorker, error) {
	worker := &AnomalyWorker{
		calls:      calls,
		cfg:        cfg,
		baseLogger: baseLogger.Named("anomaly_worker"),
		now:        time.Now,
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(AnomalyTask)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processTask(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(true), // the webhook never waits on a full pool
		ants.WithPanicHandler(func(p interface{}) {
			worker.baseLogger.Error("Panic recovered in anomaly worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anomaly worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Anomaly worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Duration("window", cfg.Window),
		zap.Int("max_calls_per_window", cfg.MaxCallsPerWindow),
	)
	return worker, nil
}

// SubmitTask hands a caller check to the pool. A full pool drops the task.
func (w *AnomalyWorker) SubmitTask(task AnomalyTask) error {
	observer.IncAnomalyTasksSubmitted()
	if err := w.pool.Invoke(task); err != nil {
		observer.IncAnomalyTasksDropped()
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("anomaly pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke anomaly task: %w", err)
	}
	observer.SetAnomalyWorkersRunning(w.pool.Running())
	return nil
}

func (w *AnomalyWorker) processTask(task AnomalyTask) {
	parent := task.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, anomalyTaskTimeout)
	defer cancel()
	defer utils.RecoverWithLog(ctx, "anomaly_check")
	log := logger.FromContextOr(ctx, w.baseLogger).With(
		zap.String("workspace_id", task.WorkspaceID),
		zap.String("call_id", task.CallID),
		zap.String("from_phone", logger.MaskPhone(task.FromPhone)),
	)
	defer observer.SetAnomalyWorkersRunning(w.pool.Running())

	since := w.now().Add(-w.cfg.Window)
	count, err := w.calls.CountRecentByCaller(ctx, task.WorkspaceID, task.FromPhone, since)
	if err != nil {
		log.Warn("Failed to count recent calls for caller", zap.Error(err))
		return
	}

	reason := ""
	switch {
	case w.cfg.MaxCallsPerWindow > 0 && count > int64(w.cfg.MaxCallsPerWindow):
		reason = AbuseRepeatCaller
	case task.DurationSeconds < hangupMaxSeconds && count >= hangupMinRepeats:
		reason = AbuseRapidHangups
	}
	if reason == "" {
		log.Debug("Caller check passed", zap.Int64("recent_calls", count))
		return
	}

	w.verdicts.Store(verdictKey(task.WorkspaceID, task.FromPhone), abuseVerdict{
		reason:  reason,
		expires: w.now().Add(w.cfg.VerdictTTL),
	})
	observer.IncAnomalyFlag(reason)
	log.Warn("Caller flagged", zap.String("reason", reason), zap.Int64("recent_calls", count))
}

// Verdict returns the unexpired flag for the caller.
func (w *AnomalyWorker) Verdict(workspaceID, phone string) string {
	key := verdictKey(workspaceID, phone)
	v, ok := w.verdicts.Load(key)
	if !ok {
		return ""
	}
	verdict := v.(abuseVerdict)
	if !w.now().Before(verdict.expires) {
		w.verdicts.Delete(key)
		return ""
	}
	return verdict.reason
}

// Stop releases the pool, waiting briefly for running checks.
func (w *AnomalyWorker) Stop() {
	if err := w.pool.ReleaseTimeout(anomalyTaskTimeout); err != nil {
		w.baseLogger.Warn("Anomaly worker pool did not drain in time", zap.Error(err))
	}
	w.baseLogger.Info("Anomaly worker pool stopped")
}

func verdictKey(workspaceID, phone string) string {
	return workspaceID + "|" + phone
}
