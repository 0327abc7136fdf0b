package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/assetdesk/assetdesk/internal/inventory"
	jobmetrics "github.com/assetdesk/assetdesk/internal/jobs"
)

// Reconciler finds items whose stock drifted from the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.Discrepancy, error)
}

// LedgerReconcileJob checks that every item's stock equals the new_stock of
// its latest ledger row.
type LedgerReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerReconcileJob wires dependencies for the reconcile handler.
func NewLedgerReconcileJob(ledger Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle runs one reconciliation pass. Discrepancies are reported, not fixed.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	payload, err := decodeRunPayload(t)
	if err != nil {
		return fmt.Errorf("ledger reconcile: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := jobLogger(j.Logger, TaskLedgerReconcile).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("trigger", string(payload.Trigger)),
	)
	logger.Info("starting ledger reconciliation")

	found, err := j.Ledger.Reconcile(ctx)
	if err != nil {
		resultErr = err
		logger.Error("reconciliation failed", slog.Any("error", err))
		return resultErr
	}
	j.Metrics.AddFindings(TaskLedgerReconcile, "discrepancy", len(found))

	logger.Info("completed ledger reconciliation",
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func jobLogger(logger *slog.Logger, task string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", task))
}
