package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/assetdesk/assetdesk/internal/catalog"
	jobmetrics "github.com/assetdesk/assetdesk/internal/jobs"
)

// LowStockReporter produces the reorder report.
type LowStockReporter interface {
	LowStockReport(ctx context.Context) ([]catalog.LowStockEntry, error)
}

// LowStockScanJob logs every active item at or below minimum stock.
type LowStockScanJob struct {
	Catalog LowStockReporter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob wires dependencies for the low stock handler.
func NewLowStockScanJob(reporter LowStockReporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Catalog: reporter, Logger: logger, Metrics: metrics}
}

// Handle runs one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock scan: handler not configured")
	}
	payload, err := decodeRunPayload(t)
	if err != nil {
		return fmt.Errorf("low stock scan: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLowStockScan).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("trigger", string(payload.Trigger)),
	)

	report, err := j.Catalog.LowStockReport(ctx)
	if err != nil {
		resultErr = err
		logger.Error("low stock scan failed", slog.Any("error", err))
		return resultErr
	}
	for _, entry := range report {
		logger.Warn("item below minimum stock",
			slog.String("item_code", entry.Code),
			slog.String("item_name", entry.Name),
			slog.Int64("stock", entry.Stock),
			slog.Int64("min_stock", entry.MinStock),
			slog.Int64("reorder_quantity", entry.ReorderQuantity),
		)
	}
	j.Metrics.AddFindings(TaskLowStockScan, "low_stock", len(report))
	logger.Info("completed low stock scan", slog.Int("items", len(report)))
	return resultErr
}
