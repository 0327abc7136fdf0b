package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLedgerReconcile compares item stock with the stock ledger.
	TaskLedgerReconcile = "atk:ledger_reconcile"
	// TaskLowStockScan reports items at or below their minimum stock.
	TaskLowStockScan = "atk:low_stock_scan"
	// TaskIdempotencyCleanup purges expired stock-in idempotency keys.
	TaskIdempotencyCleanup = "atk:idempotency_cleanup"
)

// Trigger says how a run was started.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// RunPayload is shared by the ATK maintenance tasks.
type RunPayload struct {
	Trigger     Trigger   `json:"trigger"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

func newRunTask(taskType string, payload RunPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.Trigger == "" {
		payload.Trigger = TriggerCron
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return asynq.NewTask(taskType, body, opts...), nil
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask(payload RunPayload) (*asynq.Task, error) {
	return newRunTask(TaskLedgerReconcile, payload, asynq.MaxRetry(3))
}

// NewLowStockScanTask constructs a low stock scan task.
func NewLowStockScanTask(payload RunPayload) (*asynq.Task, error) {
	return newRunTask(TaskLowStockScan, payload, asynq.MaxRetry(3))
}

// NewIdempotencyCleanupTask constructs a key cleanup task.
func NewIdempotencyCleanupTask(payload RunPayload) (*asynq.Task, error) {
	return newRunTask(TaskIdempotencyCleanup, payload, asynq.MaxRetry(1))
}

func decodeRunPayload(t *asynq.Task) (RunPayload, error) {
	var payload RunPayload
	if len(t.Payload()) == 0 {
		return RunPayload{Trigger: TriggerCron}, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return RunPayload{}, err
	}
	return payload, nil
}
