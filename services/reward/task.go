package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"
	"rewardmint/pkg/featureflags"
	"rewardmint/pkg/task"
	"rewardmint/pkg/taskname"
	"rewardmint/services/order"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ReconcilePayload is the asynq payload for taskname.RewardReconcile.
type ReconcilePayload struct {
	ContractID int64       `json:"contract_id"`
	Wallet     string      `json:"wallet"`
	Order      order.Order `json:"order"`
}

// Reconciler is satisfied by *Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, o *order.Order, contractID int64, wallet string) (*Result, error)
}

// FeatureMinting pauses minting for a contract when disabled.
const FeatureMinting = "reward_minting"

type Task struct {
	enqueuer   task.Enqueuer
	flags      featureflags.FeatureFlag
	reconciler Reconciler
	store      Store

	queue      string
	maxRetry   int
	sweepBatch int
	now        func() time.Time
}

type TaskParams struct {
	fx.In
	Config     *config.Config
	Enqueuer   task.Enqueuer
	Reconciler Reconciler
	Store      Store
	Flags      featureflags.FeatureFlag `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	queue := p.Config.Reward.Queue
	if queue == "" {
		queue = "default"
	}
	batch := p.Config.Reward.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	return &Task{
		enqueuer:   p.Enqueuer,
		flags:      p.Flags,
		reconciler: p.Reconciler,
		store:      p.Store,
		queue:      queue,
		maxRetry:   p.Config.Reward.MaxRetry,
		sweepBatch: batch,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func reconcileTaskID(contractID int64, orderID string) string {
	return fmt.Sprintf("reward:%d:%s", contractID, orderID)
}

// EnqueueReconcile schedules reconciliation of o. Only one task per order may
// be queued at a time; a duplicate is reported as a conflict.
func (t *Task) EnqueueReconcile(ctx context.Context, contractID int64, wallet string, o *order.Order) (*asynq.TaskInfo, error) {
	return t.enqueue(ctx, reconcileTaskID(contractID, o.ID), ReconcilePayload{
		ContractID: contractID,
		Wallet:     wallet,
		Order:      *o,
	})
}

func (t *Task) enqueue(ctx context.Context, taskID string, payload ReconcilePayload) (*asynq.TaskInfo, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	info, err := t.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.RewardReconcile, b),
		asynq.TaskID(taskID),
		asynq.Queue(t.queue),
		asynq.MaxRetry(t.maxRetry),
	)
	if task.IsDuplicate(err) {
		return nil, errutil.Conflict(fmt.Sprintf("reconciliation for order %s is already queued", payload.Order.ID), err)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (t *Task) HandleReconcileTask(ctx context.Context, tsk *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(tsk.Payload(), &p); err != nil {
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", tsk.Type()),
		zap.Int64("contract_id", p.ContractID),
		zap.String("order_id", p.Order.ID),
	)

	if t.flags != nil && !t.flags.Enabled(ctx, fmt.Sprintf("contract:%d", p.ContractID), FeatureMinting, true) {
		zapLog.Info("minting paused for contract, task will be retried")
		return fmt.Errorf("minting paused for contract %d", p.ContractID)
	}

	res, err := t.reconciler.Reconcile(ctx, &p.Order, p.ContractID, p.Wallet)
	switch {
	case err == nil:
		if res.AlreadyProcessed {
			zapLog.Info("reconcile skipped, order already rewarded")
		}
		return nil
	case errutil.IsStatus(err, errutil.StatusValidationFailed):
		zapLog.Warn("reconcile rejected", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		// Contention and ledger outages are retried with backoff.
		zapLog.Warn("reconcile will be retried", zap.Error(err))
		return err
	}
}

// EnqueueSweep schedules one sweep; overlapping sweeps are collapsed.
func (t *Task) EnqueueSweep(ctx context.Context, interval time.Duration) error {
	_, err := t.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.RewardSweep, nil),
		asynq.Queue(t.queue),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
	)
	if task.IsDuplicate(err) {
		return nil
	}
	return err
}

// HandleSweepTask re-enqueues records whose attempt was interrupted or whose
// submission outcome is still unknown.
func (t *Task) HandleSweepTask(ctx context.Context, tsk *asynq.Task) error {
	records, err := t.store.ListRetryable(ctx, t.now(), t.sweepBatch)
	if err != nil {
		return err
	}

	var queued int
	for _, rec := range records {
		var o order.Order
		if err := json.Unmarshal(rec.OrderSnapshot, &o); err != nil || o.ID == "" {
			zap.L().Warn("skipping record without order snapshot",
				zap.Int64("contract_id", rec.ContractID),
				zap.String("order_id", rec.OrderID),
			)
			continue
		}

		taskID := fmt.Sprintf("%s:sweep:%d", reconcileTaskID(rec.ContractID, rec.OrderID), rec.Attempts)
		_, err := t.enqueue(ctx, taskID, ReconcilePayload{ContractID: rec.ContractID, Wallet: rec.Wallet, Order: o})
		if errutil.IsStatus(err, errutil.StatusConflict) {
			continue
		}
		if err != nil {
			return err
		}
		queued++
	}

	zap.L().Info("reward sweep completed", zap.Int("candidates", len(records)), zap.Int("queued", queued))
	return nil
}
