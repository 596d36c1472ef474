package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

// IsDuplicate reports whether err came from a task id or uniqueness clash,
// meaning an equivalent task is already queued.
func IsDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// Enqueue wraps client errors so asynq sentinels stay reachable through
// errors.Is. Duplicates are logged at debug since callers treat them as a
// normal outcome.
func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	ctx, span := otel.Tracer("task").Start(ctx, "task.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", task.Type()))

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if IsDuplicate(err) {
			zap.L().Debug("task already queued", zap.String("task_type", task.Type()), zap.Error(err))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	span.SetAttributes(attribute.String("task.id", info.ID), attribute.String("task.queue", info.Queue))
	return info, nil
}
