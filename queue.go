/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payouts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/payouts/internal/apierror"
	"github.com/blnkfinance/payouts/internal/notification"
	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Task types handled by the workers.
const (
	TypeDispatchDistribution = "payouts:distribution:dispatch"
	TypeExecuteBatch         = "payouts:batch:execute"
	TypeSendWebhook          = "payouts:webhook:send"
)

// dispatchUniqueTTL bounds how long a duplicate dispatch of the same
// distribution is rejected while the first one is still queued.
const dispatchUniqueTTL = 10 * time.Minute

// QueueNames are the asynq queues each task type is sent to.
type QueueNames struct {
	Dispatch string
	Batch    string
	Webhook  string
}

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	names     QueueNames
	maxRetry  int
}

type distributionTaskPayload struct {
	DistributionID string `json:"distribution_id"`
}

type batchTaskPayload struct {
	BatchPayoutID string `json:"batch_payout_id"`
}

// NewQueue initializes a new Queue instance on the given redis connection.
//
// Parameters:
// - opt asynq.RedisConnOpt: The redis connection used by the queue.
// - names QueueNames: Queue name per task type.
// - maxRetry int: How often asynq retries a failing task.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(opt asynq.RedisConnOpt, names QueueNames, maxRetry int) *Queue {
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		names:     names,
		maxRetry:  maxRetry,
	}
}

func (q *Queue) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	opts = append(opts, asynq.MaxRetry(q.maxRetry))
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logrus.WithField("task", taskType).Debug("task already queued")
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"task": taskType, "queue": info.Queue, "id": info.ID}).Debug("task enqueued")
	return nil
}

// EnqueueDispatch queues a dispatch of the distribution. A dispatch of the
// same distribution that is still queued absorbs the new one.
func (q *Queue) EnqueueDispatch(ctx context.Context, distributionID string) error {
	return q.enqueue(ctx, TypeDispatchDistribution,
		distributionTaskPayload{DistributionID: distributionID},
		asynq.Queue(q.names.Dispatch),
		asynq.Unique(dispatchUniqueTTL),
	)
}

// EnqueueBatchRetry schedules an execution pass of the batch at the given time.
func (q *Queue) EnqueueBatchRetry(ctx context.Context, batchPayoutID string, at time.Time) error {
	return q.enqueue(ctx, TypeExecuteBatch,
		batchTaskPayload{BatchPayoutID: batchPayoutID},
		asynq.TaskID(fmt.Sprintf("%s:%d", batchPayoutID, at.Unix())),
		asynq.Queue(q.names.Batch),
		asynq.ProcessAt(at),
	)
}

// EnqueueWebhook queues a webhook delivery.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	return q.enqueue(ctx, TypeSendWebhook, hook, asynq.Queue(q.names.Webhook))
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// ProcessDispatchTask handles TypeDispatchDistribution. Outcomes that a retry
// cannot change, such as a paused asset or a distribution already handled,
// complete the task; the scheduler picks still SCHEDULED distributions up
// again on its next tick.
func (e *Engine) ProcessDispatchTask(ctx context.Context, task *asynq.Task) error {
	var payload distributionTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid dispatch payload: %v: %w", err, asynq.SkipRetry)
	}

	logger := logrus.WithField("distribution_id", payload.DistributionID)
	result, err := e.Dispatch(ctx, payload.DistributionID)

	var (
		paused    *AssetPausedError
		noHolders *NoHoldersFoundError
		status    *InvalidDistributionStatusError
		wrongType *WrongDistributionTypeError
	)
	switch {
	case err == nil:
		logger.WithFields(logrus.Fields{
			"due":            result.Due,
			"status":         result.Status,
			"batches":        result.Batches,
			"failed_batches": result.FailedBatches,
		}).Info("distribution dispatched")
		return nil
	case errors.As(err, &paused), errors.As(err, &noHolders), errors.As(err, &status), errors.Is(err, ErrDispatchInFlight):
		logger.Warnf("distribution not dispatched: %v", err)
		return nil
	case errors.As(err, &wrongType), apierror.IsNotFound(err):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		notification.NotifyError(err)
		return err
	}
}

// ProcessBatchTask handles TypeExecuteBatch.
func (e *Engine) ProcessBatchTask(ctx context.Context, task *asynq.Task) error {
	var payload batchTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid batch payload: %v: %w", err, asynq.SkipRetry)
	}

	batch, err := e.ExecuteBatch(ctx, payload.BatchPayoutID)
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{
			"batch_id": batch.ID,
			"status":   batch.Status,
		}).Info("batch payout pass finished")
		return nil
	case errors.Is(err, ErrBatchLocked):
		// the pass holding the lock schedules the next one
		return nil
	case apierror.IsNotFound(err):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
