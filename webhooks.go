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
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/payouts/config"
	"github.com/blnkfinance/payouts/internal/request"
	"github.com/blnkfinance/payouts/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// getEventFromStatus maps a distribution status to its event name, for
// example distribution.partially_completed.
func getEventFromStatus(status model.DistributionStatus) string {
	if status == "" {
		return "distribution.unknown"
	}
	return "distribution." + strings.ToLower(string(status))
}

// notifyStatusChange queues a webhook for the new status of dist. Failures
// are logged; a status change is never rolled back for a lost webhook.
func (e *Engine) notifyStatusChange(ctx context.Context, dist model.Distribution) {
	if e.queue == nil {
		return
	}

	hook := NewWebhook{Event: getEventFromStatus(dist.Status), Payload: dist}
	if err := e.queue.EnqueueWebhook(ctx, hook); err != nil {
		logrus.WithFields(logrus.Fields{
			"distribution_id": dist.ID,
			"event":           hook.Event,
		}).Errorf("failed to enqueue webhook: %v", err)
	}
}

// processHTTP sends a webhook notification via HTTP POST request.
//
// Parameters:
// - data NewWebhook: The webhook notification data to send.
//
// Returns:
// - error: An error if the request or processing fails.
func processHTTP(ctx context.Context, data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	body, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	_, err = request.Call(webhookClient, req, nil)
	return err
}

// ProcessWebhook delivers a queued webhook. Returning an error lets the queue
// retry the delivery.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The task containing the webhook payload.
//
// Returns:
// - error: An error if the payload cannot be decoded or the delivery fails.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("failed to decode webhook payload: %v", err)
		return err
	}

	if err := processHTTP(ctx, payload); err != nil {
		logrus.WithField("event", payload.Event).Errorf("webhook delivery failed: %v", err)
		return err
	}
	return nil
}
