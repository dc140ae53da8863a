// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatcher 把完成的 Turn 投递到租户 Webhook。语义是至少一次：
// 每次请求带 X-Idempotency-Key（turn_id），接收方据此去重。重试预算
// 耗尽后标记 Abandoned，绝不回头重跑编排阶段。
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"chat-platform/internal/registry"
	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

const idempotencyHeader = "X-Idempotency-Key"

// Dispatcher Webhook 投递器
type Dispatcher struct {
	client *resty.Client
	logger *log.Logger

	maxAttempts    int
	backoff        time.Duration
	maxBackoff     time.Duration
	notifyFailures bool
}

// New 创建投递器
func New(cfg config.DeliveryConfig, logger *log.Logger) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	client := resty.New()
	client.SetTimeout(config.Duration(cfg.Timeout, 10*time.Second))
	client.SetHeader("Content-Type", "application/json")

	return &Dispatcher{
		client:         client,
		logger:         logger.With("component", "dispatcher"),
		maxAttempts:    maxAttempts,
		backoff:        config.Duration(cfg.Backoff, 2*time.Second),
		maxBackoff:     config.Duration(cfg.MaxBackoff, time.Minute),
		notifyFailures: cfg.NotifyFailures,
	}
}

// Deliver 投递 Turn 结果；2xx 即成功，重试预算耗尽返回 ErrDeliveryAbandoned
func (d *Dispatcher) Deliver(ctx context.Context, agent *registry.Agent, t *turn.Turn) error {
	payload := turn.DeliveryPayload{
		TurnID:       t.ID,
		SessionID:    t.Key.SessionID,
		UserID:       t.Key.UserID,
		AgentID:      agent.ID,
		ResponseText: t.ResponseText,
		Usage:        t.Usage,
	}
	attempt, err := d.send(ctx, agent, t, payload)
	d.observe(attempt)
	return err
}

// NotifyFailure 按配置把 Turn 失败通知租户回调；尽力而为，只试一次
func (d *Dispatcher) NotifyFailure(ctx context.Context, agent *registry.Agent, t *turn.Turn) {
	if !d.notifyFailures {
		return
	}
	payload := turn.DeliveryPayload{
		TurnID:    t.ID,
		SessionID: t.Key.SessionID,
		UserID:    t.Key.UserID,
		AgentID:   agent.ID,
		Error:     t.LastError,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, t.ID+"-failure").
		SetBody(body).
		Post(agent.WebhookURL)
	if err != nil || resp.StatusCode() >= http.StatusMultipleChoices {
		d.logger.Warn("failure notification not delivered", "turn_id", t.ID, "error", err)
	}
}

// send 带退避的投递循环
func (d *Dispatcher) send(ctx context.Context, agent *registry.Agent, t *turn.Turn, payload turn.DeliveryPayload) (*turn.DeliveryAttempt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery payload: %w", err)
	}

	attempt := &turn.DeliveryAttempt{
		TenantID: t.Key.TenantID,
		TurnID:   t.ID,
		Endpoint: agent.WebhookURL,
		Payload:  body,
		Status:   turn.DeliveryPending,
	}

	wait := d.backoff
	for attempt.Attempts < d.maxAttempts {
		if attempt.Attempts > 0 {
			select {
			case <-ctx.Done():
				attempt.Status = turn.DeliveryAbandoned
				attempt.LastError = ctx.Err().Error()
				attempt.UpdatedAt = time.Now()
				return attempt, fmt.Errorf("%w: %v", turn.ErrDeliveryAbandoned, ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
			if wait > d.maxBackoff {
				wait = d.maxBackoff
			}
		}
		attempt.Attempts++

		start := time.Now()
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeader(idempotencyHeader, t.ID).
			SetBody(body).
			Post(agent.WebhookURL)
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

		switch {
		case err != nil:
			attempt.LastError = err.Error()
		case resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices:
			attempt.Status = turn.DeliveryDelivered
			attempt.LastError = ""
			attempt.UpdatedAt = time.Now()
			return attempt, nil
		default:
			attempt.LastError = fmt.Sprintf("webhook 返回 %d", resp.StatusCode())
		}
		d.logger.Warn("delivery attempt failed",
			"turn_id", t.ID, "tenant_id", t.Key.TenantID,
			"attempt", attempt.Attempts, "error", attempt.LastError)
	}

	attempt.Status = turn.DeliveryAbandoned
	attempt.UpdatedAt = time.Now()
	return attempt, fmt.Errorf("%w: %d 次尝试后放弃: %s", turn.ErrDeliveryAbandoned, attempt.Attempts, attempt.LastError)
}

func (d *Dispatcher) observe(attempt *turn.DeliveryAttempt) {
	if attempt == nil {
		return
	}
	switch attempt.Status {
	case turn.DeliveryDelivered:
		metrics.DeliveryAttemptTotal.WithLabelValues("delivered").Inc()
	case turn.DeliveryAbandoned:
		metrics.DeliveryAttemptTotal.WithLabelValues("abandoned").Inc()
		metrics.DeliveryAbandonedTotal.WithLabelValues(attempt.TenantID).Inc()
	}
}
