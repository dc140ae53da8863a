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

package orchestrator

import (
	"context"
	"time"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
	"chat-platform/pkg/metrics"
)

// stagePolicy 单阶段重试策略的解析结果
type stagePolicy struct {
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	timeout    time.Duration
}

func newStagePolicy(cfg config.StageRetryConfig, defaults stagePolicy) stagePolicy {
	p := defaults
	if cfg.MaxRetries > 0 {
		p.maxRetries = cfg.MaxRetries
	}
	p.backoff = config.Duration(cfg.Backoff, defaults.backoff)
	p.maxBackoff = config.Duration(cfg.MaxBackoff, defaults.maxBackoff)
	p.timeout = config.Duration(cfg.Timeout, defaults.timeout)
	return p
}

// runStage 在阶段边界重试：暂时性错误按指数退避重来，永久性错误
// 立刻放弃。重试只重做本阶段，绝不回退已完成的阶段。
func runStage(ctx context.Context, p stagePolicy, stage, turnID string, fn func(ctx context.Context) error) error {
	var lastErr error
	wait := p.backoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.StageRetryTotal.WithLabelValues(stage).Inc()
			select {
			case <-ctx.Done():
				return turn.NewStageError(stage, turnID, ctx.Err(), true)
			case <-time.After(wait):
			}
			wait *= 2
			if wait > p.maxBackoff {
				wait = p.maxBackoff
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		start := time.Now()
		err := fn(attemptCtx)
		metrics.TurnStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !turn.IsTransient(err) {
			return turn.NewStageError(stage, turnID, err, false)
		}
	}
	return turn.NewStageError(stage, turnID, lastErr, true)
}
