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

// Package orchestrator 把 flush 出的缓冲区快照推进到终态：
// Created → ContextRetrieved → CapabilitiesSelected → Generated → Delivered/Failed。
// 阶段只前进不回退，失败重试发生在阶段边界。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-platform/internal/aggstore"
	"chat-platform/internal/capability"
	"chat-platform/internal/generation"
	"chat-platform/internal/memory"
	"chat-platform/internal/registry"
	"chat-platform/internal/turn"
	"chat-platform/pkg/auth"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
	"chat-platform/pkg/tracing"
)

// Deliverer 投递出口（由 dispatcher 实现）；投递重试与放弃由其内部处理
type Deliverer interface {
	Deliver(ctx context.Context, agent *registry.Agent, t *turn.Turn) error
}

// Orchestrator Turn 编排器
type Orchestrator struct {
	registry registry.Store
	memory   memory.Service
	selector capability.Selector
	gen      generation.Client
	delivery Deliverer
	logger   *log.Logger

	retrieval  stagePolicy
	generation stagePolicy
	limiter    chan struct{}
}

// New 创建编排器
func New(
	reg registry.Store,
	mem memory.Service,
	sel capability.Selector,
	gen generation.Client,
	delivery Deliverer,
	cfg config.OrchestratorConfig,
	logger *log.Logger,
) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{
		registry: reg,
		memory:   mem,
		selector: sel,
		gen:      gen,
		delivery: delivery,
		logger:   logger.With("component", "orchestrator"),
		retrieval: newStagePolicy(cfg.Retrieval, stagePolicy{
			maxRetries: 2,
			backoff:    500 * time.Millisecond,
			maxBackoff: 5 * time.Second,
			timeout:    10 * time.Second,
		}),
		generation: newStagePolicy(cfg.Generation, stagePolicy{
			maxRetries: 2,
			backoff:    time.Second,
			maxBackoff: 30 * time.Second,
			timeout:    60 * time.Second,
		}),
		limiter: make(chan struct{}, concurrency),
	}
}

// Run 把一个缓冲区快照推进到终态；作为 Aggregator/Flusher 的 FlushFunc 注入
func (o *Orchestrator) Run(ctx context.Context, snap *aggstore.BufferSnapshot) {
	select {
	case o.limiter <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-o.limiter }()

	t := turn.New(snap.Key, snap.Messages, snap.Generation)
	ctx = auth.WithTenantID(ctx, t.Key.TenantID)
	ctx = auth.WithUserID(ctx, t.Key.UserID)
	ctx = auth.WithTurnID(ctx, t.ID)
	ctx, span := tracing.StartTurnSpan(ctx, t.ID, t.Key.TenantID)
	defer span.End()

	logger := o.logger.With("turn_id", t.ID, "tenant_id", t.Key.TenantID)
	logger.Info("turn started", "messages", len(t.Messages))

	agent, err := o.resolveAgent(ctx, t)
	if err != nil {
		o.fail(ctx, logger, nil, t, "created", err)
		return
	}

	o.retrieveContext(ctx, logger, t)
	if err := o.selectCapabilities(ctx, t, agent); err != nil {
		o.fail(ctx, logger, agent, t, "capabilities_selected", err)
		return
	}
	if err := o.generate(ctx, t, agent); err != nil {
		o.fail(ctx, logger, agent, t, "generated", err)
		return
	}

	o.recordHistory(ctx, logger, t)

	if err := o.deliver(ctx, t, agent); err != nil {
		o.fail(ctx, logger, agent, t, "delivered", err)
		return
	}
	t.Stage = turn.StageDelivered
	metrics.TurnTotal.WithLabelValues("delivered").Inc()
	logger.Info("turn delivered", "degraded", t.Degraded, "total_tokens", t.Usage.TotalTokens)
}

// resolveAgent 取会话键指向的 Agent；不存在时回落到租户默认 Agent
func (o *Orchestrator) resolveAgent(ctx context.Context, t *turn.Turn) (*registry.Agent, error) {
	agent, err := o.registry.Get(ctx, t.Key.TenantID, t.Key.AgentID)
	if err == nil {
		return agent, nil
	}
	agent, derr := o.registry.GetDefault(ctx, t.Key.TenantID)
	if derr == nil {
		return agent, nil
	}
	return nil, fmt.Errorf("%w: agent %s 不存在且租户无默认 agent: %v", turn.ErrPermanent, t.Key.AgentID, err)
}

// retrieveContext 检索阶段；重试耗尽时降级为空上下文继续，不失败整个 Turn
func (o *Orchestrator) retrieveContext(ctx context.Context, logger *log.Logger, t *turn.Turn) {
	sctx, span := tracing.StartStageSpan(ctx, "context_retrieved", t.ID)
	defer span.End()

	query := strings.Join(turn.Texts(t.Messages), "\n")
	err := runStage(sctx, o.retrieval, "context_retrieved", t.ID, func(ctx context.Context) error {
		raw, err := o.memory.Retrieve(ctx, t.Key, query)
		if err != nil {
			return err
		}
		t.Context = raw
		return nil
	})
	if err != nil {
		t.Context = nil
		t.Degraded = true
		metrics.TurnDegradedTotal.Inc()
		logger.Warn("context retrieval exhausted, continuing degraded", "error", err)
	}
	t.Stage = turn.StageContextRetrieved
}

// selectCapabilities 能力选择阶段；确定性操作，不重试
func (o *Orchestrator) selectCapabilities(ctx context.Context, t *turn.Turn, agent *registry.Agent) error {
	sctx, span := tracing.StartStageSpan(ctx, "capabilities_selected", t.ID)
	defer span.End()

	selected, err := o.selector.Select(sctx, agent.Capabilities, t.Messages)
	if err != nil {
		return turn.NewStageError("capabilities_selected", t.ID, err, false)
	}
	t.Capabilities = selected
	t.Stage = turn.StageCapabilitiesSelected
	return nil
}

// generate 生成阶段
func (o *Orchestrator) generate(ctx context.Context, t *turn.Turn, agent *registry.Agent) error {
	sctx, span := tracing.StartStageSpan(ctx, "generated", t.ID)
	defer span.End()

	messages := o.buildPrompt(t, agent)
	err := runStage(sctx, o.generation, "generated", t.ID, func(ctx context.Context) error {
		res, err := o.gen.Generate(ctx, &generation.Request{
			TurnID:      t.ID,
			Model:       agent.Model,
			Messages:    messages,
			Temperature: agent.Temperature,
			MaxTokens:   agent.MaxTokens,
		})
		if err != nil {
			return err
		}
		t.ResponseText = res.Text
		t.Usage = res.Usage
		return nil
	})
	if err != nil {
		return err
	}
	t.Stage = turn.StageGenerated
	return nil
}

// buildPrompt 组装生成请求：系统提示 + 选中能力 + 检索上下文 + 本轮消息
func (o *Orchestrator) buildPrompt(t *turn.Turn, agent *registry.Agent) []generation.ChatMessage {
	var sys strings.Builder
	if agent.SystemPrompt != "" {
		sys.WriteString(agent.SystemPrompt)
	}
	if len(t.Capabilities) > 0 {
		sys.WriteString("\n\n可用能力:\n")
		for _, c := range t.Capabilities {
			sys.WriteString("- " + c.Name)
			if c.Description != "" {
				sys.WriteString(": " + c.Description)
			}
			sys.WriteString("\n")
		}
	}
	if len(t.Context) > 0 {
		ctxText, _ := json.Marshal(json.RawMessage(t.Context))
		sys.WriteString("\n\n相关上下文:\n")
		sys.Write(ctxText)
	}

	messages := make([]generation.ChatMessage, 0, len(t.Messages)+1)
	if sys.Len() > 0 {
		messages = append(messages, generation.ChatMessage{Role: "system", Content: sys.String()})
	}
	for _, m := range t.Messages {
		messages = append(messages, generation.ChatMessage{Role: "user", Content: m.Text})
	}
	return messages
}

// recordHistory 把本轮对话写入记忆；尽力而为，失败不影响投递
func (o *Orchestrator) recordHistory(ctx context.Context, logger *log.Logger, t *turn.Turn) {
	for _, m := range t.Messages {
		if err := o.memory.Record(ctx, t.Key, "user", m.Text); err != nil {
			logger.Warn("record user message failed", "error", err)
			return
		}
	}
	if err := o.memory.Record(ctx, t.Key, "assistant", t.ResponseText); err != nil {
		logger.Warn("record assistant reply failed", "error", err)
	}
}

// deliver 投递阶段；重试与放弃由 Deliverer 内部处理
func (o *Orchestrator) deliver(ctx context.Context, t *turn.Turn, agent *registry.Agent) error {
	sctx, span := tracing.StartDeliverySpan(ctx, t.ID, agent.WebhookURL)
	defer span.End()
	return o.delivery.Deliver(sctx, agent, t)
}

// fail 记录终态 Failed；Agent 可知时按配置投递错误通知
func (o *Orchestrator) fail(ctx context.Context, logger *log.Logger, agent *registry.Agent, t *turn.Turn, stage string, err error) {
	t.Stage = turn.StageFailed
	t.FailedStage = stage
	t.LastError = err.Error()
	metrics.TurnTotal.WithLabelValues("failed").Inc()
	logger.Error("turn failed", "stage", stage, "error", err)

	if agent == nil || o.delivery == nil {
		return
	}
	if errors.Is(err, turn.ErrDeliveryAbandoned) {
		// 投递本身已放弃，再发错误通知只会再失败一次
		return
	}
	if notifier, ok := o.delivery.(FailureNotifier); ok {
		notifier.NotifyFailure(ctx, agent, t)
	}
}

// FailureNotifier 可选扩展：把 Turn 失败通知租户回调
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, agent *registry.Agent, t *turn.Turn)
}
