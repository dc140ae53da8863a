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

// Package http 对外 HTTP API：消息入口、Agent 管理、记忆搜索与系统状态
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"chat-platform/internal/aggregator"
	"chat-platform/internal/aggstore"
	"chat-platform/internal/memory"
	"chat-platform/internal/registry"
	"chat-platform/internal/turn"
	"chat-platform/pkg/auth"
	pkgerrors "chat-platform/pkg/errors"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

const tenantHeader = "X-Tenant-ID"

// Handler HTTP 请求处理器
type Handler struct {
	agg      *aggregator.Aggregator
	registry registry.Store
	memory   memory.Service
	store    aggstore.Store
	logger   *log.Logger
	startAt  time.Time
}

// NewHandler 创建处理器
func NewHandler(agg *aggregator.Aggregator, reg registry.Store, mem memory.Service, store aggstore.Store, logger *log.Logger) *Handler {
	return &Handler{
		agg:      agg,
		registry: reg,
		memory:   mem,
		store:    store,
		logger:   logger.With("component", "http"),
		startAt:  time.Now(),
	}
}

// MessageInput 入站消息；与租户侧集成约定的字段名保持稳定
type MessageInput struct {
	Message    string `json:"message"`
	TenantID   string `json:"tenant_id"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	AgentID    string `json:"agent_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	DebounceMS int64  `json:"debounce_ms,omitempty"`
}

// ingestResult 单条消息的受理结果
type ingestResult struct {
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Buffered  int    `json:"buffered,omitempty"`
	Error     string `json:"error,omitempty"`

	storeErr error
}

// IngestMessages 消息入口：接受单条或数组，逐条入缓冲区。
// 聚合存储不可用时整体 503，租户侧应重试而不是当作已受理。
// POST /api/messages
func (h *Handler) IngestMessages(c context.Context, ctx *app.RequestContext) {
	body := ctx.Request.Body()
	inputs, err := decodeMessageInputs(body)
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "非法请求体: " + err.Error()})
		return
	}
	if len(inputs) == 0 {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "消息列表为空"})
		return
	}

	results := make([]ingestResult, 0, len(inputs))
	accepted := 0
	for _, in := range inputs {
		res := h.ingestOne(c, in)
		if res.Status == "accepted" {
			accepted++
		}
		if errors.Is(res.storeErr, turn.ErrStoreUnavailable) {
			ctx.JSON(consts.StatusServiceUnavailable, map[string]string{
				"error": "聚合存储不可用，请稍后重试",
			})
			return
		}
		results = append(results, res)
	}

	status := consts.StatusAccepted
	if accepted == 0 {
		status = consts.StatusBadRequest
	}
	ctx.JSON(status, map[string]interface{}{"results": results})
}

// decodeMessageInputs 兼容单对象与数组两种请求体
func decodeMessageInputs(body []byte) ([]MessageInput, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []MessageInput
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one MessageInput
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []MessageInput{one}, nil
}

// ingestOne 单条消息受理；storeErr 仅在存储不可用时置位
func (h *Handler) ingestOne(c context.Context, in MessageInput) (res ingestResult) {
	if in.MessageID == "" {
		in.MessageID = "msg-" + uuid.New().String()
	}
	res = ingestResult{MessageID: in.MessageID}

	if in.Message == "" {
		res.Status = "rejected"
		res.Error = "message 不能为空"
		return res
	}

	agentID := in.AgentID
	if agentID == "" {
		agent, err := h.registry.GetDefault(c, in.TenantID)
		if err != nil {
			res.Status = "rejected"
			res.Error = "未指定 agent_id 且租户无默认 agent"
			return res
		}
		agentID = agent.ID
	} else if _, err := h.registry.Get(c, in.TenantID, agentID); err != nil {
		if _, derr := h.registry.GetDefault(c, in.TenantID); derr != nil {
			res.Status = "rejected"
			res.Error = "agent 不存在"
			return res
		}
	}

	key := turn.ConversationKey{
		TenantID:  in.TenantID,
		SessionID: in.SessionID,
		UserID:    in.UserID,
		AgentID:   agentID,
	}
	msg := turn.Message{
		ID:         in.MessageID,
		Text:       in.Message,
		ClientID:   in.ClientID,
		ReceivedAt: time.Now(),
	}
	_, size, err := h.agg.Ingest(c, key, msg, in.DebounceMS)
	if err != nil {
		if errors.Is(err, turn.ErrStoreUnavailable) {
			res.Status = "failed"
			res.Error = "聚合存储不可用"
			res.storeErr = err
			return res
		}
		res.Status = "rejected"
		res.Error = err.Error()
		return res
	}
	res.Status = "accepted"
	res.Buffered = size
	return res
}

// tenantFromRequest Agent 管理接口的租户标识：优先中间件注入的 context，
// 兜底读头（直接调 handler 的测试路径）；入站消息走请求体字段
func tenantFromRequest(c context.Context, ctx *app.RequestContext) string {
	if tenantID := auth.GetTenantID(c); tenantID != "" {
		return tenantID
	}
	return string(ctx.GetHeader(tenantHeader))
}

// CreateAgent 创建 Agent
// POST /api/agents
func (h *Handler) CreateAgent(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	if tenantID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "缺少 X-Tenant-ID"})
		return
	}

	var agent registry.Agent
	if err := json.Unmarshal(ctx.Request.Body(), &agent); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "非法请求体: " + err.Error()})
		return
	}
	agent.TenantID = tenantID

	// 配额：限制单租户 agent 配置数
	if quota := auth.DefaultTenantQuota(); quota.MaxAgents > 0 {
		existing, err := h.registry.List(c, tenantID)
		if err == nil && len(existing) >= quota.MaxAgents {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "租户 agent 数量达到上限"})
			return
		}
	}

	if err := h.registry.Create(c, &agent); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusCreated, agent)
}

// ListAgents 列出租户的 Agent
// GET /api/agents
func (h *Handler) ListAgents(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	if tenantID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "缺少 X-Tenant-ID"})
		return
	}
	agents, err := h.registry.List(c, tenantID)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{"agents": agents})
}

// GetAgent 取指定 Agent
// GET /api/agents/:id
func (h *Handler) GetAgent(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	agent, err := h.registry.Get(c, tenantID, ctx.Param("id"))
	if err != nil {
		h.agentError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, agent)
}

// UpdateAgent 更新 Agent
// PUT /api/agents/:id
func (h *Handler) UpdateAgent(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	var agent registry.Agent
	if err := json.Unmarshal(ctx.Request.Body(), &agent); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "非法请求体: " + err.Error()})
		return
	}
	agent.TenantID = tenantID
	agent.ID = ctx.Param("id")
	if err := h.registry.Update(c, &agent); err != nil {
		h.agentError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, agent)
}

// DeleteAgent 删除 Agent
// DELETE /api/agents/:id
func (h *Handler) DeleteAgent(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	if err := h.registry.Delete(c, tenantID, ctx.Param("id")); err != nil {
		h.agentError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) agentError(ctx *app.RequestContext, err error) {
	if errors.Is(err, pkgerrors.ErrNotFound) {
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": "agent 不存在"})
		return
	}
	ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
}

// memorySearchRequest 记忆搜索请求
type memorySearchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchMemory 搜索对话历史
// POST /api/memory/search
func (h *Handler) SearchMemory(c context.Context, ctx *app.RequestContext) {
	tenantID := tenantFromRequest(c, ctx)
	if tenantID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "缺少 X-Tenant-ID"})
		return
	}
	var req memorySearchRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "非法请求体: " + err.Error()})
		return
	}
	if req.UserID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "user_id 不能为空"})
		return
	}
	entries, err := h.memory.Search(c, tenantID, req.UserID, req.Query, req.Limit)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{"entries": entries})
}

// HealthCheck 健康检查；聚合存储不可达时报 degraded
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	status := "ok"
	code := consts.StatusOK
	if h.store != nil {
		if err := h.store.Ping(c); err != nil {
			status = "degraded"
			code = consts.StatusServiceUnavailable
		}
	}
	ctx.JSON(code, map[string]interface{}{
		"status": status,
		"uptime": time.Since(h.startAt).String(),
	})
}

// SystemStatus 系统状态
// GET /api/system/status
func (h *Handler) SystemStatus(c context.Context, ctx *app.RequestContext) {
	storeStatus := "ok"
	if h.store != nil {
		if err := h.store.Ping(c); err != nil {
			storeStatus = "unavailable"
		}
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"store":   storeStatus,
		"uptime":  time.Since(h.startAt).String(),
		"started": h.startAt.Format(time.RFC3339),
	})
}

// SystemMetrics Prometheus 指标
// GET /api/system/metrics
func (h *Handler) SystemMetrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}
