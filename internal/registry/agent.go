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

// Package registry 管理租户的 Agent 配置：系统提示词、能力列表与
// Webhook 回调地址。所有查询按 tenant_id 过滤，跨租户不可见。
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// Agent 租户配置的对话 Agent
type Agent struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Model        string            `json:"model,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	WebhookURL   string            `json:"webhook_url"`
	Capabilities []turn.Capability `json:"capabilities,omitempty"`
	IsDefault    bool              `json:"is_default"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Validate 创建/更新前的字段校验
func (a *Agent) Validate() error {
	if a.TenantID == "" {
		return fmt.Errorf("tenant_id 不能为空")
	}
	if a.Name == "" {
		return fmt.Errorf("agent name 不能为空")
	}
	if a.WebhookURL == "" {
		return fmt.Errorf("webhook_url 不能为空")
	}
	return nil
}

// Store Agent 配置存储；所有方法以 tenantID 为第一过滤条件
type Store interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, tenantID, id string) (*Agent, error)
	GetDefault(ctx context.Context, tenantID string) (*Agent, error)
	List(ctx context.Context, tenantID string) ([]*Agent, error)
	Update(ctx context.Context, agent *Agent) error
	Delete(ctx context.Context, tenantID, id string) error
	Close() error
}

// New 根据配置创建 Agent 存储
func New(ctx context.Context, cfg config.RegistryConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPgStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported registry type: %s", cfg.Type)
	}
}

// EnsureDefault 确保租户存在默认 Agent；首次接入的租户在第一条消息
// 到达时拿到一个开箱可用的配置
func EnsureDefault(ctx context.Context, store Store, tenantID, webhookURL string) (*Agent, error) {
	if agent, err := store.GetDefault(ctx, tenantID); err == nil {
		return agent, nil
	}
	agent := &Agent{
		ID:           "agent-" + uuid.New().String(),
		TenantID:     tenantID,
		Name:         "assistant",
		Description:  "默认对话助手",
		SystemPrompt: "You are a helpful assistant.",
		WebhookURL:   webhookURL,
		IsDefault:    true,
	}
	if err := store.Create(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}
