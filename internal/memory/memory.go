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

// Package memory 提供会话记忆：Turn 上下文检索与对话历史记录/搜索。
// 检索失败不阻塞 Turn，编排器在重试耗尽后以空上下文降级继续。
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// Entry 一条对话历史
type Entry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Service 会话记忆服务
type Service interface {
	// Retrieve 为本次 Turn 检索相关上下文；返回值原样注入生成提示
	Retrieve(ctx context.Context, key turn.ConversationKey, query string) (json.RawMessage, error)
	// Record 记录一条对话历史（用户消息或 Agent 回复）
	Record(ctx context.Context, key turn.ConversationKey, role, text string) error
	// Search 按租户+用户搜索历史
	Search(ctx context.Context, tenantID, userID, query string, limit int) ([]Entry, error)
	Close() error
}

// New 根据配置创建记忆服务
func New(cfg config.MemoryConfig) (Service, error) {
	switch cfg.Type {
	case "none":
		return NewNoopService(), nil
	case "", "memory":
		return NewInProcessService(), nil
	case "http":
		return NewHTTPService(cfg)
	default:
		return nil, fmt.Errorf("unsupported memory type: %s", cfg.Type)
	}
}

// NoopService 空实现：不记录历史，检索恒返回空上下文
type NoopService struct{}

// NewNoopService 创建空记忆服务
func NewNoopService() *NoopService {
	return &NoopService{}
}

func (s *NoopService) Retrieve(ctx context.Context, key turn.ConversationKey, query string) (json.RawMessage, error) {
	return nil, nil
}

func (s *NoopService) Record(ctx context.Context, key turn.ConversationKey, role, text string) error {
	return nil
}

func (s *NoopService) Search(ctx context.Context, tenantID, userID, query string, limit int) ([]Entry, error) {
	return nil, nil
}

func (s *NoopService) Close() error {
	return nil
}
