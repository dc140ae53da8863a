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

package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "chat-platform/pkg/errors"
)

// MemoryStore 进程内 Agent 存储，按租户分桶
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*Agent
}

// NewMemoryStore 创建内存 Agent 存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]map[string]*Agent)}
}

func (s *MemoryStore) bucket(tenantID string) map[string]*Agent {
	b, ok := s.tenants[tenantID]
	if !ok {
		b = make(map[string]*Agent)
		s.tenants[tenantID] = b
	}
	return b
}

// Create 创建 Agent；空 ID 自动生成
func (s *MemoryStore) Create(ctx context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = "agent-" + uuid.New().String()
	}
	b := s.bucket(agent.TenantID)
	if _, exists := b[agent.ID]; exists {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidArg, "agent %s 已存在", agent.ID)
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	cp := *agent
	b[agent.ID] = &cp
	return nil
}

// Get 取指定 Agent；跨租户的 ID 视同不存在
func (s *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.tenants[tenantID][id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "agent %s", id)
}

// GetDefault 取租户默认 Agent
func (s *MemoryStore) GetDefault(ctx context.Context, tenantID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.tenants[tenantID] {
		if a.IsDefault {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "租户 %s 无默认 agent", tenantID)
}

// List 按创建时间列出租户的全部 Agent
func (s *MemoryStore) List(ctx context.Context, tenantID string) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Agent, 0, len(s.tenants[tenantID]))
	for _, a := range s.tenants[tenantID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update 更新 Agent
func (s *MemoryStore) Update(ctx context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.tenants[agent.TenantID]
	old, ok := b[agent.ID]
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "agent %s", agent.ID)
	}
	agent.CreatedAt = old.CreatedAt
	agent.UpdatedAt = time.Now()
	cp := *agent
	b[agent.ID] = &cp
	return nil
}

// Delete 删除 Agent
func (s *MemoryStore) Delete(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.tenants[tenantID]
	if _, ok := b[id]; !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "agent %s", id)
	}
	delete(b, id)
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}
