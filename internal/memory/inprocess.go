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

package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"chat-platform/internal/turn"
)

// maxHistoryPerThread 单线程保留的历史条数上限，超出后丢最旧的
const maxHistoryPerThread = 200

// InProcessService 进程内记忆：按会话线程保存最近历史，
// 检索返回该线程的末尾若干条作为上下文
type InProcessService struct {
	mu      sync.RWMutex
	threads map[string][]Entry
	recent  int
}

// NewInProcessService 创建进程内记忆服务
func NewInProcessService() *InProcessService {
	return &InProcessService{
		threads: make(map[string][]Entry),
		recent:  10,
	}
}

func threadKey(key turn.ConversationKey) string {
	return key.String()
}

// Retrieve 返回线程最近历史的 JSON 序列
func (s *InProcessService) Retrieve(ctx context.Context, key turn.ConversationKey, query string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.threads[threadKey(key)]
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > s.recent {
		entries = entries[len(entries)-s.recent:]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Record 追加历史并截断超限部分
func (s *InProcessService) Record(ctx context.Context, key turn.ConversationKey, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk := threadKey(key)
	entries := append(s.threads[tk], Entry{Role: role, Text: text, At: time.Now()})
	if len(entries) > maxHistoryPerThread {
		entries = entries[len(entries)-maxHistoryPerThread:]
	}
	s.threads[tk] = entries
	return nil
}

// Search 在租户+用户的所有线程里做子串匹配
func (s *InProcessService) Search(ctx context.Context, tenantID, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	prefix := tenantID + "/"
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, limit)
	for tk, entries := range s.threads {
		if !strings.HasPrefix(tk, prefix) {
			continue
		}
		// 线程键形如 tenant/agent/user/session
		parts := strings.Split(tk, "/")
		if len(parts) != 4 || parts[2] != userID {
			continue
		}
		for _, e := range entries {
			if needle == "" || strings.Contains(strings.ToLower(e.Text), needle) {
				out = append(out, e)
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// Close 关闭服务
func (s *InProcessService) Close() error {
	return nil
}
