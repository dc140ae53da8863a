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

package aggstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-platform/internal/turn"
)

// memoryBuffer 单个会话键的待冲刷缓冲区
type memoryBuffer struct {
	key      turn.ConversationKey
	messages []turn.Message
	deadline time.Time
}

// MemoryStore 进程内聚合存储实现；世代计数器与缓冲区分开保存，
// 缓冲区被认领清空后计数器继续单调递增
type MemoryStore struct {
	mu      sync.Mutex
	buffers map[string]*memoryBuffer
	gens    map[string]int64
}

// NewMemoryStore 创建内存聚合存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buffers: make(map[string]*memoryBuffer),
		gens:    make(map[string]int64),
	}
}

// Append 追加消息、推后截止时间并递增世代
func (s *MemoryStore) Append(ctx context.Context, key turn.ConversationKey, msg turn.Message, deadline time.Time) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := key.BufferKey()
	s.gens[bk]++
	gen := s.gens[bk]

	buf, ok := s.buffers[bk]
	if !ok {
		buf = &memoryBuffer{key: key}
		s.buffers[bk] = buf
	}
	buf.messages = append(buf.messages, msg)
	buf.deadline = deadline
	return gen, len(buf.messages), nil
}

// Snapshot 只读查看缓冲区
func (s *MemoryStore) Snapshot(ctx context.Context, key turn.ConversationKey) (*BufferSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := key.BufferKey()
	buf, ok := s.buffers[bk]
	if !ok || len(buf.messages) == 0 {
		return nil, nil
	}
	return &BufferSnapshot{
		Key:        key,
		Messages:   append([]turn.Message(nil), buf.messages...),
		Generation: s.gens[bk],
		Deadline:   buf.deadline,
	}, nil
}

// Claim 世代比较交换认领
func (s *MemoryStore) Claim(ctx context.Context, key turn.ConversationKey, generation int64) (*BufferSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(key, generation)
}

func (s *MemoryStore) claimLocked(key turn.ConversationKey, generation int64) (*BufferSnapshot, error) {
	bk := key.BufferKey()
	buf, ok := s.buffers[bk]
	if !ok || len(buf.messages) == 0 {
		return nil, turn.ErrStaleFlush
	}
	if s.gens[bk] != generation {
		return nil, turn.ErrStaleFlush
	}

	snap := &BufferSnapshot{
		Key:        key,
		Messages:   buf.messages,
		Generation: generation,
		Deadline:   buf.deadline,
	}
	delete(s.buffers, bk)
	// 认领后再前移一次，使同世代的其他定时器作废
	s.gens[bk]++
	return snap, nil
}

// ClaimDue 认领所有已到期的缓冲区
func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*BufferSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*memoryBuffer, 0)
	for _, buf := range s.buffers {
		if !buf.deadline.After(now) && len(buf.messages) > 0 {
			due = append(due, buf)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	out := make([]*BufferSnapshot, 0, len(due))
	for _, buf := range due {
		if limit > 0 && len(out) >= limit {
			break
		}
		snap, err := s.claimLocked(buf.key, s.gens[buf.key.BufferKey()])
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Cancel 丢弃缓冲区并使定时器作废
func (s *MemoryStore) Cancel(ctx context.Context, key turn.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := key.BufferKey()
	delete(s.buffers, bk)
	s.gens[bk]++
	return nil
}

// Ping 内存实现恒可用
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}
