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

// Package aggstore 实现 debounce 聚合存储：每个会话键一个待冲刷缓冲区、
// 一个单调世代计数器，外加按截止时间排序的到期索引。
// Claim 操作是世代比较交换：同一世代在多进程竞争下至多被认领一次。
package aggstore

import (
	"context"
	"fmt"
	"time"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// dueIndexKey 到期索引的全局键；成员本身携带租户前缀
const dueIndexKey = "cochat:due"

// BufferSnapshot 认领成功时返回的缓冲区快照
type BufferSnapshot struct {
	Key        turn.ConversationKey
	Messages   []turn.Message
	Generation int64
	Deadline   time.Time
}

// Store 聚合存储接口
type Store interface {
	// Append 追加消息并把截止时间推到 deadline；返回新世代与缓冲区长度。
	// 每次 Append 递增世代，使早先排定的 flush 定时器失效。
	Append(ctx context.Context, key turn.ConversationKey, msg turn.Message, deadline time.Time) (generation int64, size int, err error)
	// Snapshot 只读返回缓冲区当前内容；缓冲区为空时返回 nil 快照
	Snapshot(ctx context.Context, key turn.ConversationKey) (*BufferSnapshot, error)
	// Claim 世代比较交换认领：世代不匹配或缓冲区已空时返回 turn.ErrStaleFlush。
	// 认领成功即原子地清空缓冲区、再次递增世代并移出到期索引。
	Claim(ctx context.Context, key turn.ConversationKey, generation int64) (*BufferSnapshot, error)
	// ClaimDue 认领所有截止时间不晚于 now 的缓冲区，至多 limit 个
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*BufferSnapshot, error)
	// Cancel 丢弃缓冲区并使未决定时器失效
	Cancel(ctx context.Context, key turn.ConversationKey) error
	// Ping 探活
	Ping(ctx context.Context) error
	// Close 关闭存储连接
	Close() error
}

// New 根据配置创建聚合存储
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported aggregation store type: %s", cfg.Type)
	}
}
