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

// Package turn 定义会话键、消息、Turn 与投递的领域模型。
// 所有存储键都由本包构造，tenant_id 恒为最外层命名空间，租户隔离在构造期保证。
package turn

import (
	"fmt"
	"strings"
)

// keyPrefix 所有聚合存储键的固定前缀
const keyPrefix = "cochat"

// ConversationKey 会话键：唯一标识一个 debounce 缓冲区与一条逻辑会话线程。
// 一经消息引用即不可变。
type ConversationKey struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
}

// Validate 校验各分量非空且不含分隔符（键构造的结构性隔离依赖于此）
func (k ConversationKey) Validate() error {
	for name, v := range map[string]string{
		"tenant_id":  k.TenantID,
		"session_id": k.SessionID,
		"user_id":    k.UserID,
		"agent_id":   k.AgentID,
	} {
		if v == "" {
			return fmt.Errorf("%s 不能为空", name)
		}
		if strings.ContainsAny(v, ":@") {
			return fmt.Errorf("%s 含非法字符: %q", name, v)
		}
	}
	return nil
}

// String 人类可读形式，tenant 最外层
func (k ConversationKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.TenantID, k.AgentID, k.UserID, k.SessionID)
}

// BufferKey 缓冲区消息序列的存储键
func (k ConversationKey) BufferKey() string {
	return fmt.Sprintf("%s:%s:buf:%s:%s:%s", keyPrefix, k.TenantID, k.AgentID, k.UserID, k.SessionID)
}

// GenerationKey 世代计数器的存储键；计数器跨缓冲区生命周期单调递增
func (k ConversationKey) GenerationKey() string {
	return fmt.Sprintf("%s:%s:gen:%s:%s:%s", keyPrefix, k.TenantID, k.AgentID, k.UserID, k.SessionID)
}

// TurnID 由会话键与世代派生的幂等令牌；同一 flush 周期在任意进程上派生出相同 ID
func (k ConversationKey) TurnID(generation int64) string {
	return fmt.Sprintf("turn-%s-%s-%s-%s-g%d", k.TenantID, k.AgentID, k.UserID, k.SessionID, generation)
}

// ParseBufferKey 从 BufferKey 反解会话键（Flusher 扫描到期成员时使用）
func ParseBufferKey(s string) (ConversationKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 || parts[0] != keyPrefix || parts[2] != "buf" {
		return ConversationKey{}, fmt.Errorf("非法缓冲区键: %q", s)
	}
	k := ConversationKey{
		TenantID:  parts[1],
		AgentID:   parts[3],
		UserID:    parts[4],
		SessionID: parts[5],
	}
	if err := k.Validate(); err != nil {
		return ConversationKey{}, err
	}
	return k, nil
}
