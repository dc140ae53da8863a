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

package turn

import (
	"encoding/json"
	"time"
)

// Stage Turn 编排阶段
type Stage int

const (
	StageCreated Stage = iota
	StageContextRetrieved
	StageCapabilitiesSelected
	StageGenerated
	StageDelivered
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "created"
	case StageContextRetrieved:
		return "context_retrieved"
	case StageCapabilitiesSelected:
		return "capabilities_selected"
	case StageGenerated:
		return "generated"
	case StageDelivered:
		return "delivered"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Capability Agent 能力/技能项；选择协作方返回其有序子集
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UsageStats 生成后端用量统计
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Turn flush 时刻产生的不可变快照：会话键 + 按到达顺序的完整消息序列 + 幂等 turn_id。
// 编排过程只做附加式 enrich（Context/Capabilities/Response），不回退阶段。
type Turn struct {
	ID         string          `json:"turn_id"`
	Key        ConversationKey `json:"key"`
	Messages   []Message       `json:"messages"`
	Generation int64           `json:"generation"`
	CreatedAt  time.Time       `json:"created_at"`

	// 各阶段附加的派生字段
	Stage        Stage           `json:"stage"`
	Context      json.RawMessage `json:"context,omitempty"`
	Capabilities []Capability    `json:"capabilities,omitempty"`
	ResponseText string          `json:"response_text,omitempty"`
	Usage        UsageStats      `json:"usage"`

	// Degraded 检索重试耗尽后以空上下文继续
	Degraded bool `json:"degraded,omitempty"`
	// FailedStage / LastError 终态为 Failed 时记录失败阶段与原因
	FailedStage string `json:"failed_stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// New 由缓冲区快照构造 Turn；turn_id 由键与世代派生，跨进程一致
func New(key ConversationKey, messages []Message, generation int64) *Turn {
	return &Turn{
		ID:         key.TurnID(generation),
		Key:        key,
		Messages:   messages,
		Generation: generation,
		CreatedAt:  time.Now(),
		Stage:      StageCreated,
	}
}
