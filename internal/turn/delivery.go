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

import "time"

// DeliveryStatus 投递终态
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota
	DeliveryDelivered
	DeliveryAbandoned
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// DeliveryAttempt 单个 Turn 的 Webhook 投递记录；存活到成功或重试预算耗尽
type DeliveryAttempt struct {
	TenantID  string         `json:"tenant_id"`
	TurnID    string         `json:"turn_id"`
	Endpoint  string         `json:"endpoint"`
	Payload   []byte         `json:"payload"`
	Attempts  int            `json:"attempts"`
	Status    DeliveryStatus `json:"status"`
	LastError string         `json:"last_error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeliveryPayload 租户回调收到的消息体；接收方按 turn_id 去重
type DeliveryPayload struct {
	TurnID       string     `json:"turn_id"`
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	AgentID      string     `json:"agent_id"`
	ResponseText string     `json:"response_text"`
	Usage        UsageStats `json:"usage"`
	// Error 仅在错误通知（NotifyFailures 开启且 Turn Failed）时非空
	Error string `json:"error,omitempty"`
}
