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

package auth

// TenantQuota 租户配额；0 表示不限制
type TenantQuota struct {
	MaxAgents         int // 单租户 agent 配置数上限
	MaxPendingBuffers int // 同时存活的 debounce 缓冲区数上限
	MaxTurnsPerDay    int // 每天 Turn 数上限
}

// DefaultTenantQuota 默认租户配额；buffer 与 turn 限额暂未启用
func DefaultTenantQuota() TenantQuota {
	return TenantQuota{
		MaxAgents:         100,
		MaxPendingBuffers: 0,
		MaxTurnsPerDay:    0,
	}
}
