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

// Message 入站消息载荷；缓冲区内按到达顺序保存
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	ClientID   string    `json:"client_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Texts 返回消息文本序列（保持到达顺序）
func Texts(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}
