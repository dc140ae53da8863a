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

// Package capability 在 Turn 编排中从 Agent 的能力列表里挑出与本次
// 消息相关的子集。选择必须确定：同样的输入产生同样的子集与顺序。
package capability

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"chat-platform/internal/turn"
)

// Selector 能力选择器
type Selector interface {
	Select(ctx context.Context, available []turn.Capability, messages []turn.Message) ([]turn.Capability, error)
}

// KeywordSelector 按词面重合度打分的确定性选择器：能力名与描述的词
// 出现在消息文本里即得分，得分为零的能力被过滤。没有任何能力得分时
// 返回完整列表，交给生成侧自行取舍。
type KeywordSelector struct{}

// NewKeywordSelector 创建词面选择器
func NewKeywordSelector() *KeywordSelector {
	return &KeywordSelector{}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Select 选择相关能力；得分降序，平分时保持原始顺序
func (s *KeywordSelector) Select(ctx context.Context, available []turn.Capability, messages []turn.Message) ([]turn.Capability, error) {
	if len(available) == 0 {
		return nil, nil
	}

	text := make(map[string]struct{})
	for _, m := range messages {
		for _, tok := range tokenize(m.Text) {
			text[tok] = struct{}{}
		}
	}

	type scored struct {
		cap   turn.Capability
		score int
		index int
	}
	ranked := make([]scored, 0, len(available))
	for i, c := range available {
		score := 0
		for _, tok := range tokenize(c.Name + " " + c.Description) {
			if _, ok := text[tok]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{cap: c, score: score, index: i})
		}
	}

	if len(ranked) == 0 {
		out := make([]turn.Capability, len(available))
		copy(out, available)
		return out, nil
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	out := make([]turn.Capability, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.cap)
	}
	return out, nil
}
