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

// Package generation 封装回复生成后端。错误分为暂时性（超时、限流、
// 5xx）与永久性（4xx、内容拒绝），编排器只对暂时性错误重试。
package generation

import (
	"context"
	"fmt"
	"strings"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// ChatMessage 发给生成后端的一条消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 单次生成请求；TurnID 随请求传给后端用于幂等与审计
type Request struct {
	TurnID      string
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Result 生成结果
type Result struct {
	Text  string
	Usage turn.UsageStats
}

// Client 生成后端客户端
type Client interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// New 根据配置创建生成客户端
func New(cfg config.GenerationConfig) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg)
	case "echo":
		return NewEchoClient(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}

// EchoClient 本地开发用后端：原样回显最后一条用户消息
type EchoClient struct{}

// NewEchoClient 创建回显客户端
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

func (c *EchoClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	var last string
	for _, m := range req.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}
	text := "echo: " + last
	return &Result{
		Text: text,
		Usage: turn.UsageStats{
			PromptTokens:     len(strings.Fields(last)),
			CompletionTokens: len(strings.Fields(text)),
			TotalTokens:      len(strings.Fields(last)) + len(strings.Fields(text)),
		},
	}, nil
}

func (c *EchoClient) Close() error {
	return nil
}
