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

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// OpenAIClient OpenAI 兼容后端客户端。重试由编排器在阶段边界做，
// 因此不开 resty 自动重试，避免重试叠加
type OpenAIClient struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	maxTokens   int
	client      *resty.Client
}

// NewOpenAIClient 创建 OpenAI 兼容客户端；baseURL 为空时用默认或 OPENAI_BASE_URL
func NewOpenAIClient(cfg config.GenerationConfig) (*OpenAIClient, error) {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	client := resty.New()
	client.SetTimeout(config.Duration(cfg.Timeout, 30*time.Second))

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIClient{
		model:       model,
		apiKey:      apiKey,
		baseURL:     baseURL,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      client,
	}, nil
}

// Generate 调用 chat/completions 生成回复
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	request := map[string]interface{}{
		"model":       model,
		"messages":    req.Messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("X-Request-ID", req.TurnID).
		SetBody(request).
		Post(c.baseURL + "/chat/completions")

	if err != nil {
		return nil, classifyTransport(err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, classifyStatus(response.StatusCode(), response.String())
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: 解析生成响应失败: %v", turn.ErrPermanent, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: 生成后端没有返回结果", turn.ErrPermanent)
	}

	return &Result{
		Text: result.Choices[0].Message.Content,
		Usage: turn.UsageStats{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}

// Close 释放空闲连接
func (c *OpenAIClient) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

// classifyTransport 网络层错误一律视为暂时性
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: 生成超时: %v", turn.ErrTransient, err)
	}
	return fmt.Errorf("%w: 调用生成后端失败: %v", turn.ErrTransient, err)
}

// classifyStatus 429 与 5xx 暂时性，其余 4xx 永久性
func classifyStatus(code int, body string) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return fmt.Errorf("%w: 生成后端返回 %d: %s", turn.ErrTransient, code, body)
	}
	return fmt.Errorf("%w: 生成后端返回 %d: %s", turn.ErrPermanent, code, body)
}
