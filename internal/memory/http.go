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

package memory

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

// HTTPService 外部记忆服务客户端（Cognee 风格的 add/search 接口）。
// 重试由编排器在阶段边界做，这里不开 resty 自动重试。
type HTTPService struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPService 创建外部记忆服务客户端
func NewHTTPService(cfg config.MemoryConfig) (*HTTPService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("memory.base_url 不能为空")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("COCHAT_MEMORY_API_KEY")
	}

	client := resty.New()
	client.SetTimeout(config.Duration(cfg.Timeout, 10*time.Second))
	client.SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &HTTPService{client: client, baseURL: cfg.BaseURL}, nil
}

// dataset 记忆侧的数据集命名：租户 + 用户，检索面天然按租户切分
func dataset(tenantID, userID string) string {
	return tenantID + "_" + userID
}

// classify 把传输层错误折算为编排器可识别的检索错误
func classify(err error) error {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", turn.ErrRetrievalTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", turn.ErrRetrievalTimeout, err)
	}
	return fmt.Errorf("%w: %v", turn.ErrRetrieval, err)
}

// Retrieve 检索相关上下文
func (s *HTTPService) Retrieve(ctx context.Context, key turn.ConversationKey, query string) (json.RawMessage, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"query":   query,
			"dataset": dataset(key.TenantID, key.UserID),
		}).
		Post(s.baseURL + "/search")
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: 记忆服务返回 %d", turn.ErrRetrieval, resp.StatusCode())
	}
	return json.RawMessage(resp.Body()), nil
}

// Record 写入一条历史
func (s *HTTPService) Record(ctx context.Context, key turn.ConversationKey, role, text string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"data":    fmt.Sprintf("%s: %s", role, text),
			"dataset": dataset(key.TenantID, key.UserID),
		}).
		Post(s.baseURL + "/add")
	if err != nil {
		return classify(err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("记忆服务写入返回 %d", resp.StatusCode())
	}
	return nil
}

// Search 搜索历史
func (s *HTTPService) Search(ctx context.Context, tenantID, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"query":   query,
			"dataset": dataset(tenantID, userID),
			"limit":   limit,
		}).
		Post(s.baseURL + "/search")
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("记忆服务搜索返回 %d", resp.StatusCode())
	}

	var entries []Entry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		// 服务端可能返回非结构化结果，退化为单条文本
		return []Entry{{Role: "memory", Text: string(resp.Body()), At: time.Now()}}, nil
	}
	return entries, nil
}

// Close 关闭客户端
func (s *HTTPService) Close() error {
	return nil
}
