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

// Package app 统一初始化：供 api 与 worker 复用，避免在 cmd 内写业务装配
package app

import (
	"context"
	"fmt"

	"chat-platform/internal/aggstore"
	"chat-platform/internal/capability"
	"chat-platform/internal/dispatcher"
	"chat-platform/internal/generation"
	"chat-platform/internal/memory"
	"chat-platform/internal/orchestrator"
	"chat-platform/internal/registry"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/secrets"
)

// Bootstrap 两个服务共用的依赖集合
type Bootstrap struct {
	Config       *config.Config
	Logger       *log.Logger
	Store        aggstore.Store
	Registry     registry.Store
	Memory       memory.Service
	Generation   generation.Client
	Dispatcher   *dispatcher.Dispatcher
	Orchestrator *orchestrator.Orchestrator
}

// NewBootstrap 根据配置装配依赖（存储、Agent 注册表、记忆、生成、投递、编排）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	// 配置中留空的密钥经 secret 后端补齐（默认 env）
	sec, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Options:  cfg.Secrets.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret 存储失败: %w", err)
	}
	cfg.API.Middleware.APIKey = secrets.Resolve(ctx, sec, cfg.API.Middleware.APIKey, secrets.KeyAPIKey)
	cfg.Generation.APIKey = secrets.Resolve(ctx, sec, cfg.Generation.APIKey, secrets.KeyOpenAIAPIKey)
	cfg.Memory.APIKey = secrets.Resolve(ctx, sec, cfg.Memory.APIKey, secrets.KeyMemoryAPIKey)

	store, err := aggstore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化聚合存储失败: %w", err)
	}
	reg, err := registry.New(ctx, cfg.Registry)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化 Agent 注册表失败: %w", err)
	}
	if cfg.Registry.SeedTenant != "" && cfg.Registry.SeedWebhookURL != "" {
		if _, err := registry.EnsureDefault(ctx, reg, cfg.Registry.SeedTenant, cfg.Registry.SeedWebhookURL); err != nil {
			logger.Warn("播种默认 agent 失败", "tenant_id", cfg.Registry.SeedTenant, "error", err)
		}
	}
	mem, err := memory.New(cfg.Memory)
	if err != nil {
		store.Close()
		reg.Close()
		return nil, fmt.Errorf("初始化记忆服务失败: %w", err)
	}
	gen, err := generation.New(cfg.Generation)
	if err != nil {
		store.Close()
		reg.Close()
		mem.Close()
		return nil, fmt.Errorf("初始化生成客户端失败: %w", err)
	}

	disp := dispatcher.New(cfg.Delivery, logger)
	orch := orchestrator.New(reg, mem, capability.NewKeywordSelector(), gen, disp, cfg.Orchestrator, logger)

	return &Bootstrap{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Registry:     reg,
		Memory:       mem,
		Generation:   gen,
		Dispatcher:   disp,
		Orchestrator: orch,
	}, nil
}

// Close 释放 Bootstrap 持有的连接
func (b *Bootstrap) Close() {
	if b.Generation != nil {
		b.Generation.Close()
	}
	if b.Memory != nil {
		b.Memory.Close()
	}
	if b.Registry != nil {
		b.Registry.Close()
	}
	if b.Store != nil {
		b.Store.Close()
	}
}
