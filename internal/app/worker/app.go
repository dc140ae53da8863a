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

// Package worker Worker 服务装配：到期扫描 + Turn 编排（数据面）
package worker

import (
	"context"
	"fmt"
	"net/http"

	"chat-platform/internal/aggregator"
	"chat-platform/internal/app"
	"chat-platform/pkg/metrics"
	"chat-platform/pkg/tracing"
)

// App Worker 应用；与 API 共享聚合存储，通过到期扫描认领缓冲区并推进 Turn
type App struct {
	bootstrap   *app.Bootstrap
	flusher     *aggregator.Flusher
	metricsSrv  *http.Server
	otelCleanup func(ctx context.Context) error
	cancel      context.CancelFunc
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	flusher := aggregator.NewFlusher(
		bootstrap.Store,
		cfg.Aggregator,
		cfg.Worker.Concurrency,
		bootstrap.Orchestrator.Run,
		bootstrap.Logger,
	)
	return &App{bootstrap: bootstrap, flusher: flusher}, nil
}

// Start 启动到期扫描与指标端口
func (a *App) Start() error {
	cfg := a.bootstrap.Config

	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "cochat-worker"
		}
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			a.bootstrap.Logger.Warn("初始化链路追踪失败", "error", err)
		} else {
			a.otelCleanup = tp.Shutdown
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.flusher.Start(ctx)
	a.bootstrap.Logger.Info("worker started",
		"flush_interval", cfg.Aggregator.FlushInterval,
		"concurrency", cfg.Worker.Concurrency)

	if cfg.Monitoring.Prometheus.Enable && cfg.Monitoring.Prometheus.Port > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			_ = metrics.WritePrometheus(w)
		})
		a.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port),
			Handler: mux,
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.bootstrap.Logger.Error("指标端口异常退出", "error", err)
			}
		}()
	}
	return nil
}

// Shutdown 优雅关闭：停止扫描并等在途 Turn 处理完
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.flusher.Stop()
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.otelCleanup != nil {
		_ = a.otelCleanup(ctx)
	}
	a.bootstrap.Close()
	return nil
}
