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

// Package api API 服务装配：HTTP Router、Handler、Middleware 与进程内聚合器
package api

import (
	"context"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"chat-platform/internal/aggregator"
	apihttp "chat-platform/internal/api/http"
	"chat-platform/internal/api/http/middleware"
	"chat-platform/internal/app"
)

// otelProviderShutdown 优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用。控制面 + 消息入口：store.type=redis 的分布式部署里
// 可关掉 in_process_flush，把 flush 完全交给 Worker。
type App struct {
	bootstrap    *app.Bootstrap
	aggregator   *aggregator.Aggregator
	router       *apihttp.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config

	agg := aggregator.New(bootstrap.Store, cfg.Aggregator, bootstrap.Orchestrator.Run, bootstrap.Logger)

	handler := apihttp.NewHandler(agg, bootstrap.Registry, bootstrap.Memory, bootstrap.Store, bootstrap.Logger)
	mw := middleware.NewMiddleware(cfg.API.Middleware)
	router := apihttp.NewRouter(handler, mw)

	return &App{
		bootstrap:  bootstrap,
		aggregator: agg,
		router:     router,
	}, nil
}

// Run 启动 HTTP 服务（阻塞直到 Shutdown）
func (a *App) Run(addr string) error {
	a.setupHertzLogger()

	cfg := a.bootstrap.Config
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "cochat-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		}
	}
	if a.hertz == nil {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// setupHertzLogger 把 Hertz 框架日志接到 slog
func (a *App) setupHertzLogger() {
	cfg := a.bootstrap.Config
	var output = os.Stdout
	if cfg.Log.File != "" {
		if f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			output = f
		}
	}
	levelVar := &slog.LevelVar{}
	switch cfg.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))
}

// Shutdown 优雅关闭：先停定时器再关 HTTP；缓冲区里的消息留在存储中
func (a *App) Shutdown(ctx context.Context) error {
	a.aggregator.Stop()
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	var err error
	if a.hertz != nil {
		err = a.hertz.Shutdown(ctx)
	}
	a.bootstrap.Close()
	return err
}
