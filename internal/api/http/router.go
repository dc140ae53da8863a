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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"

	"chat-platform/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// Build 构建 Hertz Server 并注册路由；opts 供调用方追加 tracer 等选项
func (r *Router) Build(addr string, opts ...hertzconfig.Option) *server.Hertz {
	options := append([]hertzconfig.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(options...)

	api := h.Group("/api", r.middleware.CORS(), r.middleware.RateLimit())

	// 健康检查不走认证
	api.GET("/health", r.handler.HealthCheck)

	authed := api.Group("", r.middleware.Auth(), r.middleware.TenantContext())

	// 消息入口
	authed.POST("/messages", r.handler.IngestMessages)

	// Agent 管理
	agents := authed.Group("/agents")
	{
		agents.POST("", r.handler.CreateAgent)
		agents.GET("", r.handler.ListAgents)
		agents.GET("/:id", r.handler.GetAgent)
		agents.PUT("/:id", r.handler.UpdateAgent)
		agents.DELETE("/:id", r.handler.DeleteAgent)
	}

	// 记忆搜索
	authed.POST("/memory/search", r.handler.SearchMemory)

	// 系统管理
	system := authed.Group("/system")
	{
		system.GET("/status", r.handler.SystemStatus)
		system.GET("/metrics", r.handler.SystemMetrics)
	}

	return h
}
