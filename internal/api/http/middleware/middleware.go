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

// Package middleware API 中间件：API Key 认证、租户注入、CORS 与限流
package middleware

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"chat-platform/pkg/auth"
	"chat-platform/pkg/config"
)

const (
	apiKeyHeader = "X-API-Key"
	tenantHeader = "X-Tenant-ID"
)

// Middleware 中间件管理器
type Middleware struct {
	cfg config.MiddlewareConfig
}

// NewMiddleware 创建中间件管理器
func NewMiddleware(cfg config.MiddlewareConfig) *Middleware {
	return &Middleware{cfg: cfg}
}

// Auth X-API-Key 认证；auth 关闭或未配置 key 时放行
func (m *Middleware) Auth() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if !m.cfg.Auth || m.cfg.APIKey == "" {
			ctx.Next(c)
			return
		}
		got := string(ctx.GetHeader(apiKeyHeader))
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.cfg.APIKey)) != 1 {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "无效的 API Key",
			})
			return
		}
		ctx.Next(c)
	}
}

// TenantContext 把 X-Tenant-ID 注入请求 context，handler 与下游统一经 auth 读取
func (m *Middleware) TenantContext() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		if tenantID := string(ctx.GetHeader(tenantHeader)); tenantID != "" {
			c = auth.WithTenantID(c, tenantID)
		}
		ctx.Next(c)
	}
}

// CORS CORS 中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-Tenant-ID")
		ctx.Header("Access-Control-Max-Age", "86400")

		if string(ctx.Method()) == "OPTIONS" {
			ctx.AbortWithStatus(consts.StatusNoContent)
			return
		}
		ctx.Next(c)
	}
}

// RateLimit 令牌桶限流
func (m *Middleware) RateLimit() app.HandlerFunc {
	if !m.cfg.RateLimit {
		return func(c context.Context, ctx *app.RequestContext) {
			ctx.Next(c)
		}
	}
	rps := m.cfg.RateLimitRPS
	if rps <= 0 {
		rps = 100
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(c context.Context, ctx *app.RequestContext) {
		if !limiter.Allow() {
			ctx.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "请求过于频繁，请稍后再试",
			})
			return
		}
		ctx.Next(c)
	}
}
