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

// Package aggregator 实现 debounce 聚合：消息入缓冲区并重置静默期，
// 静默期满后整个缓冲区作为一个 Turn 被取出。正确性由 aggstore 的
// 世代 CAS 保证，进程内定时器只是触发到期检查的提示。
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-platform/internal/aggstore"
	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

const (
	defaultQuietPeriod    = 15 * time.Second
	defaultMaxQuietPeriod = 5 * time.Minute
	claimTimeout          = 10 * time.Second
)

// FlushFunc 缓冲区被认领后的回调（由应用层注入，如 Orchestrator.Run）
type FlushFunc func(ctx context.Context, snap *aggstore.BufferSnapshot)

// Aggregator debounce 聚合器；API 进程内每次 Append 排定一个携带世代的
// 定时器，触发时经存储 CAS 认领，世代已前移则静默放弃
type Aggregator struct {
	store  aggstore.Store
	flush  FlushFunc
	logger *log.Logger

	quietPeriod    time.Duration
	maxQuietPeriod time.Duration
	inProcessFlush bool

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New 创建聚合器
func New(store aggstore.Store, cfg config.AggregatorConfig, flush FlushFunc, logger *log.Logger) *Aggregator {
	inProcess := true
	if cfg.InProcessFlush != nil {
		inProcess = *cfg.InProcessFlush
	}
	return &Aggregator{
		store:          store,
		flush:          flush,
		logger:         logger.With("component", "aggregator"),
		quietPeriod:    config.Duration(cfg.QuietPeriod, defaultQuietPeriod),
		maxQuietPeriod: config.Duration(cfg.MaxQuietPeriod, defaultMaxQuietPeriod),
		inProcessFlush: inProcess,
		timers:         make(map[string]*time.Timer),
	}
}

// QuietPeriodFor 计算本条消息的静默期：正的 debounce_ms 覆盖默认值，
// 超过上限时截断；0 或负值使用默认
func (a *Aggregator) QuietPeriodFor(debounceMS int64) time.Duration {
	if debounceMS <= 0 {
		return a.quietPeriod
	}
	d := time.Duration(debounceMS) * time.Millisecond
	if d > a.maxQuietPeriod {
		return a.maxQuietPeriod
	}
	return d
}

// Ingest 消息入缓冲区并把 flush 截止时间重置为 now+静默期。
// 存储不可用时整体失败，调用方应向客户端返回错误而不是静默丢弃。
func (a *Aggregator) Ingest(ctx context.Context, key turn.ConversationKey, msg turn.Message, debounceMS int64) (int64, int, error) {
	if err := key.Validate(); err != nil {
		metrics.IngestErrorTotal.WithLabelValues("invalid_key").Inc()
		return 0, 0, err
	}

	quiet := a.QuietPeriodFor(debounceMS)
	deadline := time.Now().Add(quiet)

	gen, size, err := a.store.Append(ctx, key, msg, deadline)
	if err != nil {
		metrics.IngestErrorTotal.WithLabelValues("store").Inc()
		return 0, 0, err
	}
	metrics.IngestTotal.WithLabelValues(key.TenantID).Inc()

	if a.inProcessFlush {
		a.scheduleFlush(key, gen, quiet)
	}
	a.logger.Debug("message buffered",
		"tenant_id", key.TenantID, "session_id", key.SessionID,
		"generation", gen, "size", size, "quiet_period", quiet.String())
	return gen, size, nil
}

// scheduleFlush 为当前世代排定定时器；后续 Append 会替换它。
// 即使旧定时器没被替换成功也无妨：触发时世代已前移，CAS 会拒绝。
func (a *Aggregator) scheduleFlush(key turn.ConversationKey, gen int64, quiet time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	bk := key.BufferKey()
	if old, ok := a.timers[bk]; ok {
		old.Stop()
	}
	a.timers[bk] = time.AfterFunc(quiet, func() {
		a.mu.Lock()
		delete(a.timers, bk)
		a.mu.Unlock()
		a.tryFlush(key, gen)
	})
}

// tryFlush 定时器触发路径：CAS 认领当前世代，过期则放弃
func (a *Aggregator) tryFlush(key turn.ConversationKey, gen int64) {
	ctx, cancel := context.WithTimeout(context.Background(), claimTimeout)
	defer cancel()

	snap, err := a.store.Claim(ctx, key, gen)
	if errors.Is(err, turn.ErrStaleFlush) {
		metrics.FlushTotal.WithLabelValues("stale").Inc()
		a.logger.Debug("stale flush skipped", "tenant_id", key.TenantID, "generation", gen)
		return
	}
	if err != nil {
		metrics.FlushTotal.WithLabelValues("error").Inc()
		a.logger.Error("flush claim failed", "tenant_id", key.TenantID, "error", err)
		return
	}

	metrics.FlushTotal.WithLabelValues("flushed").Inc()
	metrics.BufferedMessages.Observe(float64(len(snap.Messages)))
	a.logger.Info("buffer flushed",
		"tenant_id", key.TenantID, "session_id", key.SessionID,
		"generation", snap.Generation, "messages", len(snap.Messages))
	a.flush(context.Background(), snap)
}

// Cancel 丢弃某个会话键的缓冲区（租户删除 Agent 等场景）
func (a *Aggregator) Cancel(ctx context.Context, key turn.ConversationKey) error {
	a.mu.Lock()
	if t, ok := a.timers[key.BufferKey()]; ok {
		t.Stop()
		delete(a.timers, key.BufferKey())
	}
	a.mu.Unlock()
	return a.store.Cancel(ctx, key)
}

// Stop 停止所有未决定时器；已缓冲的消息留在存储中等 Flusher 扫描
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for bk, t := range a.timers {
		t.Stop()
		delete(a.timers, bk)
	}
}
