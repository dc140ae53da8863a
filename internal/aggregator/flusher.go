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

package aggregator

import (
	"context"
	"sync"
	"time"

	"chat-platform/internal/aggstore"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
	"chat-platform/pkg/metrics"
)

const (
	defaultFlushInterval = time.Second
	defaultFlushBatch    = 64
)

// Flusher Worker 侧的到期扫描器：周期性认领截止时间已过的缓冲区。
// 进程内定时器丢失（进程重启）或 in_process_flush 关闭时，缓冲区由它兜底取出。
// 多个 Worker 可同时扫描，认领竞争由存储 CAS 裁决。
type Flusher struct {
	store  aggstore.Store
	flush  FlushFunc
	logger *log.Logger

	interval    time.Duration
	batch       int
	concurrency int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	limiter chan struct{}
}

// NewFlusher 创建到期扫描器
func NewFlusher(store aggstore.Store, cfg config.AggregatorConfig, concurrency int, flush FlushFunc, logger *log.Logger) *Flusher {
	batch := cfg.FlushBatch
	if batch <= 0 {
		batch = defaultFlushBatch
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Flusher{
		store:       store,
		flush:       flush,
		logger:      logger.With("component", "flusher"),
		interval:    config.Duration(cfg.FlushInterval, defaultFlushInterval),
		batch:       batch,
		concurrency: concurrency,
		stopCh:      make(chan struct{}),
		limiter:     make(chan struct{}, concurrency),
	}
}

// Start 启动扫描循环
func (f *Flusher) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.sweep(ctx)
			}
		}
	}()
}

// sweep 认领一批到期缓冲区并并发处理
func (f *Flusher) sweep(ctx context.Context) {
	snaps, err := f.store.ClaimDue(ctx, time.Now(), f.batch)
	if err != nil {
		f.logger.Error("due sweep failed", "error", err)
		return
	}
	// 在途 Turn 不随扫描循环一起取消：关停时让已认领的缓冲区走到
	// Delivered/Failed 终态（Stop 等待 wg），避免生成已计费却半途中断
	flushCtx := context.WithoutCancel(ctx)
	for _, snap := range snaps {
		metrics.FlushTotal.WithLabelValues("flushed").Inc()
		metrics.BufferedMessages.Observe(float64(len(snap.Messages)))
		f.logger.Info("due buffer flushed",
			"tenant_id", snap.Key.TenantID, "session_id", snap.Key.SessionID,
			"generation", snap.Generation, "messages", len(snap.Messages))

		select {
		case f.limiter <- struct{}{}:
		case <-ctx.Done():
			return
		}
		f.wg.Add(1)
		go func(s *aggstore.BufferSnapshot) {
			defer f.wg.Done()
			defer func() { <-f.limiter }()
			f.flush(flushCtx, s)
		}(snap)
	}
}

// Stop 停止扫描并等待在途处理完成
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}
