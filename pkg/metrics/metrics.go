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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		IngestTotal, IngestErrorTotal,
		FlushTotal, BufferedMessages,
		TurnStageDuration, TurnTotal, TurnDegradedTotal, StageRetryTotal,
		DeliveryAttemptTotal, DeliveryAbandonedTotal, DeliveryDuration,
	)
}

// IngestTotal 入站消息总数（按租户）
var IngestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_ingest_total",
		Help: "入站消息总数",
	},
	[]string{"tenant_id"},
)

// IngestErrorTotal ingest 失败总数（聚合存储不可用等）
var IngestErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_ingest_error_total",
		Help: "ingest 失败总数",
	},
	[]string{"reason"}, // store | invalid_key
)

// FlushTotal 缓冲区 flush 结果总数
var FlushTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_flush_total",
		Help: "缓冲区 flush 结果总数",
	},
	[]string{"result"}, // flushed | stale | error
)

// BufferedMessages 单次 flush 取出的消息条数分布
var BufferedMessages = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "cochat_buffered_messages",
		Help:    "单次 flush 取出的消息条数",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	},
)

// TurnStageDuration Turn 各阶段耗时（秒）
var TurnStageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cochat_turn_stage_duration_seconds",
		Help:    "Turn 各阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"}, // retrieval | selection | generation | delivery
)

// TurnTotal Turn 总数（按终态）
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_turn_total",
		Help: "Turn 总数（按终态）",
	},
	[]string{"status"}, // delivered | failed
)

// TurnDegradedTotal 上下文检索耗尽后以空上下文继续的 Turn 数
var TurnDegradedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cochat_turn_degraded_total",
		Help: "检索降级（空上下文继续）的 Turn 数",
	},
)

// StageRetryTotal 阶段级重试次数
var StageRetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_stage_retry_total",
		Help: "阶段级重试次数",
	},
	[]string{"stage"}, // retrieval | generation
)

// DeliveryAttemptTotal Webhook 投递尝试总数（按结果）
var DeliveryAttemptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_delivery_attempt_total",
		Help: "Webhook 投递尝试总数",
	},
	[]string{"result"}, // success | retryable_error
)

// DeliveryAbandonedTotal 重试预算耗尽被放弃的投递数
var DeliveryAbandonedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cochat_delivery_abandoned_total",
		Help: "重试预算耗尽被放弃的投递数",
	},
	[]string{"tenant_id"},
)

// DeliveryDuration 单次 Webhook 请求耗时（秒）
var DeliveryDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "cochat_delivery_duration_seconds",
		Help:    "单次 Webhook 请求耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
