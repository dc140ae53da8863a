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

package turn

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable 聚合存储不可达；入站请求应整体失败而不是静默丢消息
	ErrStoreUnavailable = errors.New("aggregation store unavailable")

	// ErrStaleFlush flush 定时器触发时世代已前移，本次 flush 作废
	ErrStaleFlush = errors.New("stale flush: generation advanced")

	// ErrRetrieval 上下文检索失败（可重试）
	ErrRetrieval = errors.New("context retrieval failed")

	// ErrRetrievalTimeout 上下文检索超时
	ErrRetrievalTimeout = errors.New("context retrieval timed out")

	// ErrTransient 暂时性失败，边界内重试
	ErrTransient = errors.New("transient failure")

	// ErrPermanent 永久性失败，不重试
	ErrPermanent = errors.New("permanent failure")

	// ErrDeliveryAbandoned 投递重试预算耗尽
	ErrDeliveryAbandoned = errors.New("delivery abandoned")
)

// StageError 带阶段标注的编排错误；Transient 决定是否在该阶段边界重试
type StageError struct {
	Stage     string
	TurnID    string
	Err       error
	Transient bool
}

func (e *StageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("turn %s 在阶段 %s 失败(%s): %v", e.TurnID, e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError 构造阶段错误
func NewStageError(stage, turnID string, err error, transient bool) *StageError {
	return &StageError{Stage: stage, TurnID: turnID, Err: err, Transient: transient}
}

// IsTransient 判定错误是否可重试：显式的 StageError 标注优先，
// 其次按哨兵错误分类，未知错误保守地视为暂时性
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Transient
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}
