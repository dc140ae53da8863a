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

package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapPreservesChain(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil) 应返回 nil")
	}

	wrapped := Wrap(ErrNotFound, "agent a-1")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("包装后应仍可 Is 到哨兵")
	}
	if !strings.Contains(wrapped.Error(), "agent a-1") {
		t.Errorf("包装后应携带上下文, got %q", wrapped.Error())
	}
}

func TestWrapfPreservesChain(t *testing.T) {
	if Wrapf(nil, "id=%s", "a") != nil {
		t.Error("Wrapf(nil) 应返回 nil")
	}

	wrapped := Wrapf(ErrInvalidArg, "agent %s 已存在", "a-1")
	if !errors.Is(wrapped, ErrInvalidArg) {
		t.Error("包装后应仍可 Is 到哨兵")
	}
	if !strings.Contains(wrapped.Error(), "a-1") {
		t.Errorf("格式化上下文缺失, got %q", wrapped.Error())
	}

	// 二次包装仍保留最内层哨兵，HTTP 层靠这个映射状态码
	outer := Wrap(wrapped, "registry")
	if !errors.Is(outer, ErrInvalidArg) {
		t.Error("多层包装后应仍可 Is 到哨兵")
	}
}
