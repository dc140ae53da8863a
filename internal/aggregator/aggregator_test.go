package aggregator

import (
	"context"
	"testing"
	"time"

	"chat-platform/internal/aggstore"
	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
	"chat-platform/pkg/log"
)

func newTestLogger(t *testing.T) *log.Logger {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error"})
	if err != nil {
		t.Fatalf("创建 logger 失败: %v", err)
	}
	return logger
}

func collectFlushes() (FlushFunc, chan *aggstore.BufferSnapshot) {
	ch := make(chan *aggstore.BufferSnapshot, 16)
	return func(ctx context.Context, snap *aggstore.BufferSnapshot) {
		ch <- snap
	}, ch
}

func testKey() turn.ConversationKey {
	return turn.ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
}

// 静默期内连发多条：只产生一次 flush，包含全部消息且保序
func TestBurstCoalescesIntoSingleFlush(t *testing.T) {
	ctx := context.Background()
	store := aggstore.NewMemoryStore()
	flush, flushed := collectFlushes()
	agg := New(store, config.AggregatorConfig{QuietPeriod: "60ms"}, flush, newTestLogger(t))
	defer agg.Stop()

	key := testKey()
	for i, text := range []string{"oi", "tudo bem", "preciso de ajuda"} {
		if _, _, err := agg.Ingest(ctx, key, turn.Message{ID: string(rune('a' + i)), Text: text}, 0); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case snap := <-flushed:
		if len(snap.Messages) != 3 {
			t.Fatalf("flush 消息数 = %d, want 3", len(snap.Messages))
		}
		got := turn.Texts(snap.Messages)
		want := []string{"oi", "tudo bem", "preciso de ajuda"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("flush 顺序错误: got %v, want %v", got, want)
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("静默期满后未发生 flush")
	}

	select {
	case <-flushed:
		t.Fatalf("同一批消息不应触发第二次 flush")
	case <-time.After(150 * time.Millisecond):
	}
}

// 静默期满后再来消息：开启新的缓冲区、新的 flush 周期与新的 turn_id
func TestMessageAfterQuietPeriodStartsNewTurn(t *testing.T) {
	ctx := context.Background()
	store := aggstore.NewMemoryStore()
	flush, flushed := collectFlushes()
	agg := New(store, config.AggregatorConfig{QuietPeriod: "40ms"}, flush, newTestLogger(t))
	defer agg.Stop()

	key := testKey()
	agg.Ingest(ctx, key, turn.Message{ID: "m1", Text: "first"}, 0)

	var first *aggstore.BufferSnapshot
	select {
	case first = <-flushed:
	case <-time.After(time.Second):
		t.Fatalf("第一次 flush 未发生")
	}

	agg.Ingest(ctx, key, turn.Message{ID: "m2", Text: "second"}, 0)
	var second *aggstore.BufferSnapshot
	select {
	case second = <-flushed:
	case <-time.After(time.Second):
		t.Fatalf("第二次 flush 未发生")
	}

	if len(first.Messages) != 1 || len(second.Messages) != 1 {
		t.Fatalf("两次 flush 应各含一条消息: %d, %d", len(first.Messages), len(second.Messages))
	}
	if key.TurnID(first.Generation) == key.TurnID(second.Generation) {
		t.Fatalf("两个 flush 周期的 turn_id 必须不同")
	}
}

// 新消息到达使旧定时器的世代过期：旧定时器触发时必须放弃，不得把
// 不完整的缓冲区 flush 出去
func TestStaleTimerDoesNotFlushPartialBuffer(t *testing.T) {
	ctx := context.Background()
	store := aggstore.NewMemoryStore()
	flush, flushed := collectFlushes()
	agg := New(store, config.AggregatorConfig{QuietPeriod: "50ms"}, flush, newTestLogger(t))
	defer agg.Stop()

	key := testKey()
	gen1, _, _ := agg.Ingest(ctx, key, turn.Message{ID: "m1", Text: "a"}, 0)
	// 模拟丢失 Stop 的旧定时器：直接用旧世代触发认领
	time.Sleep(10 * time.Millisecond)
	agg.Ingest(ctx, key, turn.Message{ID: "m2", Text: "b"}, 0)
	agg.tryFlush(key, gen1)

	select {
	case snap := <-flushed:
		t.Fatalf("旧世代不应 flush 出快照: %+v", snap)
	case <-time.After(20 * time.Millisecond):
	}

	// 正常到期后两条消息一起 flush
	select {
	case snap := <-flushed:
		if len(snap.Messages) != 2 {
			t.Fatalf("最终 flush 消息数 = %d, want 2", len(snap.Messages))
		}
	case <-time.After(time.Second):
		t.Fatalf("最终 flush 未发生")
	}
}

// debounce_ms 覆盖静默期并受上限约束
func TestQuietPeriodOverrideClamped(t *testing.T) {
	store := aggstore.NewMemoryStore()
	flush, _ := collectFlushes()
	agg := New(store, config.AggregatorConfig{QuietPeriod: "15s", MaxQuietPeriod: "30s"}, flush, newTestLogger(t))
	defer agg.Stop()

	if got := agg.QuietPeriodFor(0); got != 15*time.Second {
		t.Fatalf("默认静默期 = %v, want 15s", got)
	}
	if got := agg.QuietPeriodFor(2000); got != 2*time.Second {
		t.Fatalf("覆盖静默期 = %v, want 2s", got)
	}
	if got := agg.QuietPeriodFor(3600_000); got != 30*time.Second {
		t.Fatalf("超上限静默期 = %v, want 30s", got)
	}
}

func TestIngestRejectsInvalidKey(t *testing.T) {
	store := aggstore.NewMemoryStore()
	flush, _ := collectFlushes()
	agg := New(store, config.AggregatorConfig{}, flush, newTestLogger(t))
	defer agg.Stop()

	bad := turn.ConversationKey{TenantID: "acme", SessionID: "s:1", UserID: "u1", AgentID: "a1"}
	if _, _, err := agg.Ingest(context.Background(), bad, turn.Message{ID: "m", Text: "x"}, 0); err == nil {
		t.Fatalf("非法会话键应拒绝入列")
	}
}

// Flusher 兜底：in_process_flush 关闭时由到期扫描取出
func TestFlusherSweepsDueBuffers(t *testing.T) {
	ctx := context.Background()
	store := aggstore.NewMemoryStore()
	off := false
	flush, flushed := collectFlushes()
	agg := New(store, config.AggregatorConfig{QuietPeriod: "20ms", InProcessFlush: &off}, flush, newTestLogger(t))
	defer agg.Stop()

	key := testKey()
	agg.Ingest(ctx, key, turn.Message{ID: "m1", Text: "hello"}, 0)

	flusher := NewFlusher(store, config.AggregatorConfig{FlushInterval: "10ms"}, 2, flush, newTestLogger(t))
	flusher.Start(ctx)
	defer flusher.Stop()

	select {
	case snap := <-flushed:
		if len(snap.Messages) != 1 || snap.Messages[0].Text != "hello" {
			t.Fatalf("扫描取出的快照不正确: %+v", snap.Messages)
		}
	case <-time.After(time.Second):
		t.Fatalf("Flusher 未取出到期缓冲区")
	}
}

// 关停顺序是先取消扫描 context 再等待在途处理：已认领的缓冲区必须
// 继续走到终态，不得被取消打断
func TestStopDrainsInFlightFlush(t *testing.T) {
	store := aggstore.NewMemoryStore()
	off := false
	noop := func(context.Context, *aggstore.BufferSnapshot) {}
	agg := New(store, config.AggregatorConfig{QuietPeriod: "10ms", InProcessFlush: &off}, noop, newTestLogger(t))
	defer agg.Stop()
	agg.Ingest(context.Background(), testKey(), turn.Message{ID: "m1", Text: "oi"}, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	var flushCtxErr error
	flush := func(ctx context.Context, snap *aggstore.BufferSnapshot) {
		close(started)
		<-release
		flushCtxErr = ctx.Err()
	}
	flusher := NewFlusher(store, config.AggregatorConfig{FlushInterval: "10ms"}, 2, flush, newTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	flusher.Start(ctx)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("Flusher 未取出到期缓冲区")
	}
	cancel()
	close(release)
	flusher.Stop()

	if flushCtxErr != nil {
		t.Fatalf("在途 flush 不应随扫描 context 一起取消: %v", flushCtxErr)
	}
}
