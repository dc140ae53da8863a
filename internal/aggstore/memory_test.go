package aggstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat-platform/internal/turn"
)

func testKey(tenant string) turn.ConversationKey {
	return turn.ConversationKey{TenantID: tenant, SessionID: "s1", UserID: "u1", AgentID: "a1"}
}

func TestAppendAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := testKey("acme")

	gen1, size1, err := store.Append(ctx, key, turn.Message{ID: "m1", Text: "hello"}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	gen2, size2, err := store.Append(ctx, key, turn.Message{ID: "m2", Text: "world"}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if gen2 != gen1+1 {
		t.Fatalf("世代必须单调递增: gen1=%d gen2=%d", gen1, gen2)
	}
	if size1 != 1 || size2 != 2 {
		t.Fatalf("缓冲区长度 = %d, %d, want 1, 2", size1, size2)
	}
}

func TestClaimStaleGeneration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := testKey("acme")

	gen1, _, _ := store.Append(ctx, key, turn.Message{ID: "m1", Text: "hello"}, time.Now().Add(time.Second))
	gen2, _, _ := store.Append(ctx, key, turn.Message{ID: "m2", Text: "again"}, time.Now().Add(time.Second))

	// 旧世代的定时器触发：认领必须失败且缓冲区保持完整
	if _, err := store.Claim(ctx, key, gen1); !errors.Is(err, turn.ErrStaleFlush) {
		t.Fatalf("旧世代认领应返回 ErrStaleFlush, got %v", err)
	}
	snap, err := store.Snapshot(ctx, key)
	if err != nil || snap == nil {
		t.Fatalf("缓冲区不应被旧认领清空: snap=%v err=%v", snap, err)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("缓冲区消息数 = %d, want 2", len(snap.Messages))
	}

	// 当前世代认领成功并保序
	snap, err = store.Claim(ctx, key, gen2)
	if err != nil {
		t.Fatalf("当前世代认领失败: %v", err)
	}
	if snap.Messages[0].ID != "m1" || snap.Messages[1].ID != "m2" {
		t.Fatalf("认领快照必须保持到达顺序: %+v", snap.Messages)
	}

	// 再次认领同一世代必须失败
	if _, err := store.Claim(ctx, key, gen2); !errors.Is(err, turn.ErrStaleFlush) {
		t.Fatalf("重复认领应返回 ErrStaleFlush, got %v", err)
	}
}

func TestGenerationSurvivesClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := testKey("acme")

	gen1, _, _ := store.Append(ctx, key, turn.Message{ID: "m1", Text: "a"}, time.Now())
	if _, err := store.Claim(ctx, key, gen1); err != nil {
		t.Fatalf("认领失败: %v", err)
	}

	gen2, _, _ := store.Append(ctx, key, turn.Message{ID: "m2", Text: "b"}, time.Now())
	if gen2 <= gen1 {
		t.Fatalf("世代计数器必须跨缓冲区生命周期单调: gen1=%d gen2=%d", gen1, gen2)
	}
	if key.TurnID(gen1) == key.TurnID(gen2) {
		t.Fatalf("不同 flush 周期不能派生相同 turn_id")
	}
}

func TestClaimDueRespectsDeadline(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	due := testKey("acme")
	notDue := turn.ConversationKey{TenantID: "acme", SessionID: "s2", UserID: "u1", AgentID: "a1"}
	store.Append(ctx, due, turn.Message{ID: "m1", Text: "a"}, now.Add(-time.Second))
	store.Append(ctx, notDue, turn.Message{ID: "m2", Text: "b"}, now.Add(time.Minute))

	snaps, err := store.ClaimDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("到期认领数 = %d, want 1", len(snaps))
	}
	if snaps[0].Key != due {
		t.Fatalf("认领了未到期的缓冲区: %+v", snaps[0].Key)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := testKey("acme")
	gen, _, _ := store.Append(ctx, key, turn.Message{ID: "m1", Text: "a"}, time.Now())

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, key, gen); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("同一世代的并发认领获胜者数 = %d, want 1", winners)
	}
}

func TestCancelInvalidatesTimers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := testKey("acme")

	gen, _, _ := store.Append(ctx, key, turn.Message{ID: "m1", Text: "a"}, time.Now().Add(time.Second))
	if err := store.Cancel(ctx, key); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := store.Claim(ctx, key, gen); !errors.Is(err, turn.ErrStaleFlush) {
		t.Fatalf("取消后认领应返回 ErrStaleFlush, got %v", err)
	}
	snap, _ := store.Snapshot(ctx, key)
	if snap != nil {
		t.Fatalf("取消后缓冲区应为空")
	}
}

func TestTenantBuffersIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := testKey("tenant-a")
	b := testKey("tenant-b")
	store.Append(ctx, a, turn.Message{ID: "m1", Text: "from a"}, time.Now().Add(time.Second))
	genB, _, _ := store.Append(ctx, b, turn.Message{ID: "m2", Text: "from b"}, time.Now().Add(time.Second))

	snap, err := store.Claim(ctx, b, genB)
	if err != nil {
		t.Fatalf("认领失败: %v", err)
	}
	for _, m := range snap.Messages {
		if m.Text != "from b" {
			t.Fatalf("租户 b 的认领混入了其他租户的消息: %+v", m)
		}
	}
	snapA, _ := store.Snapshot(ctx, a)
	if snapA == nil || len(snapA.Messages) != 1 {
		t.Fatalf("租户 a 的缓冲区不应受影响")
	}
}

func TestClaimDueLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		key := turn.ConversationKey{TenantID: "acme", SessionID: fmt.Sprintf("s%d", i), UserID: "u1", AgentID: "a1"}
		store.Append(ctx, key, turn.Message{ID: "m", Text: "x"}, now.Add(-time.Second))
	}

	snaps, err := store.ClaimDue(ctx, now, 3)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("限额认领数 = %d, want 3", len(snaps))
	}
}
