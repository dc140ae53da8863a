package registry

import (
	"context"
	"errors"
	"testing"

	pkgerrors "chat-platform/pkg/errors"
)

func TestCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	agent := &Agent{TenantID: "acme", Name: "support", WebhookURL: "https://acme.example.com/hook"}
	if err := store.Create(ctx, agent); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if agent.ID == "" {
		t.Fatalf("create 应生成 ID")
	}

	got, err := store.Get(ctx, "acme", agent.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "support" {
		t.Fatalf("get Name = %q, want support", got.Name)
	}

	got.Description = "updated"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = store.Get(ctx, "acme", agent.ID)
	if got.Description != "updated" {
		t.Fatalf("update 未生效")
	}

	if err := store.Delete(ctx, "acme", agent.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "acme", agent.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("删除后应返回 ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tests := []struct {
		name  string
		agent *Agent
	}{
		{"missing tenant", &Agent{Name: "a", WebhookURL: "https://x"}},
		{"missing name", &Agent{TenantID: "acme", WebhookURL: "https://x"}},
		{"missing webhook", &Agent{TenantID: "acme", Name: "a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.Create(ctx, tc.agent); err == nil {
				t.Fatalf("缺字段的 Agent 不应创建成功")
			}
		})
	}
}

// 租户隔离：同一 Agent ID 在别的租户下不可见，列表互不泄漏
func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := &Agent{TenantID: "tenant-a", Name: "bot-a", WebhookURL: "https://a.example.com/hook"}
	b := &Agent{TenantID: "tenant-b", Name: "bot-b", WebhookURL: "https://b.example.com/hook"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create a failed: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("create b failed: %v", err)
	}

	if _, err := store.Get(ctx, "tenant-b", a.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("跨租户 Get 应返回 ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "tenant-b", a.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("跨租户 Delete 应返回 ErrNotFound, got %v", err)
	}

	listA, _ := store.List(ctx, "tenant-a")
	if len(listA) != 1 || listA[0].ID != a.ID {
		t.Fatalf("租户 a 的列表泄漏: %+v", listA)
	}
}

func TestEnsureDefaultSeedsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := EnsureDefault(ctx, store, "acme", "https://acme.example.com/hook")
	if err != nil {
		t.Fatalf("ensure default failed: %v", err)
	}
	if !first.IsDefault {
		t.Fatalf("播种的 Agent 应标记为默认")
	}

	second, err := EnsureDefault(ctx, store, "acme", "https://other.example.com/hook")
	if err != nil {
		t.Fatalf("ensure default failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("重复播种产生了新 Agent: %s != %s", second.ID, first.ID)
	}

	list, _ := store.List(ctx, "acme")
	if len(list) != 1 {
		t.Fatalf("默认 Agent 数 = %d, want 1", len(list))
	}
}
