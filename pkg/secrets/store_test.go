package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		wantErr     bool
		errContains string
	}{
		{name: "default env", provider: "", wantErr: false},
		{name: "env", provider: "env", wantErr: false},
		{name: "memory", provider: "memory", wantErr: false},
		// k8s 在非集群环境下应报挂载路径不可用
		{name: "k8s outside cluster", provider: "k8s", wantErr: true, errContains: "not running in Kubernetes"},
		{name: "unknown provider", provider: "unknown", wantErr: true, errContains: "unsupported secret provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(Config{Provider: tc.provider})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("error = %q, want contains %q", err.Error(), tc.errContains)
				}
				if store != nil {
					t.Fatalf("store should be nil when error occurs")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store == nil {
				t.Fatalf("store should not be nil")
			}
		})
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{KeyAPIKey, "COCHAT_API_KEY"},
		{KeyOpenAIAPIKey, "COCHAT_OPENAI_API_KEY"},
		{"a-b.c/d", "A_B_C_D"},
	}
	for _, tc := range tests {
		if got := envName(tc.key); got != tc.want {
			t.Errorf("envName(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestMemoryAndEnvStoreBasicContract(t *testing.T) {
	ctx := context.Background()
	stores := []Store{NewMemoryStore(), NewEnvStore()}

	for _, s := range stores {
		if err := s.Set(ctx, "secret_test_key", "value"); err != nil {
			t.Fatalf("set secret failed: %v", err)
		}
		got, err := s.Get(ctx, "secret_test_key")
		if err != nil {
			t.Fatalf("get secret failed: %v", err)
		}
		if got != "value" {
			t.Fatalf("get secret = %q, want value", got)
		}
		if err := s.Delete(ctx, "secret_test_key"); err != nil {
			t.Fatalf("delete secret failed: %v", err)
		}
		_, err = s.Get(ctx, "secret_test_key")
		if err == nil {
			t.Fatalf("expected error after delete")
		}
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, KeyAPIKey, "from-store"); err != nil {
		t.Fatalf("set secret failed: %v", err)
	}

	// 配置值优先
	if got := Resolve(ctx, s, "from-config", KeyAPIKey); got != "from-config" {
		t.Errorf("Resolve 应优先返回配置值, got %q", got)
	}
	// 配置为空走 store
	if got := Resolve(ctx, s, "", KeyAPIKey); got != "from-store" {
		t.Errorf("Resolve 应回退到 store 值, got %q", got)
	}
	// 两边都没有返回空串
	if got := Resolve(ctx, s, "", "cochat/absent"); got != "" {
		t.Errorf("Resolve 缺失时应返回空串, got %q", got)
	}
	if got := Resolve(ctx, nil, "", KeyAPIKey); got != "" {
		t.Errorf("Resolve(nil store) 应返回空串, got %q", got)
	}
}
