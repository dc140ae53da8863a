package turn

import (
	"strings"
	"testing"
)

func TestConversationKeyValidate(t *testing.T) {
	valid := ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("合法键校验失败: %v", err)
	}

	tests := []struct {
		name string
		key  ConversationKey
	}{
		{"empty tenant", ConversationKey{SessionID: "s1", UserID: "u1", AgentID: "a1"}},
		{"empty session", ConversationKey{TenantID: "acme", UserID: "u1", AgentID: "a1"}},
		{"colon in user", ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u:1", AgentID: "a1"}},
		{"at in tenant", ConversationKey{TenantID: "ac@me", SessionID: "s1", UserID: "u1", AgentID: "a1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.key.Validate(); err == nil {
				t.Fatalf("期望校验失败，实际通过")
			}
		})
	}
}

func TestKeyTenantOutermost(t *testing.T) {
	k := ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
	for _, got := range []string{k.BufferKey(), k.GenerationKey()} {
		if !strings.HasPrefix(got, "cochat:acme:") {
			t.Fatalf("存储键必须以 cochat:{tenant}: 开头, got %q", got)
		}
	}
	if !strings.HasPrefix(k.TurnID(3), "turn-acme-") {
		t.Fatalf("turn_id 必须以 turn-{tenant}- 开头, got %q", k.TurnID(3))
	}
}

func TestTurnIDDeterministic(t *testing.T) {
	k := ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
	if k.TurnID(7) != k.TurnID(7) {
		t.Fatalf("同键同世代的 turn_id 必须一致")
	}
	if k.TurnID(7) == k.TurnID(8) {
		t.Fatalf("不同世代的 turn_id 必须不同")
	}
}

func TestParseBufferKeyRoundTrip(t *testing.T) {
	k := ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
	parsed, err := ParseBufferKey(k.BufferKey())
	if err != nil {
		t.Fatalf("反解缓冲区键失败: %v", err)
	}
	if parsed != k {
		t.Fatalf("反解结果 = %+v, want %+v", parsed, k)
	}

	for _, bad := range []string{"", "cochat:acme:gen:a:u:s", "other:acme:buf:a:u:s", "cochat:acme:buf:a:u"} {
		if _, err := ParseBufferKey(bad); err == nil {
			t.Fatalf("非法键 %q 应当报错", bad)
		}
	}
}
