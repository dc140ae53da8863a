package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chat-platform/internal/aggstore"
	"chat-platform/internal/capability"
	"chat-platform/internal/generation"
	"chat-platform/internal/memory"
	"chat-platform/internal/registry"
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

// fakeMemory 前 failures 次检索失败
type fakeMemory struct {
	memory.Service
	mu       sync.Mutex
	failures int
	calls    int
	context  json.RawMessage
}

func (m *fakeMemory) Retrieve(ctx context.Context, key turn.ConversationKey, query string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, turn.ErrRetrieval
	}
	return m.context, nil
}

func (m *fakeMemory) Record(ctx context.Context, key turn.ConversationKey, role, text string) error {
	return nil
}

// fakeGen 可编程生成后端
type fakeGen struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req *generation.Request) (*generation.Result, error)
}

func (g *fakeGen) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	return g.fn(call, req)
}

func (g *fakeGen) Close() error { return nil }

// fakeDeliverer 记录投递；stages 记录投递那一刻的阶段（Run 成功后还会推进到 Delivered）
type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []*turn.Turn
	stages    []turn.Stage
	notified  []*turn.Turn
	err       error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, agent *registry.Agent, t *turn.Turn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, t)
	d.stages = append(d.stages, t.Stage)
	return nil
}

func (d *fakeDeliverer) NotifyFailure(ctx context.Context, agent *registry.Agent, t *turn.Turn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, t)
}

func fastConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		Retrieval:  config.StageRetryConfig{MaxRetries: 2, Backoff: "1ms", MaxBackoff: "2ms", Timeout: "1s"},
		Generation: config.StageRetryConfig{MaxRetries: 2, Backoff: "1ms", MaxBackoff: "2ms", Timeout: "1s"},
	}
}

func setup(t *testing.T, mem *fakeMemory, gen *fakeGen, del *fakeDeliverer) (*Orchestrator, *aggstore.BufferSnapshot) {
	t.Helper()
	reg := registry.NewMemoryStore()
	agent := &registry.Agent{
		ID: "a1", TenantID: "acme", Name: "bot",
		SystemPrompt: "seja prestativo",
		WebhookURL:   "https://acme.example.com/hook",
		Capabilities: []turn.Capability{{Name: "tracking", Description: "rastrear pedido"}},
	}
	if err := reg.Create(context.Background(), agent); err != nil {
		t.Fatalf("创建 agent 失败: %v", err)
	}

	o := New(reg, mem, capability.NewKeywordSelector(), gen, del, fastConfig(), newTestLogger(t))
	key := turn.ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "a1"}
	snap := &aggstore.BufferSnapshot{
		Key:        key,
		Messages:   []turn.Message{{ID: "m1", Text: "quero rastrear meu pedido"}},
		Generation: 1,
	}
	return o, snap
}

func TestRunHappyPath(t *testing.T) {
	mem := &fakeMemory{context: json.RawMessage(`[{"role":"user","text":"histórico"}]`)}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		return &generation.Result{Text: "seu pedido está a caminho", Usage: turn.UsageStats{TotalTokens: 30}}, nil
	}}
	del := &fakeDeliverer{}

	o, snap := setup(t, mem, gen, del)
	o.Run(context.Background(), snap)

	if len(del.delivered) != 1 {
		t.Fatalf("投递次数 = %d, want 1", len(del.delivered))
	}
	got := del.delivered[0]
	if del.stages[0] != turn.StageGenerated {
		t.Fatalf("投递时阶段 = %v, want generated", del.stages[0])
	}
	if got.Stage != turn.StageDelivered {
		t.Fatalf("终态 = %v, want delivered", got.Stage)
	}
	if got.Degraded {
		t.Fatalf("检索成功不应降级")
	}
	if got.ResponseText != "seu pedido está a caminho" {
		t.Fatalf("回复文本 = %q", got.ResponseText)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0].Name != "tracking" {
		t.Fatalf("能力选择结果 = %+v", got.Capabilities)
	}
}

// 检索重试耗尽：Turn 降级为空上下文继续，最终仍投递
func TestRetrievalExhaustionDegrades(t *testing.T) {
	mem := &fakeMemory{failures: 100}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		for _, m := range req.Messages {
			if m.Role == "system" && len(m.Content) > 0 {
				continue
			}
		}
		return &generation.Result{Text: "posso ajudar mesmo assim"}, nil
	}}
	del := &fakeDeliverer{}

	o, snap := setup(t, mem, gen, del)
	o.Run(context.Background(), snap)

	if mem.calls != 3 {
		t.Fatalf("检索尝试次数 = %d, want 3", mem.calls)
	}
	if len(del.delivered) != 1 {
		t.Fatalf("降级 Turn 仍应投递, got %d", len(del.delivered))
	}
	got := del.delivered[0]
	if !got.Degraded {
		t.Fatalf("重试耗尽应标记降级")
	}
	if got.Context != nil {
		t.Fatalf("降级 Turn 的上下文应为空")
	}
}

// 暂时性生成错误在阶段边界重试，不回退已完成的阶段
func TestTransientGenerationRetried(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		if call < 3 {
			return nil, fmt.Errorf("%w: 503", turn.ErrTransient)
		}
		return &generation.Result{Text: "ok"}, nil
	}}
	del := &fakeDeliverer{}

	o, snap := setup(t, mem, gen, del)
	o.Run(context.Background(), snap)

	if gen.calls != 3 {
		t.Fatalf("生成尝试次数 = %d, want 3", gen.calls)
	}
	if mem.calls != 1 {
		t.Fatalf("生成重试不应重做检索: 检索次数 = %d", mem.calls)
	}
	if len(del.delivered) != 1 {
		t.Fatalf("重试成功后应投递")
	}
}

// 永久性生成错误：不重试，Turn 终态 Failed，不投递正常结果
func TestPermanentGenerationFailsFast(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		return nil, fmt.Errorf("%w: 400 bad request", turn.ErrPermanent)
	}}
	del := &fakeDeliverer{}

	o, snap := setup(t, mem, gen, del)
	o.Run(context.Background(), snap)

	if gen.calls != 1 {
		t.Fatalf("永久性错误不应重试: 尝试次数 = %d", gen.calls)
	}
	if len(del.delivered) != 0 {
		t.Fatalf("失败 Turn 不应投递正常结果")
	}
	if len(del.notified) != 1 {
		t.Fatalf("失败 Turn 应触发错误通知")
	}
	failed := del.notified[0]
	if failed.Stage != turn.StageFailed || failed.FailedStage != "generated" {
		t.Fatalf("失败记录不正确: stage=%v failed_stage=%s", failed.Stage, failed.FailedStage)
	}
}

// 投递放弃后不再发错误通知（避免对同一故障端点再失败一次）
func TestAbandonedDeliveryNotRenotified(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		return &generation.Result{Text: "ok"}, nil
	}}
	del := &fakeDeliverer{err: fmt.Errorf("%w: webhook down", turn.ErrDeliveryAbandoned)}

	o, snap := setup(t, mem, gen, del)
	o.Run(context.Background(), snap)

	if len(del.notified) != 0 {
		t.Fatalf("投递放弃后不应再发错误通知")
	}
}

// Agent 不存在且无默认 Agent：Turn 直接 Failed
func TestUnknownAgentFails(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		t.Fatalf("不应调用生成")
		return nil, nil
	}}
	del := &fakeDeliverer{}

	reg := registry.NewMemoryStore()
	o := New(reg, mem, capability.NewKeywordSelector(), gen, del, fastConfig(), newTestLogger(t))
	snap := &aggstore.BufferSnapshot{
		Key:        turn.ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "ghost"},
		Messages:   []turn.Message{{ID: "m1", Text: "oi"}},
		Generation: 1,
	}
	o.Run(context.Background(), snap)

	if len(del.delivered) != 0 {
		t.Fatalf("未知 Agent 不应投递")
	}
}

// Agent 不存在但租户有默认 Agent：回落使用默认配置
func TestFallsBackToDefaultAgent(t *testing.T) {
	mem := &fakeMemory{}
	gen := &fakeGen{fn: func(call int, req *generation.Request) (*generation.Result, error) {
		return &generation.Result{Text: "ok"}, nil
	}}
	del := &fakeDeliverer{}

	reg := registry.NewMemoryStore()
	if _, err := registry.EnsureDefault(context.Background(), reg, "acme", "https://acme.example.com/hook"); err != nil {
		t.Fatalf("播种默认 agent 失败: %v", err)
	}
	o := New(reg, mem, capability.NewKeywordSelector(), gen, del, fastConfig(), newTestLogger(t))
	snap := &aggstore.BufferSnapshot{
		Key:        turn.ConversationKey{TenantID: "acme", SessionID: "s1", UserID: "u1", AgentID: "ghost"},
		Messages:   []turn.Message{{ID: "m1", Text: "oi"}},
		Generation: 1,
	}
	o.Run(context.Background(), snap)

	if len(del.delivered) != 1 {
		t.Fatalf("默认 Agent 应接住未知 agent_id 的 Turn")
	}
}

func TestRunStagePolicies(t *testing.T) {
	ctx := context.Background()
	p := stagePolicy{maxRetries: 2, backoff: 1, maxBackoff: 2, timeout: 0}

	calls := 0
	err := runStage(ctx, p, "generated", "t1", func(ctx context.Context) error {
		calls++
		return errors.New("transient by default")
	})
	if calls != 3 {
		t.Fatalf("尝试次数 = %d, want 3", calls)
	}
	var se *turn.StageError
	if !errors.As(err, &se) || se.Stage != "generated" {
		t.Fatalf("应返回带阶段的 StageError, got %v", err)
	}
}
