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

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-platform/internal/turn"
	pkgerrors "chat-platform/pkg/errors"
)

const agentsSchema = `
CREATE TABLE IF NOT EXISTS agents (
	id            TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	temperature   DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_tokens    INTEGER NOT NULL DEFAULT 0,
	webhook_url   TEXT NOT NULL,
	capabilities  JSONB NOT NULL DEFAULT '[]',
	is_default    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_agents_tenant_default ON agents (tenant_id) WHERE is_default;
`

// PgStore Postgres 实现：agents 表，供 API 与 Worker 共享
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 创建基于 PostgreSQL 的 Agent 存储并确保表结构存在
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, agentsSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgStore{pool: pool}, nil
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// Create 创建 Agent
func (s *PgStore) Create(ctx context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	if agent.ID == "" {
		agent.ID = "agent-" + uuid.New().String()
	}
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, name, description, system_prompt, model, temperature, max_tokens, webhook_url, capabilities, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		agent.ID, agent.TenantID, agent.Name, agent.Description, agent.SystemPrompt,
		agent.Model, agent.Temperature, agent.MaxTokens, agent.WebhookURL, caps,
		agent.IsDefault, agent.CreatedAt, agent.UpdatedAt,
	)
	return err
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var caps []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Description, &a.SystemPrompt,
		&a.Model, &a.Temperature, &a.MaxTokens, &a.WebhookURL, &caps, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrap(pkgerrors.ErrNotFound, "agent")
	}
	if err != nil {
		return nil, err
	}
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &a.Capabilities); err != nil {
			return nil, err
		}
	}
	if a.Capabilities == nil {
		a.Capabilities = []turn.Capability{}
	}
	return &a, nil
}

const agentColumns = `id, tenant_id, name, description, system_prompt, model, temperature, max_tokens, webhook_url, capabilities, is_default, created_at, updated_at`

// Get 取指定 Agent
func (s *PgStore) Get(ctx context.Context, tenantID, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanAgent(row)
}

// GetDefault 取租户默认 Agent
func (s *PgStore) GetDefault(ctx context.Context, tenantID string) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 AND is_default ORDER BY created_at LIMIT 1`, tenantID)
	return scanAgent(row)
}

// List 列出租户全部 Agent
func (s *PgStore) List(ctx context.Context, tenantID string) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update 更新 Agent
func (s *PgStore) Update(ctx context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return err
	}
	agent.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET name = $3, description = $4, system_prompt = $5, model = $6,
			temperature = $7, max_tokens = $8, webhook_url = $9, capabilities = $10,
			is_default = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2`,
		agent.TenantID, agent.ID, agent.Name, agent.Description, agent.SystemPrompt,
		agent.Model, agent.Temperature, agent.MaxTokens, agent.WebhookURL, caps,
		agent.IsDefault, agent.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "agent %s", agent.ID)
	}
	return nil
}

// Delete 删除 Agent
func (s *PgStore) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.Wrapf(pkgerrors.ErrNotFound, "agent %s", id)
	}
	return nil
}
