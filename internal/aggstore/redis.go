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

package aggstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-platform/internal/turn"
	"chat-platform/pkg/config"
)

// appendScript 原子追加：递增世代、入队消息、刷新到期索引分值
var appendScript = redis.NewScript(`
local gen = redis.call('INCR', KEYS[2])
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], KEYS[1])
local size = redis.call('LLEN', KEYS[1])
return {gen, size}
`)

// claimScript 世代比较交换认领：世代不匹配或缓冲区为空时返回 nil；
// 认领成功则取走全部消息、再递增世代、删除缓冲区并移出到期索引
var claimScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[1]) then
  return false
end
local msgs = redis.call('LRANGE', KEYS[1], 0, -1)
if #msgs == 0 then
  return false
end
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[3], KEYS[1])
return msgs
`)

// cancelScript 丢弃缓冲区并使未决定时器作废
var cancelScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[3], KEYS[1])
return 1
`)

// RedisStore 基于 Redis 的聚合存储；多 API/Worker 进程共享同一键空间，
// 认领的唯一获胜者语义由 Lua 脚本的原子性保证
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 聚合存储
func NewRedisStore(cfg config.StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Append 追加消息并刷新截止时间
func (s *RedisStore) Append(ctx context.Context, key turn.ConversationKey, msg turn.Message, deadline time.Time) (int64, int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal message: %w", err)
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{key.BufferKey(), key.GenerationKey(), dueIndexKey},
		string(data), deadline.UnixMilli(),
	).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected append reply", turn.ErrStoreUnavailable)
	}
	gen, _ := res[0].(int64)
	size, _ := res[1].(int64)
	return gen, int(size), nil
}

// Snapshot 只读查看缓冲区
func (s *RedisStore) Snapshot(ctx context.Context, key turn.ConversationKey) (*BufferSnapshot, error) {
	pipe := s.client.Pipeline()
	msgsCmd := pipe.LRange(ctx, key.BufferKey(), 0, -1)
	genCmd := pipe.Get(ctx, key.GenerationKey())
	scoreCmd := pipe.ZScore(ctx, dueIndexKey, key.BufferKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}

	raw := msgsCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}
	messages, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}
	gen, _ := genCmd.Int64()
	return &BufferSnapshot{
		Key:        key,
		Messages:   messages,
		Generation: gen,
		Deadline:   time.UnixMilli(int64(scoreCmd.Val())),
	}, nil
}

// Claim 世代比较交换认领
func (s *RedisStore) Claim(ctx context.Context, key turn.ConversationKey, generation int64) (*BufferSnapshot, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{key.BufferKey(), key.GenerationKey(), dueIndexKey},
		generation,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, turn.ErrStaleFlush
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}

	raw, ok := res.([]interface{})
	if !ok || len(raw) == 0 {
		return nil, turn.ErrStaleFlush
	}
	encoded := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected claim reply element: %T", item)
		}
		encoded = append(encoded, s)
	}
	messages, err := decodeMessages(encoded)
	if err != nil {
		return nil, err
	}
	return &BufferSnapshot{
		Key:        key,
		Messages:   messages,
		Generation: generation,
	}, nil
}

// ClaimDue 扫描到期索引并逐个认领；并发 Worker 对同一成员竞争时
// 输掉 CAS 的一方得到 ErrStaleFlush 并跳过
func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*BufferSnapshot, error) {
	if limit <= 0 {
		limit = 128
	}
	members, err := s.client.ZRangeByScore(ctx, dueIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}

	out := make([]*BufferSnapshot, 0, len(members))
	for _, member := range members {
		key, err := turn.ParseBufferKey(member)
		if err != nil {
			// 索引里的坏成员直接清掉，避免反复扫描
			s.client.ZRem(ctx, dueIndexKey, member)
			continue
		}
		gen, err := s.client.Get(ctx, key.GenerationKey()).Int64()
		if err != nil {
			continue
		}
		snap, err := s.Claim(ctx, key, gen)
		if errors.Is(err, turn.ErrStaleFlush) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Cancel 丢弃缓冲区
func (s *RedisStore) Cancel(ctx context.Context, key turn.ConversationKey) error {
	err := cancelScript.Run(ctx, s.client,
		[]string{key.BufferKey(), key.GenerationKey(), dueIndexKey},
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}
	return nil
}

// Ping 探活
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", turn.ErrStoreUnavailable, err)
	}
	return nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeMessages(raw []string) ([]turn.Message, error) {
	messages := make([]turn.Message, 0, len(raw))
	for _, item := range raw {
		var m turn.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode buffered message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}
