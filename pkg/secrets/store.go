// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"fmt"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值（只读后端返回错误）
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret（只读后端返回错误）
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// 服务使用的固定 secret 名。env 后端折算为 COCHAT_* 环境变量，
// vault/k8s 后端按路径读取。
const (
	KeyAPIKey       = "cochat/api_key"        // API 入口鉴权密钥
	KeyOpenAIAPIKey = "cochat/openai_api_key" // 生成后端密钥
	KeyMemoryAPIKey = "cochat/memory_api_key" // 外部记忆服务密钥
)

// Config Secret Store 配置
type Config struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault | k8s
	Options  map[string]string `mapstructure:"options"`  // 后端相关参数
}

// NewStore 创建 Secret Store；默认 env（配置留空时直接走环境变量）
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address: config.Options["address"],
			Token:   config.Options["token"],
			Mount:   config.Options["mount"],
		})
	case "k8s":
		return NewK8sStore(K8sConfig{
			MountPath: config.Options["mount_path"],
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// Resolve 配置值优先，为空时再查 secret store；两边都没有返回空串，
// 由调用方决定是否降级（各客户端自带环境变量回退）。
func Resolve(ctx context.Context, s Store, configured, key string) string {
	if configured != "" {
		return configured
	}
	if s == nil {
		return ""
	}
	value, err := s.Get(ctx, key)
	if err != nil {
		return ""
	}
	return value
}
