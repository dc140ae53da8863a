// Copyright 2026 fanjia1024
// HashiCorp Vault secret store (KV v2)

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address string `mapstructure:"address"` // Vault 地址，默认 http://localhost:8200
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"` // KV v2 挂载点，默认 secret
}

type vaultStore struct {
	kv    *vault.KVv2
	raw   *vault.Client
	mount string
}

// NewVaultStore 创建 Vault secret store；连接不可达时直接失败，
// 避免启动后第一次取密钥才暴露配置问题
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 vault 客户端失败: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("连接 vault 失败: %w", err)
	}

	mount := config.Mount
	if mount == "" {
		mount = "secret"
	}

	return &vaultStore{kv: client.KVv2(mount), raw: client, mount: mount}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	secret, err := v.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("读取 vault secret 失败: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret 不存在: %s", key)
	}
	if value, ok := secret.Data["value"].(string); ok {
		return value, nil
	}
	return "", fmt.Errorf("secret 缺少 value 字段: %s", key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	_, err := v.kv.Put(ctx, key, map[string]interface{}{"value": value})
	if err != nil {
		return fmt.Errorf("写入 vault secret 失败: %w", err)
	}
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	if err := v.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("删除 vault secret 失败: %w", err)
	}
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	path := fmt.Sprintf("%s/metadata/%s", v.mount, prefix)
	secret, err := v.raw.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("列出 vault secret 失败: %w", err)
	}
	if secret == nil {
		return nil, nil
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var keys []string
	for _, k := range raw {
		name, ok := k.(string)
		if !ok {
			continue
		}
		if prefix != "" {
			name = strings.TrimSuffix(prefix, "/") + "/" + name
		}
		keys = append(keys, name)
	}
	return keys, nil
}
