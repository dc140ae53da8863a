// Copyright 2026 fanjia1024
// Kubernetes mounted-secret store (read-only)

package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// K8sConfig Kubernetes 挂载配置
type K8sConfig struct {
	// MountPath secret volume 挂载路径，默认 /etc/cochat/secrets；
	// 文件名为 secret 名中的分隔符替换为下划线，如 cochat_api_key
	MountPath string `mapstructure:"mount_path"`
}

type k8sStore struct {
	mountPath string
}

// NewK8sStore 创建基于挂载文件的 secret store。
// 挂载由集群负责，这里只读；路径不存在视为未跑在集群内。
func NewK8sStore(config K8sConfig) (Store, error) {
	mountPath := config.MountPath
	if mountPath == "" {
		mountPath = "/etc/cochat/secrets"
	}
	if _, err := os.Stat(mountPath); err != nil {
		return nil, fmt.Errorf("kubernetes secret 挂载路径不可用: %s (not running in Kubernetes?)", mountPath)
	}
	return &k8sStore{mountPath: mountPath}, nil
}

// fileName secret 名折算为挂载文件名
func fileName(key string) string {
	return strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key)
}

func (k *k8sStore) Get(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(k.mountPath, fileName(key)))
	if err != nil {
		return "", fmt.Errorf("secret 不存在: %s", key)
	}
	return strings.TrimSpace(string(data)), nil
}

func (k *k8sStore) Set(ctx context.Context, key string, value string) error {
	return fmt.Errorf("kubernetes secret 挂载为只读，不支持写入: %s", key)
}

func (k *k8sStore) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("kubernetes secret 挂载为只读，不支持删除: %s", key)
}

func (k *k8sStore) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(k.mountPath)
	if err != nil {
		return nil, fmt.Errorf("读取 secret 挂载目录失败: %w", err)
	}
	want := fileName(prefix)
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), want) {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}
