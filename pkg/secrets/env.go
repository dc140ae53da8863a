// Copyright 2026 fanjia1024
// Environment variable based secret store

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type envStore struct{}

// NewEnvStore 创建环境变量 secret store。
// secret 名按 envName 规则折算：cochat/api_key → COCHAT_API_KEY。
func NewEnvStore() Store {
	return &envStore{}
}

// envName 把 secret 名折算为环境变量名：分隔符统一为下划线并大写
func envName(key string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(r.Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	name := envName(key)
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("环境变量未设置: %s", name)
	}
	return value, nil
}

func (e *envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(envName(key), value)
}

func (e *envStore) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(envName(key))
}

func (e *envStore) List(ctx context.Context, prefix string) ([]string, error) {
	want := envName(prefix)
	var keys []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if ok && strings.HasPrefix(name, want) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}
