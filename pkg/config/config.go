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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Aggregator   AggregatorConfig   `mapstructure:"aggregator"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Store        StoreConfig        `mapstructure:"store"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Generation   GenerationConfig   `mapstructure:"generation"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
	Log          LogConfig          `mapstructure:"log"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth         bool   `mapstructure:"auth"`
	APIKey       string `mapstructure:"api_key"`        // 支持 ${ENV} 占位；也可经 secrets 注入
	RateLimit    bool   `mapstructure:"rate_limit"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

// AggregatorConfig 聚合器配置：静默期、到期扫描与进程内 flush 开关
type AggregatorConfig struct {
	// QuietPeriod 静默期，如 "15s"；消息到达后重置，静默期满后缓冲区整体 flush
	QuietPeriod string `mapstructure:"quiet_period"`
	// MaxQuietPeriod 单条消息 debounce_ms 覆盖的上限，防止租户传入过大值占住缓冲区
	MaxQuietPeriod string `mapstructure:"max_quiet_period"`
	// FlushInterval Flusher 扫描到期缓冲区的间隔，如 "1s"
	FlushInterval string `mapstructure:"flush_interval"`
	// FlushBatch 单次扫描最多取出的缓冲区数
	FlushBatch int `mapstructure:"flush_batch"`
	// InProcessFlush 为 false 时 API 进程不排定 flush 定时器，由独立 Worker 通过
	// 到期扫描取出（分布式模式，store.type=redis 时推荐）；未配置时默认 true
	InProcessFlush *bool `mapstructure:"in_process_flush"`
}

// OrchestratorConfig Turn 编排器各阶段的重试与超时
type OrchestratorConfig struct {
	Retrieval  StageRetryConfig `mapstructure:"retrieval"`
	Generation StageRetryConfig `mapstructure:"generation"`
	// Concurrency 同时推进的 Turn 数上限，<=0 使用默认 4
	Concurrency int `mapstructure:"concurrency"`
}

// StageRetryConfig 单阶段重试策略
type StageRetryConfig struct {
	MaxRetries int    `mapstructure:"max_retries"` // 不含首次
	Backoff    string `mapstructure:"backoff"`     // 首次退避，如 "500ms"，之后指数递增
	MaxBackoff string `mapstructure:"max_backoff"` // 退避上限，如 "30s"
	Timeout    string `mapstructure:"timeout"`     // 单次调用超时
}

// DeliveryConfig Webhook 投递配置
type DeliveryConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"` // 含首次；<=0 使用默认 5
	Backoff        string `mapstructure:"backoff"`      // 首次退避，如 "2s"
	MaxBackoff     string `mapstructure:"max_backoff"`  // 退避上限，如 "1m"
	Timeout        string `mapstructure:"timeout"`      // 单次请求超时
	NotifyFailures bool   `mapstructure:"notify_failures"` // true 时 Failed Turn 也向租户回调发送错误通知
}

// StoreConfig 聚合存储配置（redis 为共享多实例的唯一后端；memory 仅单进程/测试）
type StoreConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// RegistryConfig 租户/Agent 注册表存储配置
type RegistryConfig struct {
	Type     string `mapstructure:"type"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
	// SeedTenant/SeedWebhookURL 都非空时，启动为该租户播种默认 Agent
	SeedTenant     string `mapstructure:"seed_tenant"`
	SeedWebhookURL string `mapstructure:"seed_webhook_url"`
}

// MemoryConfig 上下文检索协作方配置（http 为外部记忆服务；memory 为进程内会话历史）
type MemoryConfig struct {
	Type    string `mapstructure:"type"` // memory | http | none
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
	APIKey  string `mapstructure:"api_key"`
}

// GenerationConfig 生成后端配置（OpenAI 兼容）
type GenerationConfig struct {
	Provider    string  `mapstructure:"provider"` // openai | echo
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     string  `mapstructure:"timeout"`
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// SecretsConfig Secret 后端配置；${ENV} 占位解析不到时再经该后端补齐密钥
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault | k8s
	Options  map[string]string `mapstructure:"options"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中的 ${ENV} 形式的密钥占位
func replaceEnvVars(config *Config) {
	config.Generation.APIKey = envValue(config.Generation.APIKey)
	config.Memory.APIKey = envValue(config.Memory.APIKey)
	config.API.Middleware.APIKey = envValue(config.API.Middleware.APIKey)
}

// envValue 将 "${VAR}" 解析为环境变量值；解析不到返回空串（留给 secrets 后端补齐），
// 非占位原样返回
func envValue(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		return os.Getenv(envVar)
	}
	return v
}

// LoadAPIConfig 加载 API 配置（仅 configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（仅 configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}

// Duration 解析配置中的时长字段，空或非法时返回 defaultVal
func Duration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
