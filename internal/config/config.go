package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"EasyCash-SDK/pkg/logger"
)

// EnvPrefix 是所有环境变量的公共前缀。
const EnvPrefix = "ECASH_"

// Config 描述了 ecash 服务在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server" envPrefix:"SERVER_"`
	SDK        SDK              `json:"sdk"`
	Chains     ChainsConfig     `json:"chains" envPrefix:"CHAINS_"`
	Settlement SettlementConfig `json:"settlement" envPrefix:"SETTLEMENT_"`
	Events     EventsConfig     `json:"events" envPrefix:"EVENTS_"`
	Tasks      TaskConfig       `json:"tasks" envPrefix:"TASKS_"`
	Logging    LoggingConfig    `json:"logging" envPrefix:"LOG_"`
	Telemetry  TelemetryConfig  `json:"telemetry" envPrefix:"TELEMETRY_"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" env:"ADDRESS"`
	ShutdownTimeout Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// SignaturePublicKey 非空时，所有写请求必须携带有效签名。
	SignaturePublicKey string `json:"signature_public_key" env:"SIGNATURE_PUBLIC_KEY"`
}

// ChainsConfig 指向链定义 YAML 文件。
type ChainsConfig struct {
	DefinitionsPath string `json:"definitions" env:"DEFINITIONS"`
}

// SettlementConfig 控制模拟结算。
type SettlementConfig struct {
	SimulatedLatency Duration `json:"simulated_latency" env:"SIMULATED_LATENCY"`
	QuoteLatency     Duration `json:"quote_latency" env:"QUOTE_LATENCY"`
}

// EventsConfig 选择结算事件的发布后端。
type EventsConfig struct {
	Driver   string         `json:"driver" env:"DRIVER"`
	Redis    RedisConfig    `json:"redis" envPrefix:"REDIS_"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" envPrefix:"RABBITMQ_"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Addr     string `json:"addr" env:"ADDR"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB"`
	List     string `json:"list" env:"LIST"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `json:"url" env:"URL"`
	Exchange   string `json:"exchange" env:"EXCHANGE"`
	RoutingKey string `json:"routing_key" env:"ROUTING_KEY"`
}

// TaskConfig 控制异步任务执行。
type TaskConfig struct {
	Workers   int      `json:"workers" env:"WORKERS"`
	QueueSize int      `json:"queue_size" env:"QUEUE_SIZE"`
	Backoff   Duration `json:"backoff" env:"BACKOFF"`
}

// LoggingConfig 映射到 logger.Config。
type LoggingConfig struct {
	Level   string      `json:"level" env:"LEVEL"`
	Format  string      `json:"format" env:"FORMAT"`
	Outputs []string    `json:"outputs" env:"OUTPUTS" envSeparator:","`
	Audit   AuditConfig `json:"audit" envPrefix:"AUDIT_"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" env:"ENABLED"`
	Path       string `json:"path" env:"PATH"`
	MaxSizeMB  int    `json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `json:"compress" env:"COMPRESS"`
}

// TelemetryConfig 控制指标与链路追踪。
type TelemetryConfig struct {
	MetricsAddress string        `json:"metrics_address" env:"METRICS_ADDRESS"`
	Tracing        TracingConfig `json:"tracing" envPrefix:"TRACING_"`
}

// TracingConfig 控制 OTLP 导出。
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED"`
	Endpoint    string `json:"endpoint" env:"ENDPOINT"`
	ServiceName string `json:"service_name" env:"SERVICE_NAME"`
}

// Logger 转换为 logger.Config。
func (l LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Format:      l.Format,
		OutputPaths: l.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    l.Audit.Enabled,
			Path:       l.Audit.Path,
			MaxSizeMB:  l.Audit.MaxSizeMB,
			MaxBackups: l.Audit.MaxBackups,
			MaxAgeDays: l.Audit.MaxAgeDays,
			Compress:   l.Audit.Compress,
		},
	}
}

// LoggerConfig 返回带有服务名与运行环境的日志配置。
func (c *Config) LoggerConfig() logger.Config {
	lc := c.Logging.Logger()
	lc.Service = c.Telemetry.Tracing.ServiceName
	lc.Environment = c.SDK.Environment
	return lc
}

// New 返回全部为默认值的配置。
func New() *Config {
	cfg := &Config{SDK: Default()}
	cfg.applyDefaults("")
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{SDK: Default()}
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))

	return cfg, nil
}

// LoadOrDefault 在 path 为空时使用默认配置，否则读取文件。两种情况都会叠加环境变量。
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := &Config{SDK: Default()}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults("")
	return cfg, nil
}

// ApplyEnv 使用 ECASH_ 前缀的环境变量覆盖已加载的值。未设置的变量保持原值。
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate 校验配置。
func (c *Config) Validate() error {
	if err := c.SDK.Validate(); err != nil {
		return fmt.Errorf("sdk: %w", err)
	}
	switch c.Events.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("events: unsupported driver %q", c.Events.Driver)
	}
	if c.Events.Driver == "redis" && c.Events.Redis.Addr == "" {
		return errors.New("events: redis addr is required")
	}
	if c.Events.Driver == "rabbitmq" && c.Events.RabbitMQ.URL == "" {
		return errors.New("events: rabbitmq url is required")
	}
	if c.Tasks.Workers <= 0 {
		return errors.New("tasks: workers must be greater than 0")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Chains.DefinitionsPath != "" && baseDir != "" && !filepath.IsAbs(c.Chains.DefinitionsPath) {
		c.Chains.DefinitionsPath = filepath.Join(baseDir, c.Chains.DefinitionsPath)
	}

	if c.Settlement.SimulatedLatency.Duration <= 0 {
		c.Settlement.SimulatedLatency.Duration = 100 * time.Millisecond
	}
	if c.Settlement.QuoteLatency.Duration <= 0 {
		c.Settlement.QuoteLatency.Duration = 50 * time.Millisecond
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.List == "" {
		c.Events.Redis.List = "ecash:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "ecash.events"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "transactions"
	}

	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 4
	}
	if c.Tasks.QueueSize <= 0 {
		c.Tasks.QueueSize = 128
	}
	if c.Tasks.Backoff.Duration <= 0 {
		c.Tasks.Backoff.Duration = c.SDK.RetryBackoff
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && baseDir != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Telemetry.Tracing.ServiceName == "" {
		c.Telemetry.Tracing.ServiceName = "ecash"
	}
}
