// =============================================================================
// 📦 AgentNode 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTNODE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentNode 的完整配置结构
type Config struct {
	// Node 本节点配置
	Node NodeConfig `yaml:"node" env:"NODE"`

	// Coordinator 协调器连接配置
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`

	// Connection 连接状态机配置
	Connection ConnectionConfig `yaml:"connection" env:"CONNECTION"`

	// Async 异步执行管理器配置
	Async AsyncConfig `yaml:"async" env:"ASYNC"`

	// Cache 结果缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Journal 执行流水账配置
	Journal JournalConfig `yaml:"journal" env:"JOURNAL"`

	// Server HTTP 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// NodeConfig 节点自身标识与监听配置
type NodeConfig struct {
	// 节点 ID，留空时启动期生成
	ID string `yaml:"id" env:"ID"`
	// 节点名称，注册到协调器时使用
	Name string `yaml:"name" env:"NAME" validate:"required"`
	// HTTP 监听地址
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" validate:"required"`
	// 对外公告的回调地址，协调器借此回连本节点
	AdvertiseURL string `yaml:"advertise_url" env:"ADVERTISE_URL" validate:"omitempty,url"`
}

// CoordinatorConfig 协调器客户端配置
type CoordinatorConfig struct {
	// 协调器基础 URL
	URL string `yaml:"url" env:"URL" validate:"required,url"`
	// Bearer 令牌，留空时不携带认证头
	Token string `yaml:"token" env:"TOKEN"`
	// 单次 HTTP 请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 是否跳过 TLS 证书校验（仅用于自签名测试环境）
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	// 是否启用 WebSocket 状态推送流（轮询仍是兜底与事实来源）
	StreamEnabled bool `yaml:"stream_enabled" env:"STREAM_ENABLED"`
}

// ConnectionConfig 连接状态机参数
type ConnectionConfig struct {
	// 重连循环的重试间隔
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	// 心跳循环间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 单次连接尝试（注册/心跳）超时
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
}

// AsyncConfig 异步执行管理器参数
type AsyncConfig struct {
	// 批量轮询周期
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 并发轮询上限（信号量权重）
	MaxConcurrentPolls int `yaml:"max_concurrent_polls" env:"MAX_CONCURRENT_POLLS" validate:"min=1"`
	// 单次批量轮询的执行 ID 数量上限
	BatchPollSize int `yaml:"batch_poll_size" env:"BATCH_POLL_SIZE" validate:"min=1"`
	// 清理循环周期
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// 终态记录保留期，超期由清理循环移除
	MaxExecutionAge time.Duration `yaml:"max_execution_age" env:"MAX_EXECUTION_AGE"`
	// 执行表容量上限，超出时最旧优先淘汰
	MaxTracked int `yaml:"max_tracked" env:"MAX_TRACKED" validate:"min=1"`
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	// 后端类型: memory, redis
	Backend string `yaml:"backend" env:"BACKEND" validate:"oneof=memory redis"`
	// 最大条目数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES" validate:"min=1"`
	// 条目存活时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// JournalConfig 执行流水账配置
type JournalConfig struct {
	// 是否启用持久化
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 数据库方言: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER" validate:"oneof=sqlite postgres mysql"`
	// 数据源连接串
	DSN string `yaml:"dsn" env:"DSN"`
	// 终态记录保留期
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"min=1"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"min=1"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 空闲连接最大存活时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求头上限（字节）
	MaxHeaderBytes int `yaml:"max_header_bytes" env:"MAX_HEADER_BYTES"`
	// 限流速率（请求/秒），0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 签名密钥，留空时禁用 Bearer 认证
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 配置管理 API 密钥，留空时配置 API 不要求认证
	AdminAPIKey string `yaml:"admin_api_key" env:"ADMIN_API_KEY"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"min=0,max=1"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTNODE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// structValidator 校验 validate 标签（required/oneof/min/max 等）
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate 验证配置
// 先运行结构体标签校验，再做跨字段一致性检查
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var errs []string

	if c.Connection.RetryInterval <= 0 {
		errs = append(errs, "connection.retry_interval must be positive")
	}
	if c.Connection.HealthCheckInterval <= 0 {
		errs = append(errs, "connection.health_check_interval must be positive")
	}
	if c.Connection.ConnectionTimeout <= 0 {
		errs = append(errs, "connection.connection_timeout must be positive")
	}
	if c.Async.PollInterval <= 0 {
		errs = append(errs, "async.poll_interval must be positive")
	}
	if c.Async.CleanupInterval <= 0 {
		errs = append(errs, "async.cleanup_interval must be positive")
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		errs = append(errs, "cache.redis.addr is required for the redis backend")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		errs = append(errs, "journal.dsn is required when the journal is enabled")
	}
	if c.Journal.MaxIdleConns > c.Journal.MaxOpenConns {
		errs = append(errs, "journal.max_idle_conns cannot exceed journal.max_open_conns")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
