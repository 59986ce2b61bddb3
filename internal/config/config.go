package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "TRADEPILOT_CONFIG"

// DefaultConfigPath 是未设置环境变量时使用的配置文件。
const DefaultConfigPath = "configs/tradepilot.json"

// Config 描述了 TradePilot 在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig     `json:"server"`
	Logger      LoggerConfig     `json:"logger"`
	Web3        Web3Config       `json:"web3"`
	Trade       TradeConfig      `json:"trade"`
	Aggregators AggregatorConfig `json:"aggregators"`
	Exchange    ExchangeConfig   `json:"exchange"`
	Bridge      BridgeConfig     `json:"bridge"`
	Feed        FeedConfig       `json:"feed"`
	Jobs        JobsConfig       `json:"jobs"`
	Keyring     KeyringConfig    `json:"keyring"`
	Alerting    AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address" default:":8080" validate:"required"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds" default:"15" validate:"gte=1"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" default:"10" validate:"gte=1"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string     `json:"metrics_address"`
	Auth           AuthConfig `json:"auth"`
}

// AuthConfig 控制 API 令牌认证。令牌本身从 TokenEnv 指定的环境变量读取。
type AuthConfig struct {
	Mode   string        `json:"mode" default:"disabled" validate:"oneof=disabled token"`
	Tokens []TokenConfig `json:"tokens" validate:"dive"`
}

// TokenConfig 描述一个 API 令牌及其权限。
type TokenConfig struct {
	Name        string   `json:"name" validate:"required"`
	TokenEnv    string   `json:"token_env" validate:"required"`
	Permissions []string `json:"permissions" validate:"min=1,dive,oneof=read trade"`
}

// LoggerConfig 对应 pkg/logger 的配置。
type LoggerConfig struct {
	Level       string      `json:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Format      string      `json:"format" default:"json" validate:"oneof=json text"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件及其轮转策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path" default:"logs/audit.log"`
	MaxSizeMB  int    `json:"max_size_mb" default:"100"`
	MaxBackups int    `json:"max_backups" default:"7"`
	MaxAgeDays int    `json:"max_age_days" default:"30"`
	Compress   bool   `json:"compress"`
}

// Web3Config 包含访问区块链节点所需的参数。
type Web3Config struct {
	// ChainConfig 指向 YAML 链定义文件，为空时使用 RPCURL。
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	ChainID               int64  `json:"chain_id" default:"8453"`
	ReceiptPollMillis     int    `json:"receipt_poll_millis" default:"1000" validate:"gte=100"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds" default:"120" validate:"gte=1"`
	GasBufferPercent      int    `json:"gas_buffer_percent" default:"20" validate:"gte=0,lte=200"`
}

// TradeConfig 控制链上交易执行。
type TradeConfig struct {
	// GasBufferETH 是买入时额外预留的原生币数量。
	GasBufferETH string `json:"gas_buffer_eth" default:"0.0005" validate:"numeric"`
}

// AggregatorConfig 描述兑换聚合器的调用顺序及参数。
type AggregatorConfig struct {
	Chain          string           `json:"chain" default:"base"`
	ChainID        int64            `json:"chain_id" default:"8453"`
	TimeoutSeconds int              `json:"timeout_seconds" default:"15" validate:"gte=1"`
	GuidanceURL    string           `json:"guidance_url"`
	Providers      []ProviderConfig `json:"providers" validate:"dive"`
	// LaunchpadAddress 非空时启用 launchpad 兜底。
	LaunchpadAddress string `json:"launchpad_address" validate:"omitempty,eth_addr"`
}

// ProviderConfig 是单个聚合器的配置，数组顺序即回退顺序。
type ProviderConfig struct {
	Name        string `json:"name" validate:"required,oneof=kyberswap odos paraswap openocean"`
	BaseURL     string `json:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `json:"api_key_env"`
	SlippageBps int    `json:"slippage_bps" validate:"gte=0,lte=5000"`
}

// ExchangeConfig 描述中心化交易所接入。Venue 为空表示不启用。
type ExchangeConfig struct {
	Venue            string `json:"venue" validate:"omitempty,oneof=binance bitget"`
	BaseURL          string `json:"base_url" validate:"omitempty,url"`
	TimeoutSeconds   int    `json:"timeout_seconds" default:"10" validate:"gte=1"`
	RecvWindowMillis int    `json:"recv_window_millis" default:"5000"`
	ProductType      string `json:"product_type"`
	MarginCoin       string `json:"margin_coin"`
	MarginMode       string `json:"margin_mode" validate:"omitempty,oneof=crossed isolated"`
}

// BridgeConfig 控制信号执行场所的选择。
type BridgeConfig struct {
	Venue            string            `json:"venue" default:"exchange" validate:"oneof=exchange onchain"`
	QuoteCurrency    string            `json:"quote_currency" default:"USDT"`
	DefaultQuoteSize string            `json:"default_quote_size" default:"10" validate:"numeric"`
	DefaultETHSize   string            `json:"default_eth_size" default:"0.01" validate:"numeric"`
	MinConfidence    float64           `json:"min_confidence" validate:"gte=0,lte=1"`
	TokenAddresses   map[string]string `json:"token_addresses" validate:"dive,eth_addr"`
}

// FeedConfig 控制帖子抓取与信号发布。
type FeedConfig struct {
	BaseURL    string   `json:"base_url" validate:"omitempty,url"`
	UserAgent  string   `json:"user_agent" default:"tradepilot/1.0"`
	Subreddits []string `json:"subreddits"`
	Limit      int      `json:"limit" default:"25" validate:"gte=1,lte=100"`
	// IntervalSeconds 为 0 时不启动后台扫描。
	IntervalSeconds int         `json:"interval_seconds" validate:"gte=0"`
	Kafka           KafkaConfig `json:"kafka"`
}

// KafkaConfig 控制信号发布到 Kafka。Brokers 为空时不发布。
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic" default:"tradepilot.signals"`
}

// JobsConfig 控制异步交易任务。
type JobsConfig struct {
	Workers    int         `json:"workers" default:"4" validate:"gte=1"`
	MaxRetries int         `json:"max_retries" default:"3" validate:"gte=1"`
	Queue      QueueConfig `json:"queue"`
	Store      StoreConfig `json:"store"`
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	Driver   string         `json:"driver" default:"memory" validate:"oneof=memory redis rabbitmq"`
	Size     int            `json:"size" default:"256"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接。
type RedisConfig struct {
	Address     string `json:"address" default:"localhost:6379"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Queue       string `json:"queue" default:"tradepilot:jobs"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接。
type RabbitMQConfig struct {
	URLEnv   string `json:"url_env" default:"TRADEPILOT_RABBITMQ_URL"`
	Queue    string `json:"queue" default:"tradepilot.jobs"`
	Prefetch int    `json:"prefetch" default:"8"`
}

// StoreConfig 选择任务存储实现。
type StoreConfig struct {
	Driver                 string `json:"driver" default:"memory" validate:"oneof=memory mysql"`
	DSNEnv                 string `json:"dsn_env" default:"TRADEPILOT_MYSQL_DSN"`
	MaxOpenConns           int    `json:"max_open_conns" default:"10"`
	MaxIdleConns           int    `json:"max_idle_conns" default:"5"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" default:"300"`
}

// KeyringConfig 把钱包与交易所账户的引用名映射到保存密钥的环境变量。
type KeyringConfig struct {
	DefaultWallet  string                   `json:"default_wallet" default:"main"`
	DefaultAccount string                   `json:"default_account" default:"main"`
	Wallets        map[string]WalletConfig  `json:"wallets" validate:"dive"`
	Accounts       map[string]AccountConfig `json:"accounts" validate:"dive"`
}

// WalletConfig 描述一个钱包私钥的来源。
type WalletConfig struct {
	PrivateKeyEnv string `json:"private_key_env" validate:"required"`
}

// AccountConfig 描述一个交易所账户凭证的来源。
type AccountConfig struct {
	APIKeyEnv     string `json:"api_key_env" validate:"required"`
	APISecretEnv  string `json:"api_secret_env" validate:"required"`
	PassphraseEnv string `json:"passphrase_env"`
}

// AlertingConfig 配置告警渠道，全部为空时不发送告警。
type AlertingConfig struct {
	WebhookURL      string            `json:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders  map[string]string `json:"webhook_headers"`
	SlackWebhookEnv string            `json:"slack_webhook_env"`
}

var validate = validator.New()

// Load 负责解析指定路径的 JSON 配置文件。
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

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv 读取 TRADEPILOT_CONFIG 指定的配置。未设置且默认文件不存在时返回纯默认配置。
func LoadFromEnv() (*Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return Load(DefaultConfigPath)
	}
	return Default()
}

// Default 返回只包含默认值的配置。
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.finish("."); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish(baseDir string) error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("填充默认配置失败: %w", err)
	}
	c.applyDefaults(baseDir)
	return c.Validate()
}

// applyDefaults 处理无法用 struct tag 表达的默认值，并把相对路径解析到配置文件目录。
func (c *Config) applyDefaults(baseDir string) {
	if len(c.Aggregators.Providers) == 0 {
		c.Aggregators.Providers = []ProviderConfig{
			{Name: "kyberswap"},
			{Name: "odos"},
			{Name: "paraswap"},
			{Name: "openocean"},
		}
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = []string{"stdout"}
	}
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Logger.Audit.Path = resolvePath(baseDir, c.Logger.Audit.Path)
	for i, out := range c.Logger.OutputPaths {
		switch strings.ToLower(out) {
		case "stdout", "stderr":
		default:
			c.Logger.OutputPaths[i] = resolvePath(baseDir, out)
		}
	}
}

// Validate 校验配置取值及跨字段约束。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s 不满足 %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Web3.ChainConfig == "" && strings.TrimSpace(c.Web3.RPCURL) == "" && c.Bridge.Venue == "onchain" {
		return errors.New("配置校验失败: 链上执行需要 web3.rpc_url 或 web3.chain_config")
	}
	if c.Server.Auth.Mode == "token" && len(c.Server.Auth.Tokens) == 0 {
		return errors.New("配置校验失败: token 认证需要至少一个 server.auth.tokens")
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
