package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Trade       TradeConfig       `mapstructure:"trade"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// MarketplaceConfig 描述 P2P 市场接口连接信息。
type MarketplaceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	Crypto        string        `mapstructure:"crypto"`
	Fiat          string        `mapstructure:"fiat"`
	Side          string        `mapstructure:"side"`
	PaymentMethod string        `mapstructure:"payment_method"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

// GatewayConfig 描述法币支付网关连接信息。
type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// TradeConfig 控制每轮采购行为。
type TradeConfig struct {
	FiatAmount float64 `mapstructure:"fiat_amount"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	RunInterval   time.Duration `mapstructure:"run_interval"`
	ErrorCooldown time.Duration `mapstructure:"error_cooldown"`
	ClientDelay   time.Duration `mapstructure:"client_delay"`
}

// AlertConfig 控制邮件告警。
type AlertConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Recipient string `mapstructure:"recipient"`
}

// ServerConfig 控制管理接口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Marketplace.BaseURL == "" {
		err = multierr.Append(err, errors.New("marketplace.base_url 不能为空"))
	}
	if c.Marketplace.Crypto == "" {
		err = multierr.Append(err, errors.New("marketplace.crypto 不能为空"))
	}
	if c.Marketplace.Fiat == "" {
		err = multierr.Append(err, errors.New("marketplace.fiat 不能为空"))
	}
	if c.Marketplace.Side == "" {
		err = multierr.Append(err, errors.New("marketplace.side 不能为空"))
	}
	if c.Marketplace.Timeout <= 0 {
		err = multierr.Append(err, errors.New("marketplace.timeout 必须大于0"))
	}
	if c.Marketplace.Retry.Attempts <= 0 {
		err = multierr.Append(err, errors.New("marketplace.retry.attempts 必须大于0"))
	}
	if c.Marketplace.Retry.Delay <= 0 {
		err = multierr.Append(err, errors.New("marketplace.retry.delay 必须为正"))
	}
	if c.Gateway.BaseURL == "" {
		err = multierr.Append(err, errors.New("gateway.base_url 不能为空"))
	}
	if c.Gateway.Timeout <= 0 {
		err = multierr.Append(err, errors.New("gateway.timeout 必须大于0"))
	}
	if c.Gateway.Retry.Attempts <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.attempts 必须大于0"))
	}
	if c.Gateway.Retry.Delay <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.delay 必须为正"))
	}
	if c.Trade.FiatAmount < 0 {
		err = multierr.Append(err, errors.New("trade.fiat_amount 不能为负"))
	}
	if c.Scheduler.RunInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.run_interval 必须大于0"))
	}
	if c.Scheduler.ErrorCooldown <= 0 {
		err = multierr.Append(err, errors.New("scheduler.error_cooldown 必须大于0"))
	}
	if c.Scheduler.ClientDelay < 0 {
		err = multierr.Append(err, errors.New("scheduler.client_delay 不能为负"))
	}
	if c.Alert.Enabled {
		if c.Alert.SMTPHost == "" {
			err = multierr.Append(err, errors.New("alert.smtp_host 不能为空"))
		}
		if c.Alert.SMTPPort <= 0 {
			err = multierr.Append(err, errors.New("alert.smtp_port 必须大于0"))
		}
		if c.Alert.Username == "" || c.Alert.Password == "" {
			err = multierr.Append(err, errors.New("alert 启用时必须配置 username 与 password"))
		}
		if c.Alert.Recipient == "" {
			err = multierr.Append(err, errors.New("alert.recipient 不能为空"))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于[1,65535]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// HasCredentials 判断启动一轮交易所需的密钥是否齐备。
// 缺失密钥不是配置文件错误，调度器会以命名 Error 状态拒绝进入主循环。
func (c *Config) HasCredentials() bool {
	return c.Marketplace.APIKey != "" && c.Marketplace.APISecret != "" && c.Gateway.SecretKey != ""
}
