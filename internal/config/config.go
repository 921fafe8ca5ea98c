package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "p2p"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("marketplace.base_url", "https://api.bybit.com")
	v.SetDefault("marketplace.api_key", "")
	v.SetDefault("marketplace.api_secret", "")
	v.SetDefault("marketplace.crypto", "USDT")
	v.SetDefault("marketplace.fiat", "NGN")
	v.SetDefault("marketplace.side", "Buy")
	v.SetDefault("marketplace.payment_method", "Bank Transfer")
	v.SetDefault("marketplace.timeout", "15s")
	v.SetDefault("marketplace.retry.attempts", 3)
	v.SetDefault("marketplace.retry.delay", "5s")

	v.SetDefault("gateway.base_url", "https://api.paystack.co")
	v.SetDefault("gateway.secret_key", "")
	v.SetDefault("gateway.timeout", "20s")
	v.SetDefault("gateway.retry.attempts", 3)
	v.SetDefault("gateway.retry.delay", "10s")

	v.SetDefault("trade.fiat_amount", 5000.0)

	v.SetDefault("scheduler.run_interval", "5m")
	v.SetDefault("scheduler.error_cooldown", "30s")
	v.SetDefault("scheduler.client_delay", "2s")

	v.SetDefault("alert.enabled", false)
	v.SetDefault("alert.smtp_host", "smtp.gmail.com")
	v.SetDefault("alert.smtp_port", 587)

	v.SetDefault("server.port", 5000)

	v.SetDefault("database.path", "data/p2p_dashboard.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
