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
	envPrefix         = "swap"
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

	v.SetDefault("server.port", 3004)
	v.SetDefault("server.shutdown_timeout", "10s")

	// 默认两个模拟场所，参数与参考路由器一致：
	// RAYDIUM 报价快、手续费高；METEORA 报价慢、手续费低。
	v.SetDefault("venues", []map[string]interface{}{
		{
			"name":                "RAYDIUM",
			"base_price":          0.0001,
			"variance_min":        0.98,
			"variance_max":        1.03,
			"fee_rate":            0.003,
			"liquidity":           1000000,
			"quote_latency_min":   "200ms",
			"quote_latency_max":   "500ms",
			"execute_latency_min": "2s",
			"execute_latency_max": "3s",
			"failure_rate":        0,
		},
		{
			"name":                "METEORA",
			"base_price":          0.0001,
			"variance_min":        0.97,
			"variance_max":        1.03,
			"fee_rate":            0.002,
			"liquidity":           800000,
			"quote_latency_min":   "250ms",
			"quote_latency_max":   "600ms",
			"execute_latency_min": "2s",
			"execute_latency_max": "3s",
			"failure_rate":        0,
		},
	})

	v.SetDefault("router.quote_timeout", "0s")

	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.backoff_base", "1s")
	v.SetDefault("pipeline.build_delay_min", "500ms")
	v.SetDefault("pipeline.build_delay_max", "1s")
	v.SetDefault("pipeline.execute_timeout", "0s")

	v.SetDefault("database.path", "data/swap_router.db")
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
