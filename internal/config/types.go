package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Venues   []VenueConfig  `mapstructure:"venues"`
	Router   RouterConfig   `mapstructure:"router"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// VenueConfig 描述单个流动性场所的模拟参数。
// 配置顺序即优先级顺序：报价打平时排在前面的场所胜出。
type VenueConfig struct {
	Name              string        `mapstructure:"name"`
	BasePrice         float64       `mapstructure:"base_price"`
	VarianceMin       float64       `mapstructure:"variance_min"`
	VarianceMax       float64       `mapstructure:"variance_max"`
	FeeRate           float64       `mapstructure:"fee_rate"`
	Liquidity         float64       `mapstructure:"liquidity"`
	QuoteLatencyMin   time.Duration `mapstructure:"quote_latency_min"`
	QuoteLatencyMax   time.Duration `mapstructure:"quote_latency_max"`
	ExecuteLatencyMin time.Duration `mapstructure:"execute_latency_min"`
	ExecuteLatencyMax time.Duration `mapstructure:"execute_latency_max"`
	FailureRate       float64       `mapstructure:"failure_rate"`
}

// RouterConfig 控制询价聚合行为。
type RouterConfig struct {
	// QuoteTimeout 为单次询价的上限，0 表示不限制（与参考实现一致）。
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
}

// PipelineConfig 控制订单状态机的节奏与重试策略。
type PipelineConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BuildDelayMin  time.Duration `mapstructure:"build_delay_min"`
	BuildDelayMax  time.Duration `mapstructure:"build_delay_max"`
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout"`
}

// DatabaseConfig 管理监控日志数据库连接。
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
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}

	if len(c.Venues) == 0 {
		err = multierr.Append(err, errors.New("venues 至少需要配置一个场所"))
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for i, v := range c.Venues {
		prefix := fmt.Sprintf("venues[%d]", i)
		name := strings.ToUpper(strings.TrimSpace(v.Name))
		if name == "" {
			err = multierr.Append(err, fmt.Errorf("%s.name 不能为空", prefix))
		} else if _, dup := seen[name]; dup {
			err = multierr.Append(err, fmt.Errorf("%s.name %q 重复", prefix, v.Name))
		} else {
			seen[name] = struct{}{}
		}
		if v.BasePrice <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s.base_price 必须大于0", prefix))
		}
		if v.VarianceMin <= 0 || v.VarianceMax < v.VarianceMin {
			err = multierr.Append(err, fmt.Errorf("%s.variance 区间非法", prefix))
		}
		if v.FeeRate < 0 || v.FeeRate >= 1 {
			err = multierr.Append(err, fmt.Errorf("%s.fee_rate 必须位于[0,1)", prefix))
		}
		if v.Liquidity < 0 {
			err = multierr.Append(err, fmt.Errorf("%s.liquidity 不能为负", prefix))
		}
		if v.QuoteLatencyMin < 0 || v.QuoteLatencyMax < v.QuoteLatencyMin {
			err = multierr.Append(err, fmt.Errorf("%s.quote_latency 区间非法", prefix))
		}
		if v.ExecuteLatencyMin < 0 || v.ExecuteLatencyMax < v.ExecuteLatencyMin {
			err = multierr.Append(err, fmt.Errorf("%s.execute_latency 区间非法", prefix))
		}
		if v.FailureRate < 0 || v.FailureRate > 1 {
			err = multierr.Append(err, fmt.Errorf("%s.failure_rate 必须位于[0,1]", prefix))
		}
	}

	if c.Router.QuoteTimeout < 0 {
		err = multierr.Append(err, errors.New("router.quote_timeout 不能为负"))
	}

	if c.Pipeline.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("pipeline.max_retries 不能为负"))
	}
	if c.Pipeline.BackoffBase <= 0 {
		err = multierr.Append(err, errors.New("pipeline.backoff_base 必须大于0"))
	}
	if c.Pipeline.BuildDelayMin < 0 || c.Pipeline.BuildDelayMax < c.Pipeline.BuildDelayMin {
		err = multierr.Append(err, errors.New("pipeline.build_delay 区间非法"))
	}
	if c.Pipeline.ExecuteTimeout < 0 {
		err = multierr.Append(err, errors.New("pipeline.execute_timeout 不能为负"))
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
