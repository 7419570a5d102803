// internal/service/config.go
package service

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// ExchangeConfig 定义了行情源的连接信息
type ExchangeConfig struct {
	Name    string
	WSURL   string
	RESTURL string
}

// StreamConfig 定义了订阅与聚合参数
type StreamConfig struct {
	Symbols          []string      // 订阅的交易对 (1-2 个)
	Timeframe        string        // K 线周期，例如 "1m"、"live"
	Lookback         time.Duration // K 线保留窗口，例如 24h
	ThrottleInterval time.Duration // 节流间隔，默认 100ms
}

// AnalyticsConfig 定义了配对统计轮询参数
type AnalyticsConfig struct {
	PollInterval time.Duration // 轮询间隔，默认 3s
	Window       int           // 滚动窗口长度 (bar 数)
	Method       string        // 对冲比率估计方法，例如 "ols"
}

// APIConfig HTTP 查询接口参数
type APIConfig struct {
	Port int
}

type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"Exchange"`
	Stream    StreamConfig    `mapstructure:"Stream"`
	Analytics AnalyticsConfig `mapstructure:"Analytics"`
	API       APIConfig       `mapstructure:"API"`
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

// LoadConfig 读取并解析配置文件
func LoadConfig(configPath string) *Config {
	// 设置配置文件的名称、类型和路径
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)

	// 缺省值：节流与轮询参数通常不需要用户修改
	viper.SetDefault("Stream.Timeframe", "1m")
	viper.SetDefault("Stream.Lookback", "24h")
	viper.SetDefault("Stream.ThrottleInterval", "100ms")
	viper.SetDefault("Analytics.PollInterval", "3s")
	viper.SetDefault("Analytics.Window", 60)
	viper.SetDefault("Analytics.Method", "ols")
	viper.SetDefault("API.Port", 8080)

	// 查找并读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("Config file not found: %s", err)
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	// 将配置绑定到结构体
	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode config into struct: %s", err)
	}

	return &GlobalConfig
}
