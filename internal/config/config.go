package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config IM 核心节点的运行参数
type Config struct {
	NodeID      string `mapstructure:"node_id"`
	TCPAddr     string `mapstructure:"tcp_addr"`
	WSAddr      string `mapstructure:"ws_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// LoginMode 多端登录策略：1 单端 2 双端 3 三端 4 不限制
	LoginMode int `mapstructure:"login_mode"`

	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`

	// OfflineMax 每个用户离线消息积压上限，超出后淘汰最早的
	OfflineMax int64 `mapstructure:"offline_max"`

	// 消息处理线程池
	Workers     int `mapstructure:"workers"`
	WorkerQueue int `mapstructure:"worker_queue"`

	MaxFrameSize     int           `mapstructure:"max_frame_size"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`

	// SendCallback 是否启用消息发送前后的回调钩子
	SendCallback bool `mapstructure:"send_callback"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// Load 从配置文件（可选）与 IM_ 前缀的环境变量加载配置，环境变量优先
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("node_id", "")
	v.SetDefault("tcp_addr", ":9000")
	v.SetDefault("ws_addr", ":9001")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("login_mode", 1)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "im")
	v.SetDefault("offline_max", 1000)
	v.SetDefault("workers", 8)
	v.SetDefault("worker_queue", 1000)
	v.SetDefault("max_frame_size", 1<<20)
	v.SetDefault("heartbeat_timeout", (120 * time.Second).String())
	v.SetDefault("write_timeout", (10 * time.Second).String())
	v.SetDefault("send_callback", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &cfg, nil
}
