package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
// 进程启动时加载一次，之后只读
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	QR       QRConfig       `mapstructure:"qr"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentResult string `mapstructure:"payment_result"`
}

// GatewayConfig 外部支付网关配置
// KeySecret 用于回调签名校验，禁止打印到日志
type GatewayConfig struct {
	MerchantID     string   `mapstructure:"merchant_id"`
	KeyID          string   `mapstructure:"key_id"`
	KeySecret      string   `mapstructure:"key_secret"`
	BaseURL        string   `mapstructure:"base_url"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxAttempts    int      `mapstructure:"max_attempts"`
	Currency       string   `mapstructure:"currency"`
	Currencies     []string `mapstructure:"currencies"`
}

// QRConfig 二维码生成配置
// Level 纠错等级: low / medium / high / highest
type QRConfig struct {
	Level string `mapstructure:"level"`
	Size  int    `mapstructure:"size"`
}

type BusinessConfig struct {
	GatewayOrderTTLMinutes int  `mapstructure:"gateway_order_ttl_minutes"`
	FailAfterExpiry        bool `mapstructure:"fail_after_expiry"`
	MaxRetryCount          int  `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

// CurrencyAllowed 检查币种是否在允许列表内
func (c *GatewayConfig) CurrencyAllowed(currency string) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}
