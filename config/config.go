package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OSS       OSSConfig       `mapstructure:"oss"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Upload    UploadConfig    `mapstructure:"upload"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
	CookieName  string `mapstructure:"cookie_name"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// AnalysisConfig 外部图像分析服务
type AnalysisConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Paths          AnalysisPaths     `mapstructure:"paths"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxRetries     int               `mapstructure:"max_retries"`
	BackoffMillis  int               `mapstructure:"backoff_millis"`
	Headers        map[string]string `mapstructure:"headers"`
}

type AnalysisPaths struct {
	Health           string `mapstructure:"health"`
	WearSuitPictures string `mapstructure:"wear_suit_pictures"`
	BestFitImage     string `mapstructure:"best_fit_image"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	AppURL        string `mapstructure:"app_url"`
}

// CreditsConfig 积分套餐与每次分析的消耗
type CreditsConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
	Costs CostConfig   `mapstructure:"costs"`
}

type TierConfig struct {
	ID        string  `mapstructure:"id"`
	Name      string  `mapstructure:"name"`
	Price     float64 `mapstructure:"price"`
	Credits   int     `mapstructure:"credits"`
	ProductID string  `mapstructure:"product_id"`
	PriceID   string  `mapstructure:"price_id"`
}

type CostConfig struct {
	WearSuitPictures int `mapstructure:"wear_suit_pictures"`
	BestFitImage     int `mapstructure:"best_fit_image"`
}

type JobsConfig struct {
	PendingTTLHours int    `mapstructure:"pending_ttl_hours"`
	PurgeSchedule   string `mapstructure:"purge_schedule"`
}

type UploadConfig struct {
	MaxImageBytes int64 `mapstructure:"max_image_bytes"` // 解码后图片上限（字节）
	MaxWidth      int   `mapstructure:"max_width"`
	MaxHeight     int   `mapstructure:"max_height"`
	MaxPixels     int64 `mapstructure:"max_pixels"` // 解码前按头部宽高校验
	JPEGQuality   int   `mapstructure:"jpeg_quality"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("jwt.expire_hours", 72)
	v.SetDefault("jwt.cookie_name", "auth_token")
	v.SetDefault("queue.analysis_queue", "style:jobs")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("analysis.base_url", "http://127.0.0.1:5001/api")
	v.SetDefault("analysis.paths.health", "/health")
	v.SetDefault("analysis.paths.wear_suit_pictures", "/personalized/wear-suit-pictures")
	v.SetDefault("analysis.paths.best_fit_image", "/personalized/best-fit-image")
	v.SetDefault("analysis.timeout_seconds", 30)
	v.SetDefault("analysis.max_retries", 2)
	v.SetDefault("analysis.backoff_millis", 500)
	v.SetDefault("credits.costs.wear_suit_pictures", 10)
	v.SetDefault("credits.costs.best_fit_image", 5)
	v.SetDefault("jobs.pending_ttl_hours", 72)
	v.SetDefault("jobs.purge_schedule", "@hourly")
	v.SetDefault("upload.max_image_bytes", 10*1024*1024)
	v.SetDefault("upload.max_width", 1920)
	v.SetDefault("upload.max_height", 1080)
	v.SetDefault("upload.max_pixels", 40_000_000)
	v.SetDefault("upload.jpeg_quality", 85)
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 10)
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
