package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OSS      OSSConfig      `mapstructure:"oss"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	GitHub   GitHubConfig   `mapstructure:"github"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AuthConfig enables service-to-service bearer auth. An empty secret
// disables authentication entirely (development mode).
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type AnalysisConfig struct {
	TempDir              string `mapstructure:"temp_dir"`                // workspace root, defaults to os.TempDir
	CloneTimeoutSeconds  int    `mapstructure:"clone_timeout_seconds"`   // per clone attempt
	CloneMaxRetries      int    `mapstructure:"clone_max_retries"`
	ProgressTTLSeconds   int    `mapstructure:"progress_ttl_seconds"`    // progress record expiry from last update
	CacheTTLSeconds      int    `mapstructure:"cache_ttl_seconds"`       // full result cache
	BasicCacheTTLSeconds int    `mapstructure:"basic_cache_ttl_seconds"` // degraded result cache
	StreamIntervalMS     int    `mapstructure:"stream_interval_ms"`      // progress stream poll interval
}

type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type GitHubConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	Token      string `mapstructure:"token"`
}

func Load(configPath string) (*Config, error) {
	// Prefer config.local.yaml when present (holds real keys, not committed).
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Analysis.TempDir == "" {
		c.Analysis.TempDir = os.TempDir()
	}
	if c.Analysis.CloneTimeoutSeconds <= 0 {
		c.Analysis.CloneTimeoutSeconds = 120
	}
	if c.Analysis.CloneMaxRetries < 0 {
		c.Analysis.CloneMaxRetries = 0
	}
	if c.Analysis.ProgressTTLSeconds <= 0 {
		c.Analysis.ProgressTTLSeconds = 1800
	}
	if c.Analysis.CacheTTLSeconds <= 0 {
		c.Analysis.CacheTTLSeconds = 3600
	}
	if c.Analysis.BasicCacheTTLSeconds <= 0 {
		c.Analysis.BasicCacheTTLSeconds = 600
	}
	if c.Analysis.StreamIntervalMS <= 0 {
		c.Analysis.StreamIntervalMS = 1000
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 300
	}
	if c.GitHub.APIBaseURL == "" {
		c.GitHub.APIBaseURL = "https://api.github.com"
	}
}
