package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	OSS        OSSConfig        `mapstructure:"oss"`
	Email      EmailConfig      `mapstructure:"email"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Credits    CreditsConfig    `mapstructure:"credits"`
	VoiceSlots VoiceSlotsConfig `mapstructure:"voice_slots"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Upload     UploadConfig     `mapstructure:"upload"`
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

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// ProviderConfig 远程语音服务商配置
type ProviderConfig struct {
	Name         string `mapstructure:"name"` // elevenlabs, cartesia
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

type CreditsConfig struct {
	UnitSize        int    `mapstructure:"unit_size"`        // 每个积分覆盖的字符数
	UnitLabel       string `mapstructure:"unit_label"`       // 积分展示名称
	InitialCredits  int    `mapstructure:"initial_credits"`  // 新用户赠送积分
	SourcesPriority string `mapstructure:"sources_priority"` // 逗号分隔的消费优先级
}

type VoiceSlotsConfig struct {
	SlotLimit                     int `mapstructure:"slot_limit"`
	WarmHoldSeconds               int `mapstructure:"warm_hold_seconds"`
	LockTTLSeconds                int `mapstructure:"lock_ttl_seconds"`
	QueuePollIntervalSeconds      int `mapstructure:"queue_poll_interval_seconds"`
	ReclaimIntervalSeconds        int `mapstructure:"reclaim_interval_seconds"`
	MaxDispatchPerCycle           int `mapstructure:"max_dispatch_per_cycle"`
	AllocationWaitDeadlineSeconds int `mapstructure:"allocation_wait_deadline_seconds"`
}

type WorkerConfig struct {
	TaskQueue                  string `mapstructure:"task_queue"`
	MaxWorkers                 int    `mapstructure:"max_workers"`
	MaxRetries                 int    `mapstructure:"max_retries"`
	RetryBaseSeconds           int    `mapstructure:"retry_base_seconds"`
	RetryMaxSeconds            int    `mapstructure:"retry_max_seconds"`
	ProviderCallTimeoutSeconds int    `mapstructure:"provider_call_timeout_seconds"`
}

type UploadConfig struct {
	MaxSampleBytes    int64    `mapstructure:"max_sample_bytes"`   // 声音样本最大字节数
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Credits.UnitSize == 0 {
		c.Credits.UnitSize = 1000
	}
	if c.Credits.UnitLabel == "" {
		c.Credits.UnitLabel = "Story Points"
	}
	if c.Credits.SourcesPriority == "" {
		c.Credits.SourcesPriority = "event,monthly,referral,add_on,free"
	}
	if c.VoiceSlots.SlotLimit == 0 {
		c.VoiceSlots.SlotLimit = 10
	}
	if c.VoiceSlots.WarmHoldSeconds == 0 {
		c.VoiceSlots.WarmHoldSeconds = 900
	}
	if c.VoiceSlots.LockTTLSeconds == 0 {
		c.VoiceSlots.LockTTLSeconds = 60
	}
	if c.VoiceSlots.QueuePollIntervalSeconds == 0 {
		c.VoiceSlots.QueuePollIntervalSeconds = 60
	}
	if c.VoiceSlots.ReclaimIntervalSeconds == 0 {
		c.VoiceSlots.ReclaimIntervalSeconds = 300
	}
	if c.VoiceSlots.MaxDispatchPerCycle == 0 {
		c.VoiceSlots.MaxDispatchPerCycle = 10
	}
	if c.VoiceSlots.AllocationWaitDeadlineSeconds == 0 {
		c.VoiceSlots.AllocationWaitDeadlineSeconds = 120
	}
	if c.Worker.TaskQueue == "" {
		c.Worker.TaskQueue = "storyvoice_tasks"
	}
	if c.Worker.MaxWorkers == 0 {
		c.Worker.MaxWorkers = 4
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.RetryBaseSeconds == 0 {
		c.Worker.RetryBaseSeconds = 1
	}
	if c.Worker.RetryMaxSeconds == 0 {
		c.Worker.RetryMaxSeconds = 60
	}
	if c.Worker.ProviderCallTimeoutSeconds == 0 {
		c.Worker.ProviderCallTimeoutSeconds = 30
	}
	if c.Upload.MaxSampleBytes == 0 {
		c.Upload.MaxSampleBytes = 20 << 20
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{".mp3", ".wav"}
	}
}

// SourcesPriorityList 解析积分来源优先级（去重、去空白、小写）
func (c *CreditsConfig) SourcesPriorityList() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strings.Split(c.SourcesPriority, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
