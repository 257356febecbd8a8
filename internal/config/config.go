package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		OwnerID          int64    `env:"OWNER_ID,default=0"`
		DefaultLanguage  string   `env:"LANG,default=es"`
		EnabledHandlers  []string `env:"HANDLERS,default=admin,guard,responder"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.velzar"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		UpdateWorkers    int      `env:"UPDATE_WORKERS,default=16"`
		LLM              LLM
		Moderation       Moderation
	}

	LLM struct {
		APIKey        string        `env:"LLM_API_KEY,required"`
		Model         string        `env:"LLM_API_MODEL,default=deepseek-v3.2"`
		FallbackModel string        `env:"LLM_API_FALLBACK_MODEL,default=llama-3.3-70b"`
		BaseURL       string        `env:"LLM_API_URL,default=https://api.venice.ai/api/v1"`
		Type          string        `env:"LLM_API_TYPE,default=openai"`
		Timeout       time.Duration `env:"LLM_TIMEOUT,default=300s"`
		RetryWaitMax  time.Duration `env:"LLM_RETRY_WAIT_MAX,default=30s"`
	}

	Moderation struct {
		FloodMaxEvents   int           `env:"FLOOD_MAX_EVENTS,default=5"`
		FloodWindow      time.Duration `env:"FLOOD_WINDOW,default=3s"`
		FloodMute        time.Duration `env:"FLOOD_MUTE,default=1h"`
		MedRiskMute      time.Duration `env:"MED_RISK_MUTE,default=24h"`
		TrustBypass      int           `env:"TRUST_BYPASS,default=10"`
		RaidThreshold    int           `env:"RAID_THRESHOLD,default=5"`
		RaidWindow       time.Duration `env:"RAID_WINDOW,default=10s"`
		LockdownDuration time.Duration `env:"LOCKDOWN_DURATION,default=300s"`
		CaptchaTimeout   time.Duration `env:"CAPTCHA_TIMEOUT,default=120s"`
		NoticeTTL        time.Duration `env:"NOTICE_TTL,default=30s"`
		JudgeTimeout     time.Duration `env:"JUDGE_TIMEOUT,default=300s"`
		AdminCacheTTL    time.Duration `env:"ADMIN_CACHE_TTL,default=1m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("VZ_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// DefaultModeration mirrors the env defaults for callers that build engines without the environment.
func DefaultModeration() Moderation {
	return Moderation{
		FloodMaxEvents:   5,
		FloodWindow:      3 * time.Second,
		FloodMute:        time.Hour,
		MedRiskMute:      24 * time.Hour,
		TrustBypass:      10,
		RaidThreshold:    5,
		RaidWindow:       10 * time.Second,
		LockdownDuration: 300 * time.Second,
		CaptchaTimeout:   120 * time.Second,
		NoticeTTL:        30 * time.Second,
		JudgeTimeout:     300 * time.Second,
		AdminCacheTTL:    time.Minute,
	}
}
