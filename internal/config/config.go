package config

import (
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tgpromo/promobot/internal/models"
)

type Config struct {
	TelegramToken string `mapstructure:"telegram_token"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`

	AdminID    int64  `mapstructure:"admin_id"`
	AdminToken string `mapstructure:"admin_token"`

	APIListenAddress string `mapstructure:"api_listen_address"`

	BotHandleTimeout  time.Duration `mapstructure:"bot_handle_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	OracleTimeout     time.Duration `mapstructure:"oracle_timeout"`

	NormalChannelPoints int64 `mapstructure:"normal_channel_points"`
	VIPChannelPoints    int64 `mapstructure:"vip_channel_points"`
	DailyRewardPoints   int64 `mapstructure:"daily_reward_points"`
	ReferralPoints      int64 `mapstructure:"referral_points"`

	NotifyMaxAttempts int    `mapstructure:"notify_max_attempts"`
	NotifyQueueSize   int    `mapstructure:"notify_queue_size"`
	NotifyWebhookURL  string `mapstructure:"notify_webhook_url"`

	// ExcludedUserIDs are never credited for joins and never counted
	// towards a channel's target (order owners are excluded separately).
	ExcludedUserIDs []int64 `mapstructure:"excluded_user_ids"`
}

func New() *Config {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		logrus.Fatalf("unmarshalling config: %v", err)
	}
	return cfg
}

func SetupCommon() {
	viper.SetDefault("api_listen_address", ":8080")
	viper.SetDefault("bot_handle_timeout", "10s")
	viper.SetDefault("reconcile_interval", "40s")
	viper.SetDefault("oracle_timeout", "5s")
	viper.SetDefault("normal_channel_points", 3)
	viper.SetDefault("vip_channel_points", 4)
	viper.SetDefault("daily_reward_points", 4)
	viper.SetDefault("referral_points", 5)
	viper.SetDefault("notify_max_attempts", 5)
	viper.SetDefault("notify_queue_size", 256)
	viper.SetDefault("notify_webhook_url", "")
	viper.SetDefault("excluded_user_ids", []int64{})
	viper.SetEnvPrefix("PROMOBOT")

	viper.MustBindEnv("telegram_token")
	viper.MustBindEnv("postgres_dsn")
	viper.MustBindEnv("admin_id")
	viper.AutomaticEnv()
}

func (c *Config) TierPrice(tier models.ChannelTier) int64 {
	if tier == models.ChannelTierVIP {
		return c.VIPChannelPoints
	}
	return c.NormalChannelPoints
}

// IsExcludedFromCounting reports whether joins by this user are ignored by
// the reconciler regardless of what the membership oracle says.
func (c *Config) IsExcludedFromCounting(userID int64) bool {
	return userID == c.AdminID || slices.Contains(c.ExcludedUserIDs, userID)
}
