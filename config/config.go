package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Quest    QuestConfig    `mapstructure:"quest"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Debug     bool   `mapstructure:"debug"`
	AdminKey  string `mapstructure:"admin_key"`
	IngestKey string `mapstructure:"ingest_key"` // shared secret for the activity ingest endpoint
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string  `mapstructure:"jwt_secret"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the browser origins permitted by CORS.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminIPs       []string `mapstructure:"admin_ips"`
}

// QuestConfig tunes the progress engine, the tracking gate and the reset sweep.
type QuestConfig struct {
	Timezone           string        `mapstructure:"timezone"`
	GateTTL            time.Duration `mapstructure:"gate_ttl"`
	ResetInterval      time.Duration `mapstructure:"reset_interval"`
	ResetInitialDelay  time.Duration `mapstructure:"reset_initial_delay"`
	ResetConcurrency   int           `mapstructure:"reset_concurrency"`
	RewardTimeout      time.Duration `mapstructure:"reward_timeout"`
	Workers            int           `mapstructure:"workers"`
	QueueSize          int           `mapstructure:"queue_size"`
	EventTimeout       time.Duration `mapstructure:"event_timeout"`
	RecentFeedSize     int           `mapstructure:"recent_feed_size"`
	LeaderboardRefresh time.Duration `mapstructure:"leaderboard_refresh"`
	// IgnoredUsers never make progress, e.g. the community's bots.
	IgnoredUsers       []string      `mapstructure:"ignored_users"`
}

// Load reads config from the given YAML file path.
// Values from a .env file in the working directory and QUEST_* environment
// variables override the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("quest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults also registers the secrets with empty values: AutomaticEnv
// only reaches keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.ingest_key", "")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.postgres_dsn", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("quest.timezone", "UTC")
	v.SetDefault("quest.gate_ttl", "5m")
	v.SetDefault("quest.reset_interval", "1h")
	v.SetDefault("quest.reset_initial_delay", "30s")
	v.SetDefault("quest.reset_concurrency", 4)
	v.SetDefault("quest.reward_timeout", "5s")
	v.SetDefault("quest.workers", 8)
	v.SetDefault("quest.queue_size", 1024)
	v.SetDefault("quest.event_timeout", "30s")
	v.SetDefault("quest.recent_feed_size", 50)
	v.SetDefault("quest.leaderboard_refresh", "10m")
}
