package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	DBPath    string `mapstructure:"db_path"`
	ReadLimit int64  `mapstructure:"read_limit"`

	// Persistence cadences. Debounce collapses edit bursts; the flush
	// interval is the belt-and-suspenders path under sustained edits.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`

	// Two independent lifecycles: IdleTTL bounds memory, RoomTTL bounds
	// storage retention. Keep them independently tunable.
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
	RoomTTL    time.Duration `mapstructure:"room_ttl"`
	ReaperSpec string        `mapstructure:"reaper_spec"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "./data/coedit.db")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("debounce_window", "1s")
	v.SetDefault("flush_interval", "5s")
	v.SetDefault("store_timeout", "5s")
	v.SetDefault("idle_ttl", "30m")
	v.SetDefault("room_ttl", "48h")
	v.SetDefault("reaper_spec", "@hourly")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
