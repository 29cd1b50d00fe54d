// Package config loads node settings from flags, TILERANK_* environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/tournament"
)

const EnvPrefix = "TILERANK"

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type Config struct {
	Home      string    `mapstructure:"home"`
	Addr      string    `mapstructure:"addr"`
	Transport string    `mapstructure:"transport"`
	DBBackend string    `mapstructure:"db-backend"`
	Log       LogConfig `mapstructure:"log"`

	// Admins are granted the admin role when they register.
	Admins []string `mapstructure:"admins"`

	// Aggregation defaults; tournaments may override them.
	Capacity    int             `mapstructure:"capacity"`
	Shard       throttle.Policy `mapstructure:"shard"`
	Leaderboard throttle.Policy `mapstructure:"leaderboard"`

	// MaxDrainRounds bounds message delivery rounds per drain.
	MaxDrainRounds int `mapstructure:"max-drain-rounds"`
}

func Default() Config {
	return Config{
		Home:      ".tilerank",
		Addr:      "tcp://127.0.0.1:26658",
		Transport: "socket",
		DBBackend: "goleveldb",
		Log:       LogConfig{Level: "info"},
		Capacity:  ranking.DefaultCapacity,
		Shard: throttle.Policy{
			Threshold:      10,
			CooldownMs:     5000,
			MaxStalenessMs: 30000,
		},
		Leaderboard: throttle.Policy{
			Threshold:      4,
			CooldownMs:     5000,
			MaxStalenessMs: 30000,
		},
		MaxDrainRounds: 8,
	}
}

// NewViper returns a viper instance carrying the defaults and env bindings.
func NewViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("home", d.Home)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("db-backend", d.DBBackend)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("admins", []string{})
	v.SetDefault("capacity", d.Capacity)
	v.SetDefault("shard.threshold", d.Shard.Threshold)
	v.SetDefault("shard.cooldown-ms", d.Shard.CooldownMs)
	v.SetDefault("shard.max-staleness-ms", d.Shard.MaxStalenessMs)
	v.SetDefault("leaderboard.threshold", d.Leaderboard.Threshold)
	v.SetDefault("leaderboard.cooldown-ms", d.Leaderboard.CooldownMs)
	v.SetDefault("leaderboard.max-staleness-ms", d.Leaderboard.MaxStalenessMs)
	v.SetDefault("max-drain-rounds", d.MaxDrainRounds)
	return v
}

// Load reads the optional config file (explicit path, else <home>/config.toml)
// and decodes the merged settings.
func Load(v *viper.Viper, file string) (Config, error) {
	if file == "" {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Clean(v.GetString("home")))
	} else {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case "socket", "grpc":
	default:
		return fmt.Errorf("transport must be socket or grpc, got %q", c.Transport)
	}
	switch c.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("db-backend must be goleveldb or memdb, got %q", c.DBBackend)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Capacity < 1 || c.Capacity > tournament.MaxCapacity {
		return fmt.Errorf("capacity must be 1..%d", tournament.MaxCapacity)
	}
	if c.MaxDrainRounds < 1 {
		return fmt.Errorf("max-drain-rounds must be positive")
	}
	for _, a := range c.Admins {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("admins: empty account name")
		}
	}
	return nil
}

// DataDir is where the node database lives.
func (c Config) DataDir() string { return filepath.Join(c.Home, "data") }

// Defaults are the tournament defaults with the cooldown floor applied.
func (c Config) Defaults() tournament.Defaults {
	return tournament.Defaults{
		Capacity:          c.Capacity,
		ShardPolicy:       c.Shard.Normalize(throttle.Policy{}),
		LeaderboardPolicy: c.Leaderboard.Normalize(throttle.Policy{}),
	}
}

func (c Config) IsAdmin(name string) bool {
	for _, a := range c.Admins {
		if a == name {
			return true
		}
	}
	return false
}

// NewLogger builds the node logger writing to w.
func (c Config) NewLogger(w io.Writer) log.Logger {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	opts := []log.Option{log.LevelOption(lvl)}
	if c.Log.JSON {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(w, opts...)
}
