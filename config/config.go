package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Repo       RepoConfig       `mapstructure:"repo"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Security   SecurityConfig   `mapstructure:"security"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Script     ScriptConfig     `mapstructure:"script"`
	Binders    []BinderConfig   `mapstructure:"binders"`
	Build      BuildConfig      `mapstructure:"build"`
}

type ServerConfig struct {
	Port       int      `mapstructure:"port"`
	Debug      bool     `mapstructure:"debug"`
	AdminKey   string   `mapstructure:"admin_key"`
	AllowedIPs []string `mapstructure:"allowed_ips"` // admin + SSE; empty allows all
}

type RepoConfig struct {
	DataPath   string `mapstructure:"data_path"`   // repository asset
	Format     string `mapstructure:"format"`      // json | binary, applied by `init`
	ExportPath string `mapstructure:"export_path"` // JSON export/import file
	SeedDir    string `mapstructure:"seed_dir"`
	// serve mode: periodic save of a dirty repo, and the debounce after an edit
	AutoSave  time.Duration `mapstructure:"auto_save"`
	SaveDelay time.Duration `mapstructure:"save_delay"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql | none
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// SimulationConfig drives the simulation runner. Steps run in order.
type SimulationConfig struct {
	Interval     time.Duration `mapstructure:"interval"` // serve mode tick; 0 disables
	Seed         int64         `mapstructure:"seed"`     // 0 picks a time-based seed
	ParamsTable  string        `mapstructure:"params_table"`
	BonusFormula string        `mapstructure:"bonus_formula"` // JS; vars base, count, multiplier
	Steps        []StepConfig  `mapstructure:"steps"`
}

// StepConfig is one simulation step. Unused keys are ignored per kind.
type StepConfig struct {
	Kind        string `mapstructure:"kind"` // dump | bump | level_up | production
	Table       string `mapstructure:"table"`
	Field       string `mapstructure:"field"`
	Pick        string `mapstructure:"pick"` // random | first | all | match
	MatchField  string `mapstructure:"match_field"`
	MatchValue  string `mapstructure:"match_value"`
	Min         int64  `mapstructure:"min"`
	Max         int64  `mapstructure:"max"`
	LevelField  string `mapstructure:"level_field"`
	XPRequired  int64  `mapstructure:"xp_required"`
	ReqField    string `mapstructure:"required_field"`
	BaseField   string `mapstructure:"base_field"`
	CountField  string `mapstructure:"count_field"`
	Multiplier  string `mapstructure:"multiplier_key"`
	TargetTable string `mapstructure:"target_table"`
	TargetField string `mapstructure:"target_field"`
}

type ScriptConfig struct {
	VMPoolSize int           `mapstructure:"vm_pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BinderConfig binds one text target to a table row.
type BinderConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"` // field | template | row
	Table    string `mapstructure:"table"`
	Row      int    `mapstructure:"row"`
	RowID    string `mapstructure:"row_id"`
	Field    string `mapstructure:"field"`
	Template string `mapstructure:"template"`
}

type BuildConfig struct {
	Command []string `mapstructure:"command"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("repo.data_path", "./data/repo.json")
	v.SetDefault("repo.format", "json")
	v.SetDefault("repo.export_path", "./data/BGDatabaseExport.json")
	v.SetDefault("repo.seed_dir", "./data/seed")
	v.SetDefault("repo.auto_save", "1m")
	v.SetDefault("repo.save_delay", "2s")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/journal.db")
	v.SetDefault("database.mysql_max_open", 10)
	v.SetDefault("database.mysql_max_idle", 2)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("simulation.interval", "0s")
	v.SetDefault("simulation.params_table", "Params")
	v.SetDefault("script.vm_pool_size", 2)
	v.SetDefault("script.timeout", "500ms")
}

// Load reads config from the given YAML file path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GAMEDB")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
