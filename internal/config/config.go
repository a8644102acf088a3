package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Tracker struct {
		AccountID       string   `mapstructure:"account_id"`
		SiteID          string   `mapstructure:"site_id"`
		URL             string   `mapstructure:"url"`
		Namespaces      []string `mapstructure:"namespaces"`
		Debug           bool     `mapstructure:"debug"`
		ProtocolVersion string   `mapstructure:"protocol_version"`
		UserAgent       string   `mapstructure:"user_agent"`
		TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	} `mapstructure:"tracker"`

	Storage struct {
		Driver string `mapstructure:"driver"` // sqlite | postgres | memory
		Path   string `mapstructure:"path"`
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Connectivity struct {
		ProbeURL        string `mapstructure:"probe_url"`
		IntervalSeconds int    `mapstructure:"interval_seconds"`
		Mode            string `mapstructure:"mode"` // wifi | cellular
	} `mapstructure:"connectivity"`

	Device struct {
		Language     string `mapstructure:"language"`
		Region       string `mapstructure:"region"`
		ScreenWidth  int    `mapstructure:"screen_width"`
		ScreenHeight int    `mapstructure:"screen_height"`
		IDFV         string `mapstructure:"idfv"`
		ProfilePath  string `mapstructure:"profile_path"` // optional device profile yaml
	} `mapstructure:"device"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// bindEnvs registers every mapstructure key so AutomaticEnv can resolve
// keys that are absent from the config file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// WithDefaults returns c with every unset value defaulted.
func WithDefaults(c Config) Config {
	validate(&c)
	return c
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8123"
	}
	if c.Tracker.ProtocolVersion == "" {
		c.Tracker.ProtocolVersion = "6.10.unknown"
	}
	if c.Tracker.UserAgent == "" {
		c.Tracker.UserAgent = "osb-tracker/6.10"
	}
	if c.Tracker.TimeoutSeconds <= 0 {
		c.Tracker.TimeoutSeconds = 10
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "osb-tracker.db"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 4
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 1
	}
	if c.Connectivity.IntervalSeconds <= 0 {
		c.Connectivity.IntervalSeconds = 5
	}
	if c.Connectivity.Mode == "" {
		c.Connectivity.Mode = "wifi"
	}
	if c.Device.Language == "" {
		c.Device.Language = "nl"
	}
	if c.Device.Region == "" {
		c.Device.Region = "NL"
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Connectivity.IntervalSeconds) * time.Second
}

func (c Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Tracker.TimeoutSeconds) * time.Second
}
