// Package config загружает настройки сигнального ядра из YAML файла и
// переменных окружения с префиксом RCS_.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "RCS"

// Config настройки ядра
type Config struct {
	SIP          SIPConfig          `mapstructure:"sip"`
	Session      SessionConfig      `mapstructure:"session"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Pool         PoolConfig         `mapstructure:"pool"`
	Logging      logging.Config     `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// SIPConfig локальный стек и исходящий прокси
type SIPConfig struct {
	Network    string `mapstructure:"network"`
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
	Hostname   string `mapstructure:"hostname"`
	UserAgent  string `mapstructure:"user_agent"`

	// PublicURI публичная идентичность пользователя (IMPU)
	PublicURI  string `mapstructure:"public_uri"`
	ContactURI string `mapstructure:"contact_uri"`
	HomeDomain string `mapstructure:"home_domain"`
	// Proxy исходящий P-CSCF, добавляется в Route
	Proxy string `mapstructure:"proxy"`

	Timeout          time.Duration `mapstructure:"timeout"`
	KeepAlivePeriod  time.Duration `mapstructure:"keepalive_period"`
	KeepAliveEnabled bool          `mapstructure:"keepalive_enabled"`
}

// SessionConfig таймеры сессий
type SessionConfig struct {
	Expire        time.Duration `mapstructure:"expire"`
	MinExpire     time.Duration `mapstructure:"min_expire"`
	RingingPeriod time.Duration `mapstructure:"ringing_period"`
}

// RegistrationConfig параметры REGISTER
type RegistrationConfig struct {
	// Enabled регистрироваться при старте ядра
	Enabled     bool          `mapstructure:"enabled"`
	Expire      time.Duration `mapstructure:"expire"`
	InstanceID  string        `mapstructure:"instance_id"`
	FeatureTags []string      `mapstructure:"feature_tags"`
}

// PoolConfig пул воркеров сессий
type PoolConfig struct {
	Size  int `mapstructure:"size"`
	Queue int `mapstructure:"queue"`
}

// MetricsConfig экспорт метрик Prometheus
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	Listen    string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sip.network", "udp")
	v.SetDefault("sip.listen_host", "0.0.0.0")
	v.SetDefault("sip.listen_port", 5060)
	v.SetDefault("sip.user_agent", "rcs-core")
	v.SetDefault("sip.public_uri", "")
	v.SetDefault("sip.contact_uri", "")
	v.SetDefault("sip.home_domain", "")
	v.SetDefault("sip.proxy", "")
	v.SetDefault("sip.hostname", "")
	v.SetDefault("sip.timeout", 30*time.Second)
	v.SetDefault("sip.keepalive_period", 30*time.Second)
	v.SetDefault("sip.keepalive_enabled", true)

	v.SetDefault("session.expire", 1800*time.Second)
	v.SetDefault("session.min_expire", 90*time.Second)
	v.SetDefault("session.ringing_period", 60*time.Second)

	v.SetDefault("registration.enabled", true)
	v.SetDefault("registration.expire", 3600*time.Second)
	v.SetDefault("registration.instance_id", "")
	v.SetDefault("registration.feature_tags", []string{})

	v.SetDefault("pool.size", 8)
	v.SetDefault("pool.queue", 256)

	defaults := logging.DefaultConfig()
	v.SetDefault("logging.level", defaults.Level)
	v.SetDefault("logging.format", defaults.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", defaults.MaxSizeMB)
	v.SetDefault("logging.max_age_days", 0)
	v.SetDefault("logging.max_backups", 0)
	v.SetDefault("logging.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "rcs")
	v.SetDefault("metrics.subsystem", "core")
	v.SetDefault("metrics.listen", "")
}

// Default настройки по умолчанию без файла и окружения
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// значения по умолчанию всегда декодируются
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load читает конфигурацию. Пустой path означает только значения по
// умолчанию и переменные окружения (RCS_SIP_LISTEN_PORT и т.п.).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch {
	case c.SIP.ListenPort <= 0 || c.SIP.ListenPort > 65535:
		return fmt.Errorf("sip.listen_port out of range: %d", c.SIP.ListenPort)
	case c.SIP.Timeout <= 0:
		return fmt.Errorf("sip.timeout must be positive")
	case c.SIP.KeepAlivePeriod <= 0:
		return fmt.Errorf("sip.keepalive_period must be positive")
	case c.Session.MinExpire < 0 || c.Session.Expire < 0:
		return fmt.Errorf("session expire periods must not be negative")
	case c.Session.Expire > 0 && c.Session.Expire < c.Session.MinExpire:
		return fmt.Errorf("session.expire %s is below session.min_expire %s", c.Session.Expire, c.Session.MinExpire)
	case c.Session.RingingPeriod <= 0:
		return fmt.Errorf("session.ringing_period must be positive")
	case c.Pool.Size <= 0:
		return fmt.Errorf("pool.size must be positive")
	}
	return nil
}

// ContactURI контакт стека; без явной настройки строится из публичного
// URI и адреса прослушивания
func (c *Config) ContactURI() string {
	if c.SIP.ContactURI != "" {
		return c.SIP.ContactURI
	}
	user := ""
	if public := strings.TrimPrefix(strings.TrimPrefix(c.SIP.PublicURI, "sips:"), "sip:"); public != "" {
		user, _, _ = strings.Cut(public, "@")
	}
	host := c.SIP.Hostname
	if host == "" {
		host = c.SIP.ListenHost
	}
	if user == "" {
		return fmt.Sprintf("sip:%s:%d", host, c.SIP.ListenPort)
	}
	return fmt.Sprintf("sip:%s@%s:%d", user, host, c.SIP.ListenPort)
}
