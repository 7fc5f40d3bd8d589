package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Database vendors
const (
	VendorMySQL      = "mysql"
	VendorSQLite     = "sqlite"
	VendorClickHouse = "clickhouse"
)

const maskedValue = "********"

// DefaultConnector is the name of the connector created when none is configured
const DefaultConnector = "main"

// ConnectorConfig describes one database connector
type ConnectorConfig struct {
	Vendor   string `mapstructure:"vendor"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	// ReadHost is an optional replica used for read requests (mysql)
	ReadHost string `mapstructure:"read_host"`
	// Path is the database file (sqlite). Empty or ":memory:" is in-memory.
	Path   string            `mapstructure:"path"`
	Params map[string]string `mapstructure:"params"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Config holds the application configuration
type Config struct {
	Env string `mapstructure:"env"`

	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		TLS             bool          `mapstructure:"tls"`
		CertFile        string        `mapstructure:"cert_file"`
		KeyFile         string        `mapstructure:"key_file"`
		TrustProxy      bool          `mapstructure:"trust_proxy"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		RateLimit       struct {
			Enabled           bool          `mapstructure:"enabled"`
			RequestsPerSecond int           `mapstructure:"requests_per_second"`
			Burst             int           `mapstructure:"burst"`
			CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"server"`

	Auth struct {
		Enabled   bool          `mapstructure:"enabled"`
		JWTSecret string        `mapstructure:"jwt_secret"`
		Issuer    string        `mapstructure:"issuer"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`

	Log struct {
		Level       string `mapstructure:"level"`
		Encoding    string `mapstructure:"encoding"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Kernel struct {
		DefaultTimezone string                 `mapstructure:"default_timezone"`
		TemplateDir     string                 `mapstructure:"template_dir"`
		DefaultStrategy string                 `mapstructure:"default_strategy"`
		Params          map[string]interface{} `mapstructure:"params"`
	} `mapstructure:"kernel"`

	Database struct {
		Default         string                     `mapstructure:"default"`
		MetricsInterval time.Duration              `mapstructure:"metrics_interval"`
		Connectors      map[string]ConnectorConfig `mapstructure:"connectors"`
	} `mapstructure:"database"`

	ORM struct {
		IdentityMapSize int `mapstructure:"identity_map_size"`
		Cache           struct {
			Enabled  bool          `mapstructure:"enabled"`
			Addr     string        `mapstructure:"addr"`
			Password string        `mapstructure:"password"`
			DB       int           `mapstructure:"db"`
			TTL      time.Duration `mapstructure:"ttl"`
			Prefix   string        `mapstructure:"prefix"`
		} `mapstructure:"cache"`
	} `mapstructure:"orm"`

	Secrets struct {
		Provider string `mapstructure:"provider"`
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			SecretID  string `mapstructure:"secret_id"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			Endpoint  string `mapstructure:"endpoint"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_file", "server.crt")
	v.SetDefault("server.key_file", "server.key")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests_per_second", 100)
	v.SetDefault("server.rate_limit.burst", 200)
	v.SetDefault("server.rate_limit.cleanup_interval", 5*time.Minute)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "appfuel")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)

	v.SetDefault("kernel.default_timezone", "UTC")
	v.SetDefault("kernel.template_dir", "./templates")
	v.SetDefault("kernel.default_strategy", "html")

	v.SetDefault("database.default", DefaultConnector)
	v.SetDefault("database.metrics_interval", 30*time.Second)

	v.SetDefault("orm.identity_map_size", 1024)
	v.SetDefault("orm.cache.enabled", false)
	v.SetDefault("orm.cache.addr", "localhost:6379")
	v.SetDefault("orm.cache.db", 0)
	v.SetDefault("orm.cache.ttl", 5*time.Minute)
	v.SetDefault("orm.cache.prefix", "appfuel:orm:")

	v.SetDefault("secrets.provider", SecretProviderEnv)
	v.SetDefault("secrets.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("secrets.vault.path", "secret/appfuel")
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.secret_id", "appfuel/secrets")
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("APPFUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("auth.jwt_secret", "APPFUEL_JWT_SECRET")
	_ = v.BindEnv("log.level", "APPFUEL_LOG_LEVEL")
	_ = v.BindEnv("database.default", "APPFUEL_DB_DEFAULT")
	_ = v.BindEnv("secrets.vault.token", "VAULT_TOKEN")
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	setDefaults(v)
	loadFromEnv(v)
	return v
}

// LoadConfig reads file, or config.yaml from . or ./config when file is
// empty. Environment variables prefixed APPFUEL_ override file values.
func LoadConfig(file string) (*Config, error) {
	v := newViper(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// a missing default file falls back to defaults and env vars
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.applyConnectorDefaults()

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration built from defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// defaults always decode
	_ = v.Unmarshal(&config)
	config.applyConnectorDefaults()
	return &config
}

func (c *Config) applyConnectorDefaults() {
	if len(c.Database.Connectors) == 0 {
		c.Database.Connectors = map[string]ConnectorConfig{
			DefaultConnector: {Vendor: VendorSQLite, Path: ":memory:"},
		}
	}
	for name, conn := range c.Database.Connectors {
		conn.Vendor = strings.ToLower(strings.TrimSpace(conn.Vendor))
		if conn.Port == 0 {
			switch conn.Vendor {
			case VendorMySQL:
				conn.Port = 3306
			case VendorClickHouse:
				conn.Port = 9000
			}
		}
		c.Database.Connectors[name] = conn
	}
	if _, ok := c.Database.Connectors[c.Database.Default]; !ok && len(c.Database.Connectors) == 1 {
		for name := range c.Database.Connectors {
			c.Database.Default = name
		}
	}
}

// ConnectorNames returns the configured connector names in sorted order
func (c *Config) ConnectorNames() []string {
	names := make([]string, 0, len(c.Database.Connectors))
	for name := range c.Database.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsProduction reports whether env is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Masked returns a copy with passwords and secrets replaced
func (c *Config) Masked() *Config {
	masked := *c
	mask := func(value string) string {
		if value == "" {
			return ""
		}
		return maskedValue
	}
	masked.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	masked.ORM.Cache.Password = mask(c.ORM.Cache.Password)
	masked.Secrets.Vault.Token = mask(c.Secrets.Vault.Token)
	masked.Secrets.AWS.SecretKey = mask(c.Secrets.AWS.SecretKey)
	masked.Database.Connectors = make(map[string]ConnectorConfig, len(c.Database.Connectors))
	for name, conn := range c.Database.Connectors {
		conn.Password = mask(conn.Password)
		masked.Database.Connectors[name] = conn
	}
	return &masked
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", config.Server.Port)
	}
	if config.Server.TLS && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file are required when tls is enabled")
	}
	if config.Server.RateLimit.Enabled && (config.Server.RateLimit.RequestsPerSecond <= 0 || config.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("server.rate_limit requests_per_second and burst must be positive")
	}

	if config.Auth.Enabled && len(config.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters when auth is enabled")
	}

	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", config.Log.Level)
	}
	switch config.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("log.encoding must be console or json, got %q", config.Log.Encoding)
	}

	switch strings.ToLower(config.Kernel.DefaultStrategy) {
	case "html", "console", "ajax":
	default:
		return fmt.Errorf("kernel.default_strategy must be one of html, console, ajax, got %q", config.Kernel.DefaultStrategy)
	}
	if _, err := time.LoadLocation(config.Kernel.DefaultTimezone); err != nil {
		return fmt.Errorf("kernel.default_timezone: %w", err)
	}

	if _, ok := config.Database.Connectors[config.Database.Default]; !ok {
		return fmt.Errorf("database.default %q is not a configured connector", config.Database.Default)
	}
	for _, name := range config.ConnectorNames() {
		conn := config.Database.Connectors[name]
		switch conn.Vendor {
		case VendorMySQL, VendorClickHouse:
			if conn.Host == "" {
				return fmt.Errorf("database.connectors.%s: host is required for %s", name, conn.Vendor)
			}
		case VendorSQLite:
		default:
			return fmt.Errorf("database.connectors.%s: unknown vendor %q", name, conn.Vendor)
		}
	}

	if config.ORM.IdentityMapSize < 0 {
		return fmt.Errorf("orm.identity_map_size can not be negative")
	}
	if config.ORM.Cache.Enabled && config.ORM.Cache.Addr == "" {
		return fmt.Errorf("orm.cache.addr is required when the cache is enabled")
	}

	switch strings.ToLower(config.Secrets.Provider) {
	case "", SecretProviderEnv, SecretProviderVault, SecretProviderAWS:
	default:
		return fmt.Errorf("secrets.provider must be one of env, vault, aws, got %q", config.Secrets.Provider)
	}
	return nil
}

// Settings returns the configuration as nested maps keyed like the config
// file, with durations as strings
func (c *Config) Settings() (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := mapstructure.Decode(c, &out); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return toSettings(out).(map[string]interface{}), nil
}

func toSettings(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Duration:
		return t.String()
	case map[string]interface{}:
		for k, e := range t {
			t[k] = toSettings(e)
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		var m map[string]interface{}
		if err := mapstructure.Decode(v, &m); err != nil {
			return v
		}
		return toSettings(m)
	case reflect.Map:
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = toSettings(iter.Value().Interface())
		}
		return m
	}
	return v
}

// SampleYAML renders the default configuration as YAML
func SampleYAML() ([]byte, error) {
	v := viper.New()
	setDefaults(v)
	v.Set("database.connectors", map[string]interface{}{
		DefaultConnector: map[string]interface{}{
			"vendor": VendorSQLite,
			"path":   "./data/appfuel.db",
		},
	})
	return yaml.Marshal(v.AllSettings())
}

// WriteSample writes the sample configuration to path, refusing to overwrite
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := SampleYAML()
	if err != nil {
		return fmt.Errorf("failed to render sample config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
