package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/greenfield-iot/agrialert/internal/errors"
)

// EnvPrefix is prepended to environment overrides, e.g. AGRIALERT_ALERTING_COOLDOWN.
const EnvPrefix = "AGRIALERT"

const (
	DebounceStoreDatabase = "database"
	DebounceStoreRedis    = "redis"
	DebounceStoreMemory   = "memory"

	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// ConfigPaths returns the directories searched for config.yaml.
func ConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agrialert"))
	}
	return append(paths, "/etc/agrialert")
}

// Load reads settings from configFile, or from config.yaml in the default
// search paths when configFile is empty. A missing config file is not an
// error; defaults and environment variables still apply. The result is
// validated and installed as the process-wide settings.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range ConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("failed to read config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if s.MQTT.ClientID == "" {
		s.MQTT.ClientID = "agrialert-" + uuid.NewString()[:8]
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	SetSettings(s)
	return s, nil
}

// setDefaults registers every key so environment overrides work for keys
// absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.timezone", "")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.tokens", []map[string]string{})
	v.SetDefault("webserver.ratelimit", 20.0)

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.path", "agrialert.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.debug", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "agrialert:debounce:")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicprefix", "agrialert")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("alerting.cooldown", "60s")
	v.SetDefault("alerting.debounce.store", DebounceStoreDatabase)
	v.SetDefault("alerting.debounce.failopen", true)
	v.SetDefault("alerting.historyretentiondays", 30)
	v.SetDefault("alerting.busbuffersize", 1000)

	v.SetDefault("notification.endpoint", "")
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.token", "")
	v.SetDefault("notification.oauth2.clientid", "")
	v.SetDefault("notification.oauth2.clientsecret", "")
	v.SetDefault("notification.oauth2.tokenurl", "")
	v.SetDefault("notification.oauth2.scopes", []string{})
	v.SetDefault("notification.retry.maxattempts", 3)
	v.SetDefault("notification.retry.initialbackoff", "500ms")
	v.SetDefault("notification.retry.maxbackoff", "5s")
	v.SetDefault("notification.ratelimit", 10.0)
	v.SetDefault("notification.burst", 5)
}

// Validate checks cross-field constraints. The returned error lists every
// problem found.
func (s *Settings) Validate() error {
	var errs []error
	invalid := func(field, msg string) {
		errs = append(errs, errors.Newf("%s: %s", field, msg).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Build())
	}

	switch s.Database.Type {
	case DatabaseSQLite:
		if s.Database.Path == "" {
			invalid("database.path", "required for sqlite")
		}
	case DatabaseMySQL:
		if s.Database.DSN == "" {
			invalid("database.dsn", "required for mysql")
		} else if _, err := mysql.ParseDSN(s.Database.DSN); err != nil {
			invalid("database.dsn", err.Error())
		}
	default:
		invalid("database.type", fmt.Sprintf("unsupported database %q", s.Database.Type))
	}

	switch s.Alerting.Debounce.Store {
	case DebounceStoreDatabase, DebounceStoreMemory:
	case DebounceStoreRedis:
		if s.Redis.Addr == "" {
			invalid("redis.addr", "required for the redis debounce store")
		}
	default:
		invalid("alerting.debounce.store", fmt.Sprintf("unsupported store %q", s.Alerting.Debounce.Store))
	}

	if s.Alerting.Cooldown < 0 {
		invalid("alerting.cooldown", "must not be negative")
	}
	if s.Alerting.BusBufferSize <= 0 {
		invalid("alerting.busbuffersize", "must be positive")
	}

	if s.Notification.Retry.MaxAttempts < 1 {
		invalid("notification.retry.maxattempts", "must be at least 1")
	}
	if s.Notification.Retry.MaxBackoff < s.Notification.Retry.InitialBackoff {
		invalid("notification.retry.maxbackoff", "must not be below initialbackoff")
	}
	if s.Notification.Timeout <= 0 {
		invalid("notification.timeout", "must be positive")
	}
	if s.Notification.RateLimit < 0 {
		invalid("notification.ratelimit", "must not be negative")
	}

	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		invalid("mqtt.broker", "required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		invalid("mqtt.qos", "must be 0, 1 or 2")
	}

	return errors.Join(errs...)
}
