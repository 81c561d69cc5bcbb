// Package conf loads and validates agrialert settings.
package conf

import (
	"sync"
	"time"
)

// Settings is the root configuration document.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log" json:"log"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
	WebServer    WebServerSettings    `mapstructure:"webserver" yaml:"webserver" json:"webserver"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database" json:"database"`
	Redis        RedisSettings        `mapstructure:"redis" yaml:"redis" json:"redis"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Alerting     AlertingSettings     `mapstructure:"alerting" yaml:"alerting" json:"alerting"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification" json:"notification"`
}

// LogSettings controls log output.
type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level" json:"level"`
	Format   string `mapstructure:"format" yaml:"format" json:"format"` // json or text
	Timezone string `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

// Location resolves the configured timezone. Empty or invalid values yield nil,
// which leaves timestamps in local time.
func (l LogSettings) Location() *time.Location {
	if l.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil
	}
	return loc
}

// SentrySettings enables error reporting when DSN is set.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" json:"listen"`

	// Tokens lists the bearer tokens accepted by the API.
	Tokens []APIToken `mapstructure:"tokens" yaml:"tokens" json:"-"`
	// RateLimit is requests per second per client. 0 disables it.
	RateLimit float64 `mapstructure:"ratelimit" yaml:"ratelimit" json:"ratelimit"`
}

// APIToken binds a bearer token to the user it authenticates. A list is used
// rather than a map because viper lowercases map keys.
type APIToken struct {
	Token  string `mapstructure:"token" yaml:"token" json:"-"`
	UserID string `mapstructure:"userid" yaml:"userid" json:"userid"`
}

// TokenUsers returns a lookup from token to user id.
func (w WebServerSettings) TokenUsers() map[string]string {
	out := make(map[string]string, len(w.Tokens))
	for _, t := range w.Tokens {
		if t.Token != "" && t.UserID != "" {
			out[t.Token] = t.UserID
		}
	}
	return out
}

// DatabaseSettings selects the gorm backend.
type DatabaseSettings struct {
	Type  string `mapstructure:"type" yaml:"type" json:"type"` // sqlite or mysql
	Path  string `mapstructure:"path" yaml:"path" json:"path"`
	DSN   string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Debug bool   `mapstructure:"debug" yaml:"debug" json:"debug"`
}

// RedisSettings is only needed when the redis debounce store is selected.
type RedisSettings struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

// MQTTSettings configures the sensor feed subscription.
type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID    string `mapstructure:"clientid" yaml:"clientid" json:"clientid"`
	Username    string `mapstructure:"username" yaml:"username" json:"username"`
	Password    string `mapstructure:"password" yaml:"password" json:"-"`
	TopicPrefix string `mapstructure:"topicprefix" yaml:"topicprefix" json:"topicprefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos" json:"qos"`
}

// AlertingSettings tunes rule evaluation and debouncing.
type AlertingSettings struct {
	Cooldown             Duration         `mapstructure:"cooldown" yaml:"cooldown" json:"cooldown"`
	Debounce             DebounceSettings `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	HistoryRetentionDays int              `mapstructure:"historyretentiondays" yaml:"historyretentiondays" json:"historyretentiondays"`
	BusBufferSize        int              `mapstructure:"busbuffersize" yaml:"busbuffersize" json:"busbuffersize"`
}

// DebounceSettings selects the debounce store.
type DebounceSettings struct {
	Store    string `mapstructure:"store" yaml:"store" json:"store"` // database, redis or memory
	FailOpen bool   `mapstructure:"failopen" yaml:"failopen" json:"failopen"`
}

// NotificationSettings configures the outbound dispatch client.
type NotificationSettings struct {
	Endpoint string         `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Timeout  Duration       `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Token    string         `mapstructure:"token" yaml:"token" json:"-"`
	OAuth2   OAuth2Settings `mapstructure:"oauth2" yaml:"oauth2" json:"oauth2"`
	Retry    RetrySettings  `mapstructure:"retry" yaml:"retry" json:"retry"`

	// RateLimit caps outbound dispatches per second. 0 disables the limiter.
	RateLimit float64 `mapstructure:"ratelimit" yaml:"ratelimit" json:"ratelimit"`
	Burst     int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// OAuth2Settings enables the client-credentials flow instead of a static token.
type OAuth2Settings struct {
	ClientID     string   `mapstructure:"clientid" yaml:"clientid" json:"clientid"`
	ClientSecret string   `mapstructure:"clientsecret" yaml:"clientsecret" json:"-"`
	TokenURL     string   `mapstructure:"tokenurl" yaml:"tokenurl" json:"tokenurl"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes" json:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (o OAuth2Settings) Enabled() bool {
	return o.ClientID != "" && o.TokenURL != ""
}

// RetrySettings bounds the dispatcher's exponential backoff.
type RetrySettings struct {
	MaxAttempts    int      `mapstructure:"maxattempts" yaml:"maxattempts" json:"maxattempts"`
	InitialBackoff Duration `mapstructure:"initialbackoff" yaml:"initialbackoff" json:"initialbackoff"`
	MaxBackoff     Duration `mapstructure:"maxbackoff" yaml:"maxbackoff" json:"maxbackoff"`
}

var (
	settingsMu sync.RWMutex
	settings   *Settings
)

// GetSettings returns the process-wide settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// SetSettings replaces the process-wide settings. Tests use it to inject
// fixtures.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}
