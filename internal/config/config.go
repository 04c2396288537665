package config

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/notifications"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "CONSOLE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "console.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultNotificationsPage   = notifications.DefaultPageSize
	defaultUnreadCountMode     = string(notifications.UnreadCountPage)
	defaultRedisChannel        = changefeed.DefaultRedisChannel
	defaultHeartbeatSeconds    = 25
	keyHTTPAddress             = "http.address"
	keyHTTPAllowedOrigins      = "http.allowed_origins"
	keyHTTPHeartbeatSeconds    = "http.heartbeat_seconds"
	keyDatabasePath            = "database.path"
	keyLogLevel                = "log.level"
	keyLogFormat               = "log.format"
	keyRedisAddress            = "redis.address"
	keyRedisChannel            = "redis.channel"
	keyNotificationsPageSize   = "notifications.page_size"
	keyNotificationsUnreadMode = "notifications.unread_count"
	keyStatsEntitySets         = "stats.entity_sets"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	HeartbeatSeconds  int
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	RedisAddress      string
	RedisChannel      string
	NotificationsPage int
	UnreadCountMode   notifications.UnreadCountMode
	StatsEntitySets   []changefeed.EntitySet
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyHTTPAllowedOrigins, []string{})
	configViper.SetDefault(keyHTTPHeartbeatSeconds, defaultHeartbeatSeconds)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyLogFormat, defaultLogFormat)
	configViper.SetDefault(keyRedisAddress, "")
	configViper.SetDefault(keyRedisChannel, defaultRedisChannel)
	configViper.SetDefault(keyNotificationsPageSize, defaultNotificationsPage)
	configViper.SetDefault(keyNotificationsUnreadMode, defaultUnreadCountMode)
	configViper.SetDefault(keyStatsEntitySets, trackedSetNames())
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString(keyHTTPAddress),
		AllowedOrigins:    configViper.GetStringSlice(keyHTTPAllowedOrigins),
		HeartbeatSeconds:  configViper.GetInt(keyHTTPHeartbeatSeconds),
		DatabasePath:      configViper.GetString(keyDatabasePath),
		LogLevel:          configViper.GetString(keyLogLevel),
		LogFormat:         configViper.GetString(keyLogFormat),
		RedisAddress:      strings.TrimSpace(configViper.GetString(keyRedisAddress)),
		RedisChannel:      configViper.GetString(keyRedisChannel),
		NotificationsPage: configViper.GetInt(keyNotificationsPageSize),
		UnreadCountMode:   notifications.UnreadCountMode(strings.ToLower(strings.TrimSpace(configViper.GetString(keyNotificationsUnreadMode)))),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	sets, err := resolveEntitySets(configViper.GetStringSlice(keyStatsEntitySets))
	if err != nil {
		return AppConfig{}, err
	}
	cfg.StatsEntitySets = sets

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%s is required", keyDatabasePath)
	}
	if c.NotificationsPage <= 0 {
		return fmt.Errorf("%s must be positive", keyNotificationsPageSize)
	}
	switch c.UnreadCountMode {
	case notifications.UnreadCountPage, notifications.UnreadCountGlobal:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", keyNotificationsUnreadMode,
			notifications.UnreadCountPage, notifications.UnreadCountGlobal, c.UnreadCountMode)
	}
	if c.RedisAddress != "" && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("%s is required when %s is set", keyRedisChannel, keyRedisAddress)
	}
	return nil
}

func resolveEntitySets(names []string) ([]changefeed.EntitySet, error) {
	sets := make([]changefeed.EntitySet, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		set, ok := rowstore.LookupSet(trimmed)
		if !ok {
			return nil, fmt.Errorf("%s: unknown entity set %q", keyStatsEntitySets, trimmed)
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s requires at least one entity set", keyStatsEntitySets)
	}
	return sets, nil
}

func trackedSetNames() []string {
	tracked := rowstore.TrackedSets()
	names := make([]string, 0, len(tracked))
	for _, set := range tracked {
		names = append(names, set.Name)
	}
	return names
}
