// Package conf loads and validates safetyvision settings.
package conf

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. SAFETYVISION_WEBSERVER_PORT.
const EnvPrefix = "SAFETYVISION"

// SafeZone is an axis-aligned rectangle in frame coordinates where compliant
// presence never raises an alert.
type SafeZone struct {
	Name string
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// OperationalHours is the half-open [Start, End) hour interval of standard operation.
type OperationalHours struct {
	Start int
	End   int
}

// RulesSettings configures the rules engine.
type RulesSettings struct {
	MinViolationDuration float64 // seconds of sustained violation before an alert is confirmed
	OperationalHours     OperationalHours
	Timezone             string // IANA name or "Local"
	SafeZones            []SafeZone
}

// Location resolves the configured timezone.
func (r *RulesSettings) Location() (*time.Location, error) {
	if r.Timezone == "" || strings.EqualFold(r.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(r.Timezone)
}

// SeverityRule maps violation type keywords to a routing severity.
type SeverityRule struct {
	Level    string
	Keywords []string
}

// DispatcherSettings configures alert gating and fan-out.
type DispatcherSettings struct {
	Cooldown        Duration // dedup window per (entity, violation type, source)
	SendTimeout     Duration // per-subscriber send deadline
	StorageTimeout  Duration // deadline for persisting an accepted alert
	StatsInterval   Duration // period of stats_update broadcasts, 0 disables them
	Severity        []SeverityRule
	DefaultSeverity string
}

// EscalationSettings configures automatic escalation of unattended critical violations.
type EscalationSettings struct {
	Enabled  bool
	Deadline Duration // time a critical violation may stay unattended
	Interval Duration // how often overdue violations are checked
	Level    string   // escalation level recorded on auto-generated actions
}

// LifecycleSettings configures violation retention and escalation.
type LifecycleSettings struct {
	RetentionDays int // 0 disables the retention sweep
	SweepInterval Duration
	Escalation    EscalationSettings
}

// SQLiteSettings configures the embedded database.
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures an external MySQL database.
type MySQLSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// DSN renders the settings as a go-sql-driver DSN.
func (m *MySQLSettings) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = m.Username
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	cfg.DBName = m.Database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true // compare-and-set updates count matched rows
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// DatabaseSettings selects and configures the storage backend.
type DatabaseSettings struct {
	Type          string // "sqlite" or "mysql"
	SQLite        SQLiteSettings
	MySQL         MySQLSettings
	SlowThreshold Duration
}

// ShoutrrrSettings lists shoutrrr service URLs (telegram://, discord://, ...).
type ShoutrrrSettings struct {
	URLs    []string
	Timeout Duration
}

// MQTTSettings configures the MQTT alert publisher.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:port
	Topic    string
	Username string
	Password string
	ClientID string
}

// NATSSettings configures the NATS alert publisher.
type NATSSettings struct {
	Enabled bool
	URL     string
	Subject string
}

// WebhookSettings configures the HTTP webhook notifier.
type WebhookSettings struct {
	Enabled bool
	URL     string
	Timeout Duration
}

// NotificationSettings configures outbound notification providers.
type NotificationSettings struct {
	MinSeverity string  // lowest routing severity forwarded to providers
	RateLimit   float64 // notifications per second per provider
	Burst       int
	Shoutrrr    ShoutrrrSettings
	MQTT        MQTTSettings
	NATS        NATSSettings
	Webhook     WebhookSettings
}

// WebServerSettings configures the HTTP API and websocket endpoint.
type WebServerSettings struct {
	Port           int
	MaxConnections int
	Debug          bool
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	DSN         string
	Environment string
}

// LogSettings configures the central logger.
type LogSettings struct {
	Level  string
	Format string // "json" or "text"
}

// Settings contains all configuration options for the service.
type Settings struct {
	Debug bool

	Rules        RulesSettings
	Dispatcher   DispatcherSettings
	Lifecycle    LifecycleSettings
	Database     DatabaseSettings
	Notification NotificationSettings
	WebServer    WebServerSettings
	Sentry       SentrySettings
	Log          LogSettings

	// ConfigFile is the file the settings were read from, empty when defaults were used.
	ConfigFile string `yaml:"-"`
}

// dotEnvPaths are tried in order; the first readable file wins.
var dotEnvPaths = []string{".env", "/etc/safetyvision/.env"}

// Load reads settings from configFile, or from the default search paths when
// configFile is empty. A missing config file is not an error: defaults and
// environment overrides apply.
func Load(configFile string) (*Settings, error) {
	for _, path := range dotEnvPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	v, err := initViper(configFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = v.ConfigFileUsed()

	applyLegacyEnv(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper creates a viper instance with defaults, environment bindings and
// the config file applied.
func initViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		for _, path := range defaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		if configFile == "" && errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("fatal error reading config file: %w", err)
	}
	return v, nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "safetyvision"))
	}
	return append(paths, "/etc/safetyvision")
}
