package conf

import "github.com/spf13/viper"

// Default values referenced outside the viper defaults.
const (
	DefaultMinViolationDuration = 3.0
	DefaultOperationalStart     = 8
	DefaultOperationalEnd       = 17
	DefaultCooldownSeconds      = 60
	DefaultRetentionDays        = 30
	DefaultSeverity             = "low"
)

// setDefaultConfig registers the default value of every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("rules.minviolationduration", DefaultMinViolationDuration)
	v.SetDefault("rules.operationalhours.start", DefaultOperationalStart)
	v.SetDefault("rules.operationalhours.end", DefaultOperationalEnd)
	v.SetDefault("rules.timezone", "Local")
	v.SetDefault("rules.safezones", []map[string]any{
		{"name": "canteen", "xmin": 800, "ymin": 0, "xmax": 1200, "ymax": 400},
	})

	v.SetDefault("dispatcher.cooldown", "60s")
	v.SetDefault("dispatcher.sendtimeout", "5s")
	v.SetDefault("dispatcher.storagetimeout", "3s")
	v.SetDefault("dispatcher.statsinterval", "10s")
	v.SetDefault("dispatcher.severity", []map[string]any{
		{"level": "high", "keywords": []string{"helmet", "breach", "unauthorized"}},
		{"level": "medium", "keywords": []string{"vest", "goggles", "eyewear", "no_ppe"}},
	})
	v.SetDefault("dispatcher.defaultseverity", DefaultSeverity)

	v.SetDefault("lifecycle.retentiondays", DefaultRetentionDays)
	v.SetDefault("lifecycle.sweepinterval", "1h")
	v.SetDefault("lifecycle.escalation.enabled", true)
	v.SetDefault("lifecycle.escalation.deadline", "15m")
	v.SetDefault("lifecycle.escalation.interval", "1m")
	v.SetDefault("lifecycle.escalation.level", "auto")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.path", "safetyvision.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "safetyvision")
	v.SetDefault("database.slowthreshold", "200ms")

	v.SetDefault("notification.minseverity", "medium")
	v.SetDefault("notification.ratelimit", 1.0)
	v.SetDefault("notification.burst", 5)
	v.SetDefault("notification.shoutrrr.urls", []string{})
	v.SetDefault("notification.shoutrrr.timeout", "10s")
	v.SetDefault("notification.mqtt.enabled", false)
	v.SetDefault("notification.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("notification.mqtt.topic", "safetyvision/alerts")
	v.SetDefault("notification.mqtt.clientid", "safetyvision")
	v.SetDefault("notification.nats.enabled", false)
	v.SetDefault("notification.nats.url", "nats://localhost:4222")
	v.SetDefault("notification.nats.subject", "safetyvision.alerts")
	v.SetDefault("notification.webhook.enabled", false)
	v.SetDefault("notification.webhook.timeout", "10s")

	v.SetDefault("webserver.port", 8000)
	v.SetDefault("webserver.maxconnections", 256)
	v.SetDefault("webserver.debug", false)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
