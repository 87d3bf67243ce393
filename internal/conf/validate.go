package conf

import (
	"slices"
	"strings"

	"github.com/smartsafety/safetyvision/internal/errors"
)

// Supported values for enumerated settings.
var (
	databaseTypes  = []string{"sqlite", "mysql"}
	severityLevels = []string{"low", "medium", "high"}
)

// ValidateSettings checks every section and returns all problems joined.
func ValidateSettings(s *Settings) error {
	var errs []error
	errs = append(errs, validateRules(&s.Rules)...)
	errs = append(errs, validateDispatcher(&s.Dispatcher)...)
	errs = append(errs, validateLifecycle(&s.Lifecycle)...)
	errs = append(errs, validateDatabase(&s.Database)...)
	errs = append(errs, validateNotification(&s.Notification)...)
	if s.WebServer.Port <= 0 || s.WebServer.Port > 65535 {
		errs = append(errs, configError("webserver.port", "must be between 1 and 65535, got %d", s.WebServer.Port))
	}
	return errors.Join(errs...)
}

func configError(key, format string, args ...any) error {
	return errors.Newf("%s: "+format, append([]any{key}, args...)...).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("key", key).
		Build()
}

func validateRules(r *RulesSettings) []error {
	var errs []error
	if r.MinViolationDuration < 0 {
		errs = append(errs, configError("rules.minviolationduration", "must not be negative"))
	}
	h := r.OperationalHours
	if h.Start < 0 || h.End > 24 || h.Start >= h.End {
		errs = append(errs, configError("rules.operationalhours",
			"need 0 <= start < end <= 24, got [%d, %d)", h.Start, h.End))
	}
	if _, err := r.Location(); err != nil {
		errs = append(errs, configError("rules.timezone", "unknown timezone %q", r.Timezone))
	}
	for i, z := range r.SafeZones {
		if z.XMin > z.XMax || z.YMin > z.YMax {
			errs = append(errs, configError("rules.safezones",
				"zone %d (%s) has min greater than max", i, z.Name))
		}
	}
	return errs
}

func validateDispatcher(d *DispatcherSettings) []error {
	var errs []error
	if d.Cooldown < 0 {
		errs = append(errs, configError("dispatcher.cooldown", "must not be negative"))
	}
	if d.SendTimeout <= 0 {
		errs = append(errs, configError("dispatcher.sendtimeout", "must be positive"))
	}
	if d.StorageTimeout <= 0 {
		errs = append(errs, configError("dispatcher.storagetimeout", "must be positive"))
	}
	if d.StatsInterval < 0 {
		errs = append(errs, configError("dispatcher.statsinterval", "must not be negative"))
	}
	for _, rule := range d.Severity {
		if !validSeverity(rule.Level) {
			errs = append(errs, configError("dispatcher.severity", "unknown level %q", rule.Level))
		}
		if len(rule.Keywords) == 0 {
			errs = append(errs, configError("dispatcher.severity", "level %q has no keywords", rule.Level))
		}
	}
	if !validSeverity(d.DefaultSeverity) {
		errs = append(errs, configError("dispatcher.defaultseverity", "unknown level %q", d.DefaultSeverity))
	}
	return errs
}

func validateLifecycle(l *LifecycleSettings) []error {
	var errs []error
	if l.RetentionDays < 0 {
		errs = append(errs, configError("lifecycle.retentiondays", "must not be negative"))
	}
	if l.RetentionDays > 0 && l.SweepInterval <= 0 {
		errs = append(errs, configError("lifecycle.sweepinterval", "must be positive when retention is enabled"))
	}
	if l.Escalation.Enabled {
		if l.Escalation.Deadline <= 0 {
			errs = append(errs, configError("lifecycle.escalation.deadline", "must be positive"))
		}
		if l.Escalation.Interval <= 0 {
			errs = append(errs, configError("lifecycle.escalation.interval", "must be positive"))
		}
	}
	return errs
}

func validateDatabase(d *DatabaseSettings) []error {
	var errs []error
	d.Type = strings.ToLower(d.Type)
	switch d.Type {
	case "sqlite":
		if d.SQLite.Path == "" {
			errs = append(errs, configError("database.sqlite.path", "is required"))
		}
	case "mysql":
		if d.MySQL.Host == "" || d.MySQL.Database == "" {
			errs = append(errs, configError("database.mysql", "host and database are required"))
		}
		if d.MySQL.Port <= 0 || d.MySQL.Port > 65535 {
			errs = append(errs, configError("database.mysql.port", "invalid port %d", d.MySQL.Port))
		}
	default:
		errs = append(errs, configError("database.type", "must be one of %v, got %q", databaseTypes, d.Type))
	}
	return errs
}

func validateNotification(n *NotificationSettings) []error {
	var errs []error
	if !validSeverity(n.MinSeverity) {
		errs = append(errs, configError("notification.minseverity", "unknown level %q", n.MinSeverity))
	}
	if n.RateLimit <= 0 {
		errs = append(errs, configError("notification.ratelimit", "must be positive"))
	}
	if n.Burst < 1 {
		errs = append(errs, configError("notification.burst", "must be at least 1"))
	}
	if n.MQTT.Enabled && (n.MQTT.Broker == "" || n.MQTT.Topic == "") {
		errs = append(errs, configError("notification.mqtt", "broker and topic are required when enabled"))
	}
	if n.NATS.Enabled && (n.NATS.URL == "" || n.NATS.Subject == "") {
		errs = append(errs, configError("notification.nats", "url and subject are required when enabled"))
	}
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		errs = append(errs, configError("notification.webhook.url", "is required when enabled"))
	}
	return errs
}

func validSeverity(level string) bool {
	return slices.Contains(severityLevels, level)
}
