package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps a bare environment variable onto a config key.
type envBinding struct {
	ConfigKey string
	EnvVar    string
}

// getEnvBindings returns variables that predate the SAFETYVISION_ prefix and
// are still honoured by deployments.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"database.sqlite.path", "DATABASE_PATH"},
		{"log.level", "LOG_LEVEL"},
		{"sentry.dsn", "SENTRY_DSN"},
		{"notification.mqtt.broker", "MQTT_BROKER"},
		{"notification.nats.url", "NATS_URL"},
	}
}

func bindEnvVars(v *viper.Viper) error {
	for _, b := range getEnvBindings() {
		// The prefixed key stays first so it wins over the legacy name.
		prefixed := EnvPrefix + "_" + envKey(b.ConfigKey)
		if err := v.BindEnv(b.ConfigKey, prefixed, b.EnvVar); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b.EnvVar, err)
		}
	}
	return nil
}

func envKey(configKey string) string {
	return strings.ToUpper(strings.ReplaceAll(configKey, ".", "_"))
}

// applyLegacyEnv turns TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID into a shoutrrr
// telegram URL so existing bot deployments keep receiving alerts.
func applyLegacyEnv(s *Settings) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatID == "" {
		return
	}
	telegramURL := TelegramURL(token, chatID)
	if !slices.Contains(s.Notification.Shoutrrr.URLs, telegramURL) {
		s.Notification.Shoutrrr.URLs = append(s.Notification.Shoutrrr.URLs, telegramURL)
	}
}

// TelegramURL builds a shoutrrr telegram service URL.
func TelegramURL(token, chatID string) string {
	return fmt.Sprintf("telegram://%s@telegram?chats=%s", token, url.QueryEscape(chatID))
}
