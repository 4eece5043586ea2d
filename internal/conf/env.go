// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "BBD"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BBD_DEBUG", validateEnvBool},

		{"database.type", "BBD_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "BBD_DATABASE_SQLITE_PATH", nil},
		{"database.mysql.host", "BBD_DATABASE_MYSQL_HOST", nil},
		{"database.mysql.port", "BBD_DATABASE_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "BBD_DATABASE_MYSQL_USERNAME", nil},
		{"database.mysql.password", "BBD_DATABASE_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "BBD_DATABASE_MYSQL_DATABASE", nil},

		{"workspace.root", "BBD_WORKSPACE_ROOT", nil},
		{"workspace.uploadsroot", "BBD_WORKSPACE_UPLOADSROOT", nil},
		{"training.epochs", "BBD_TRAINING_EPOCHS", validateEnvPositiveInt},

		{"webserver.listen", "BBD_WEBSERVER_LISTEN", nil},
		{"sentry.dsn", "BBD_SENTRY_DSN", nil},
		{"notify.mqtt.broker", "BBD_NOTIFY_MQTT_BROKER", nil},
		{"notify.mqtt.password", "BBD_NOTIFY_MQTT_PASSWORD", nil},
	}
}

func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s'", value)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch value {
	case DatabaseSQLite, DatabaseMySQL:
		return nil
	default:
		return fmt.Errorf("database type must be %q or %q", DatabaseSQLite, DatabaseMySQL)
	}
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}
