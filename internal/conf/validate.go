// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWorkspaceSettings(&settings.Workspace); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateTrainingSettings(&settings.Training); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateModelSettings(settings.Models); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateNotifySettings(&settings.Notify); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(settings *DatabaseSettings) error {
	switch settings.Type {
	case DatabaseSQLite:
		if settings.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DatabaseMySQL:
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return fmt.Errorf("database.mysql host and database are required")
		}
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", DatabaseSQLite, DatabaseMySQL, settings.Type)
	}
	return nil
}

func validateWorkspaceSettings(settings *WorkspaceSettings) error {
	var errs []string
	for name, dir := range map[string]string{
		"root":        settings.Root,
		"runs":        settings.Runs,
		"archive":     settings.Archive,
		"backups":     settings.Backups,
		"uploadsroot": settings.UploadsRoot,
	} {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, fmt.Sprintf("workspace.%s must be set", name))
		}
	}
	if settings.UploadsRoot != "" {
		if info, err := os.Stat(settings.UploadsRoot); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Sprintf("workspace.uploadsroot %q is not a directory", settings.UploadsRoot))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("workspace settings errors: %v", errs)
	}
	return nil
}

func validateTrainingSettings(settings *TrainingSettings) error {
	var errs []string

	if settings.Epochs < 1 {
		errs = append(errs, "training.epochs must be at least 1")
	}
	if settings.EvaluationParallel < 1 {
		errs = append(errs, "training.evaluationparallel must be at least 1")
	}
	if settings.Trainer.Path == "" {
		errs = append(errs, "training.trainer.path must be set")
	}
	if settings.Evaluator.Path == "" {
		errs = append(errs, "training.evaluator.path must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("training settings errors: %v", errs)
	}
	return nil
}

func validateModelSettings(models []ModelSettings) error {
	if len(models) == 0 {
		return fmt.Errorf("at least one model type must be configured")
	}

	var errs []string
	seen := make(map[string]bool, len(models))
	for _, model := range models {
		name := model.Name
		switch {
		case name == "":
			errs = append(errs, "model type name must be set")
			continue
		case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
			errs = append(errs, fmt.Sprintf("model type %q is not a valid directory name", name))
		case seen[name]:
			errs = append(errs, fmt.Sprintf("model type %q is configured twice", name))
		}
		seen[name] = true
		if model.Weights == "" {
			errs = append(errs, fmt.Sprintf("models.%s.weights must be set", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("model settings errors: %v", errs)
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver.listen %q is not a valid address: %w", settings.Listen, err)
	}
	if settings.RateLimit < 0 {
		return fmt.Errorf("webserver.ratelimit cannot be negative")
	}
	return nil
}

func validateNotifySettings(settings *NotifySettings) error {
	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			return fmt.Errorf("notify.mqtt.broker is required when mqtt is enabled")
		}
		if settings.MQTT.QoS > 2 {
			return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}
