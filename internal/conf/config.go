// conf/config.go settings structure and loading
package conf

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// Database engine names
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// Settings is the root configuration
type Settings struct {
	Debug bool // true to enable debug mode

	Logging   logger.LoggingConfig // logging outputs and levels
	Database  DatabaseSettings     // relational store
	Workspace WorkspaceSettings    // on-disk layout for datasets, runs, archives and backups
	Training  TrainingSettings     // trainer and evaluator capabilities
	Models    []ModelSettings      // model types and their live weights
	WebServer WebServerSettings    // trigger interface
	Notify    NotifySettings       // run outcome notifications
	Sentry    SentrySettings       // error telemetry
}

// DatabaseSettings selects and configures the relational store
type DatabaseSettings struct {
	Type   string         // sqlite or mysql
	SQLite SQLiteSettings // sqlite database settings
	MySQL  MySQLSettings  // mysql database settings
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Path string // path to sqlite database
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// WorkspaceSettings defines where pipeline artifacts live on disk
type WorkspaceSettings struct {
	Root         string // per-type dataset workspaces, <root>/<type>/{images,labels}
	Runs         string // trainer working directories, <runs>/<type>/<run>
	Archive      string // rejected runs, <archive>/<type>/<run>
	Backups      string // weights snapshots, <backups>/<type>/<stem>_<timestamp><ext>
	UploadsRoot  string // base directory for relative image paths stored in the database
	MinFreeBytes uint64 // refuse to copy when the destination filesystem has less free space
}

// CommandSettings describes an external command. Args are text/template strings.
type CommandSettings struct {
	Path string
	Args []string
	Env  []string
}

// TrainingSettings configures the trainer and evaluator capabilities
type TrainingSettings struct {
	Epochs             int             // fixed epoch budget handed to the trainer
	WeightsGlob        string          // location of produced weights relative to the run directory
	EvaluationParallel int             // concurrent evaluator invocations per run
	Trainer            CommandSettings // trainer command
	Evaluator          CommandSettings // evaluator command
}

// ModelSettings describes one model type. Kept as a list because viper
// lower-cases map keys and type names are case sensitive.
type ModelSettings struct {
	Name    string // model type, e.g. "Object"
	Weights string // live weights path
	Runs    string // run name prefix, defaults to the lower-case type name
}

// WebServerSettings configures the HTTP trigger interface
type WebServerSettings struct {
	Enabled   bool
	Listen    string  // listen address, e.g. ":8080"
	RateLimit float64 // requests per second per client on trigger routes, 0 disables
	CacheTTL  int     // run history cache ttl in seconds
}

// MQTTSettings configures the MQTT outcome publisher
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	Username string
	Password string
	ClientID string
	QoS      byte
	Retain   bool
}

// NotifySettings configures run outcome notifications
type NotifySettings struct {
	MQTT MQTTSettings
	URLs []string // shoutrrr service URLs
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// ModelTypes returns the configured model type names, sorted
func (s *Settings) ModelTypes() []string {
	types := make([]string, 0, len(s.Models))
	for i := range s.Models {
		types = append(types, s.Models[i].Name)
	}
	sort.Strings(types)
	return types
}

// Model returns the settings for a model type
func (s *Settings) Model(name string) (ModelSettings, bool) {
	for i := range s.Models {
		if s.Models[i].Name == name {
			return s.Models[i], true
		}
	}
	return ModelSettings{}, false
}

// RunPrefix returns the run name prefix for the model type
func (m ModelSettings) RunPrefix() string {
	if m.Runs != "" {
		return m.Runs
	}
	return strings.ToLower(m.Name)
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// configFile may be empty, in which case the default search paths are used
// and a missing file is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration", logger.Error(err))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("reading config file %s: %w", configFile, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Info("no config file found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Info("configuration loaded", logger.String("path", v.ConfigFileUsed()))
	return nil
}

// Setting returns the last loaded settings, or nil if Load has not run
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
