// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// Default values shared with other packages
const (
	DefaultEpochs       = 50
	DefaultWeightsGlob  = "weights/best.pt"
	DefaultMinFreeBytes = 256 << 20
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/bbd-server.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.sqlite.path", "database.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")

	v.SetDefault("workspace.root", "training_data")
	v.SetDefault("workspace.runs", "runs")
	v.SetDefault("workspace.archive", "was_not_worth_it")
	v.SetDefault("workspace.backups", "models_backup")
	v.SetDefault("workspace.uploadsroot", ".")
	v.SetDefault("workspace.minfreebytes", DefaultMinFreeBytes)

	v.SetDefault("training.epochs", DefaultEpochs)
	v.SetDefault("training.weightsglob", DefaultWeightsGlob)
	v.SetDefault("training.evaluationparallel", 2)
	v.SetDefault("training.trainer.path", "yolo")
	v.SetDefault("training.trainer.args", []string{
		"detect", "train",
		"model={{.BaseWeights}}",
		"data={{.Manifest}}",
		"epochs={{.Epochs}}",
		"project={{.ProjectDir}}",
		"name={{.RunName}}",
	})
	v.SetDefault("training.evaluator.path", "bbd-evaluate")
	v.SetDefault("training.evaluator.args", []string{
		"--weights", "{{.Weights}}",
		"--data", "{{.Manifest}}",
		"--metric", "map50",
	})

	v.SetDefault("models", []map[string]any{
		{"name": "Object", "weights": "models/object.pt", "runs": "object"},
		{"name": "Money", "weights": "models/money.pt", "runs": "money"},
	})

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.ratelimit", 1.0)
	v.SetDefault("webserver.cachettl", 30)

	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.topic", "bbd/training")
	v.SetDefault("notify.mqtt.clientid", "bbd-server")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)
}

// newDefaultViper returns a viper instance carrying only the defaults.
func newDefaultViper() *viper.Viper {
	v := viper.New()
	setDefaultConfig(v)
	return v
}
