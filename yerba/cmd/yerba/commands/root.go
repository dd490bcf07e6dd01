package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/version"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/app"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
)

const (
	DefaultConfigDir = "$HOME/"
	ConfigFileName   = ".yerba"

	// DefaultMonitorURL pairs with a daemon started with
	// --monitor-addr 127.0.0.1:5152.
	DefaultMonitorURL = "http://127.0.0.1:5152"

	// RequestTimeout bounds every one-shot daemon request.
	RequestTimeout = time.Minute
)

var (
	defaultConfigFilePath = fmt.Sprintf("%s%s.yaml", DefaultConfigDir, ConfigFileName)
)

type GlobalConfig struct {
	Debug          bool
	JSON           bool
	ConfigFilePath string
}

var Global = &GlobalConfig{}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(
		&Global.ConfigFilePath,
		"config",
		"c",
		defaultConfigFilePath,
		"The config file to use when executing commands.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.Debug,
		"debug",
		"d",
		false,
		"Enable verbose debug output.")

	RootCmd.PersistentFlags().BoolVarP(
		&Global.JSON,
		"json",
		"j",
		false,
		"Print raw response documents as JSON.")

	RootCmd.PersistentFlags().StringP(
		"server",
		"s",
		app.DefaultListenAddr,
		"The address of the daemon's message socket.")

	RootCmd.PersistentFlags().String(
		"monitor",
		DefaultMonitorURL,
		"The base URL of the daemon's monitor API.")

	viper.BindPFlag("server", RootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("monitor", RootCmd.PersistentFlags().Lookup("monitor"))
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cli.Exit(RootCmd.Execute())
}

// initConfig reads in config file and ENV variables if set. The --server
// and --monitor flags resolve through viper, so YERBA_SERVER and
// YERBA_MONITOR or config file keys apply when the flags are not given.
func initConfig() {

	if Global.ConfigFilePath != "" && Global.ConfigFilePath != defaultConfigFilePath {
		viper.SetConfigFile(Global.ConfigFilePath)
	} else {
		viper.SetConfigName(ConfigFileName)
		viper.AddConfigPath(DefaultConfigDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("yerba")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	err := viper.ReadInConfig()
	if err == nil {
		Global.ConfigFilePath = viper.ConfigFileUsed()
		if Global.Debug {
			cli.Stderr.Printf("Using config file: %s", viper.ConfigFileUsed())
		}
	} else {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
		default:
			cli.Exit(fmt.Errorf("error loading config file (%s): %s", viper.ConfigFileUsed(), err))
		}
	}
}

var RootCmd = &cobra.Command{
	Use:     "yerba",
	Short:   "Yerba workflow client",
	Long:    `Yerba schedules and monitors workflows on a running yerbad daemon.`,
	Version: version.VersionToString(),
}

// ServerAddress is the resolved daemon socket address.
func ServerAddress() string {
	return viper.GetString("server")
}

// MonitorURL is the resolved base URL of the daemon's monitor API.
func MonitorURL() string {
	return viper.GetString("monitor")
}

// NewClient builds a message socket client for the configured daemon.
// Callers own the returned client and must Close it.
func NewClient() (*client.Client, error) {
	levels := logger.LogLevelConfig("")
	if Global.Debug {
		levels = "MessageClient=debug"
	}
	registry, err := logger.NewLogRegistry(levels)
	if err != nil {
		return nil, err
	}
	return client.NewClient(ServerAddress(), logger.MakeLogrusLogFactoryStdOut(registry)), nil
}

// ParseWorkflowID parses a workflow id command argument.
func ParseWorkflowID(arg string) (models.WorkflowID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("error: the workflow id must be an integer, got %q", arg)
	}
	return models.WorkflowID(id), nil
}

// StatusMessage renders the canonical sentence for a status name, falling
// back to the raw name if the daemon answered with one we do not know.
func StatusMessage(name string, id models.WorkflowID) string {
	status, err := models.ParseStatus(name)
	if err != nil {
		return name
	}
	return status.Message(id)
}

// JobField returns one field of a job state map as a string, or empty when
// the field is absent.
func JobField(job map[string]interface{}, key string) string {
	value, ok := job[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// JobLabel is the display name of a job in a status report.
func JobLabel(index int, job map[string]interface{}) string {
	if description := JobField(job, "description"); description != "" {
		return description
	}
	if cmd := JobField(job, "cmd"); cmd != "" {
		return cmd
	}
	return fmt.Sprintf("job %d", index+1)
}

// PrintDocument writes a response to stdout: the raw document under
// --json, otherwise the plain rendering.
func PrintDocument(doc interface{}, plain func() string) {
	if Global.JSON {
		PrintJSON(doc)
		return
	}
	cli.Stdout.Print(plain())
}

// PrintJSON writes a response document to stdout as indented JSON.
func PrintJSON(doc interface{}) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		cli.Exit(err)
	}
	cli.Stdout.Printf("%s", data)
}
