package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
)

var _rootCmdOpts struct {
	cfgFile   string
	stateFile string
	debug     bool
}

var rootCmd = &cobra.Command{
	Use:   "smartthings-appliances",
	Short: "Bridge vendor cloud appliances into a Smartthings hub",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _rootCmdOpts.debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		return logging.Configure(viper.GetViper())
	},

	SilenceUsage: true,
}

// Execute runs the requested sub-command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.cfgFile, "config", "", "config file (default ~/.smartthings-appliances/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.stateFile, "state-file", "", "installation state file (default ~/.smartthings-appliances/state.json)")
	rootCmd.PersistentFlags().BoolVar(&_rootCmdOpts.debug, "debug", false, "enable debug logging")

	errPanic(viper.GetViper().BindPFlag("state.file", rootCmd.PersistentFlags().Lookup("state-file")))
	errPanic(viper.GetViper().BindPFlag("logging.debug", rootCmd.PersistentFlags().Lookup("debug")))
}

func initConfig() {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "finding home directory: %v\n", err)
		os.Exit(1)
	}

	configDir := filepath.Join(home, ".smartthings-appliances")
	viper.SetDefault("state.file", filepath.Join(configDir, "state.json"))

	if _rootCmdOpts.cfgFile != "" {
		viper.SetConfigFile(_rootCmdOpts.cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("STA")
	viper.AutomaticEnv()

	// a missing config file is fine, we run from flags and defaults
	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("Using config file %s", viper.ConfigFileUsed())
	}
}

func stateFileName() string {
	return viper.GetString("state.file")
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}
