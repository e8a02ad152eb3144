package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pennylab/penny/cfg"
	"github.com/pennylab/penny/cmd/internal/cmderr"
	"github.com/pennylab/penny/cmd/internal/montecarlo"
	"github.com/pennylab/penny/cmd/internal/run"
	"github.com/pennylab/penny/printer"
	"github.com/pennylab/penny/util"
	"github.com/pennylab/penny/version"
)

var (
	debugFlag  bool
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:           "penny",
	Short:         "Distinguish closed-loop traffic from spoofed, open-loop traffic by deliberate packet drops.",
	Long:          "penny watches TCP flows, deliberately drops a sample of packets, and classifies each flow (and the traffic as a whole) as closed-loop or spoofed based on whether the drops get retransmitted.",
	Version:       version.CLIDisplayString(),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		if _, isRunErr := err.(cmderr.RunErr); !isRunErr {
			cmd.Println(cmd.UsageString())
		}

		exitCode := 1
		var exitErr util.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode
		}
		printer.Stderr.Errorf("%s\n", err)
		os.Exit(exitCode)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Output detailed information for debugging")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a penny config file (default $HOME/.penny/config.yaml)")

	rootCmd.AddCommand(run.Cmd)
	rootCmd.AddCommand(montecarlo.Cmd)
}

// initConfig loads penny's persistent configuration, the way
// cfg/dir.go/viper are wired in the teacher's cmd/root.go: an explicit
// --config path takes precedence, otherwise the resolved config directory's
// config.yaml is read if present. A missing file is not an error -
// viper.SetDefault values (registered by the params package) still apply.
func initConfig() {
	if configFlag != "" {
		viper.SetConfigFile(configFlag)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(cfg.Dir())
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			printer.Warningf("failed to read config file: %v\n", err)
		}
	} else {
		printer.Debugf("using config file %s\n", viper.ConfigFileUsed())
	}
}
