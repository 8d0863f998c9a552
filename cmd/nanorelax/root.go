package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd is the base command for the nanorelax CLI, the entry point for
// running the relaxation engine over a fixture and inspecting its output.
var RootCmd = &cobra.Command{
	Use:   "nanorelax",
	Short: "A standalone nanoMIPS link-time relaxation engine",
	Long: `nanorelax applies the nanoMIPS relax/expand transform loop to a
LINKRELAX-eligible section without a full ELF linker driver attached,
for experimentation and regression testing of the relaxation rules
themselves.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to happen
// once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nanorelax.yaml)")
	RootCmd.AddCommand(relaxCmd, dumpCmd)
	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".nanorelax")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
