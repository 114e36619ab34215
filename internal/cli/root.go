// Package cli defines the lecture-capture command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"lecture-capture-service/internal/config"
)

// Options are flags shared by every command.
type Options struct {
	ConfigFile string
}

// NewRootCmd builds the root command.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:           "lecture-capture",
		Short:         "Record lectures, transcribe them and generate notes",
		Long:          "Lecture capture service: drives browser and native recorders over WebSocket, stores the audio, transcribes it and turns the transcript into study notes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", os.Getenv("CONFIG_FILE"), "TOML configuration file (env vars override it)")

	rootCmd.AddCommand(NewServeCmd(opts))
	rootCmd.AddCommand(NewProcessCmd(opts))

	return rootCmd
}

func (o *Options) load() (*config.Configuration, error) {
	return config.LoadFile(o.ConfigFile)
}
