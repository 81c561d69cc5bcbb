// Package cmd wires the agrialert command line.
package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
}

// RootCommand builds the agrialert command tree.
func RootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "agrialert",
		Short:         "Threshold alerting for farm sensor snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: config.yaml in ., ~/.config/agrialert, /etc/agrialert)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		serveCommand(opts),
		rulesCommand(opts),
		simulateCommand(opts),
		versionCommand(),
	)
	return root
}

// load reads settings and builds a logger writing to w. Commands whose
// stdout carries data log to stderr instead.
func (o *rootOptions) load(w io.Writer) (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.Log.Level = o.logLevel
	}
	return settings, newLogger(w, &settings.Log), nil
}

func newLogger(w io.Writer, s *conf.LogSettings) logger.Logger {
	level := logger.ParseLevel(s.Level)
	if s.Format == "text" {
		return logger.NewTextLogger(w, level, s.Location())
	}
	return logger.NewSlogLogger(w, level, s.Location())
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("agrialert " + Version)
		},
	}
}
