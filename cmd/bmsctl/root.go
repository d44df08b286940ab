package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bmscode-go/services/config"
)

type globalFlags struct {
	board    string
	cfgPath  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "bmsctl",
		Short:        "Battery controller simulation and CAN frame tools",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&g.board, "board", "b", "host", "embedded board configuration to start from")
	root.PersistentFlags().StringVarP(&g.cfgPath, "config", "c", "", "YAML file with overrides for the board configuration")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newEncodeCmd(g))
	root.AddCommand(newDecodeCmd(g))
	root.AddCommand(newConfigCmd(g))
	return root
}

func (g *globalFlags) load() (config.Config, error) {
	return config.LoadFile(g.board, g.cfgPath)
}

// logger writes human-readable logs to w at the configured level.
func (g *globalFlags) logger(w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(g.logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}).Level(lvl).With().Timestamp().Logger()
}
