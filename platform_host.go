//go:build !rp2040

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"bmscode-go/services/canlink"
	"bmscode-go/services/config"
	"bmscode-go/services/hal"
	"bmscode-go/services/sim"
)

const boardName = "host"

func baseContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// Logs go to stderr; stdout carries the SLCAN link.
func fallbackLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func halt() { os.Exit(1) }

func openPlatform(cfg config.Config) (platform, error) {
	pack := sim.NewPack(cfg)
	return platform{
		pins:    hal.DefaultPinFactory(),
		monitor: pack,
		port:    canlink.NewStreamPort(os.Stdin, os.Stdout),
		charger: sim.NewCharger(pack, cfg.Limits.MaxChargeA),
		current: pack.Current,
		log:     fallbackLogger(),
	}, nil
}
