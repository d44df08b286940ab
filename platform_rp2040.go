//go:build rp2040

package main

import (
	"context"
	"machine"
	"time"

	"github.com/rs/zerolog"

	"bmscode-go/drivers/adbms6830"
	"bmscode-go/services/config"
	"bmscode-go/services/hal"
)

const boardName = "pico"

func baseContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func fallbackLogger() zerolog.Logger {
	return zerolog.New(machine.Serial).With().Timestamp().Logger()
}

// halt parks after a fatal error; the watchdog, if armed, resets the board.
func halt() {
	for {
		time.Sleep(time.Second)
	}
}

func openPlatform(cfg config.Config) (platform, error) {
	// Allow USB CDC to enumerate before logging.
	time.Sleep(2 * time.Second)
	p := platform{pins: hal.DefaultPinFactory(), log: fallbackLogger()}

	spi, cs, err := hal.OpenAFE(cfg.AFE)
	if err != nil {
		return p, err
	}
	dev := adbms6830.New(spi, cs)
	if err := dev.Configure(adbms6830.Config{
		ICs:           cfg.AFE.ICCount,
		UndervoltageV: cfg.Thresholds.UndervoltageV,
		OvervoltageV:  cfg.Thresholds.OvervoltageV,
	}); err != nil {
		return p, err
	}
	p.monitor = dev

	port, err := hal.OpenLink(cfg.Link)
	if err != nil {
		return p, err
	}
	p.port = port

	wd, err := hal.StartWatchdog(uint32(cfg.Watchdog().Milliseconds()))
	if err != nil {
		return p, err
	}
	p.watchdog = wd
	return p, nil
}
