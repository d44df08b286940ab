// Firmware entry: the contactor controller ticking on the board's clock with
// SLCAN telemetry on the link port.
package main

import (
	"context"

	"github.com/rs/zerolog"

	"bmscode-go/bus"
	"bmscode-go/services/bms"
	"bmscode-go/services/canlink"
	"bmscode-go/services/config"
	"bmscode-go/services/hal"
	"bmscode-go/services/ticker"
)

// platform is what a board supplies to the controller.
type platform struct {
	pins     hal.PinFactory
	monitor  bms.CellMonitor
	port     canlink.Port
	watchdog bms.Watchdog
	charger  bms.Charger
	current  func() float64
	log      zerolog.Logger
}

func main() {
	ctx, cancel := baseContext()
	defer cancel()

	p, cfg, err := boot()
	if err != nil {
		p.log.Error().Err(err).Msg("boot failed")
		halt()
		return
	}
	if err := run(ctx, cfg, p); err != nil {
		p.log.Error().Err(err).Msg("controller stopped")
		halt()
	}
}

func boot() (platform, config.Config, error) {
	cfg, err := config.Default(boardName)
	if err != nil {
		return platform{log: fallbackLogger()}, cfg, err
	}
	p, err := openPlatform(cfg)
	return p, cfg, err
}

func run(ctx context.Context, cfg config.Config, p platform) error {
	log := p.log
	bank, err := hal.NewContactorBank(p.pins, cfg.Contactors)
	if err != nil {
		return err
	}

	opts := []bms.AFEOption{}
	if p.current != nil {
		opts = append(opts, bms.WithCurrentSensor(p.current))
	}
	b := bus.NewBus(16)
	deps := bms.Deps{
		Contactors: bank,
		FrontEnd:   bms.NewAFE(p.monitor, cfg, opts...),
		Transport:  b.NewConnection("bms"),
		Charger:    p.charger,
		Watchdog:   p.watchdog,
	}
	ctrl, err := bms.New(cfg, deps, bms.WithLogger(log.With().Str("svc", "bms").Logger()))
	if err != nil {
		return err
	}
	defer ctrl.Shutdown()

	link := canlink.New(
		func(context.Context) (canlink.Port, error) { return p.port, nil },
		b.NewConnection("canlink"),
		ctrl.Receive,
		canlink.WithLogger(log.With().Str("svc", "canlink").Logger()),
		canlink.WithTxIDs(cfg.CAN.SOEID, cfg.CAN.FaultID, cfg.CAN.StatusID),
	)
	tk, err := ticker.New(cfg.Tick(), ctrl.Tick, log.With().Str("svc", "ticker").Logger())
	if err != nil {
		return err
	}

	go func() {
		if err := link.Run(ctx); err != nil {
			log.Error().Err(err).Msg("link stopped")
		}
	}()
	log.Info().Str("board", cfg.Board).Dur("tick", cfg.Tick()).Msg("controller running")
	tk.Run(ctx)
	return nil
}
