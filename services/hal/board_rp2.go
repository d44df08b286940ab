//go:build rp2040

package hal

import (
	"context"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"bmscode-go/drivers/adbms6830"
	"bmscode-go/errcode"
	"bmscode-go/services/config"
)

// OpenAFE configures SPI0 for the isoSPI bridge and returns the bus with its
// chip-select line.
func OpenAFE(cfg config.AFE) (drivers.SPI, adbms6830.ChipSelect, error) {
	hz := cfg.SPIHz
	if hz == 0 {
		hz = 1 * machine.MHz
	}
	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: hz,
		SCK:       machine.Pin(cfg.SPISCKPin),
		SDO:       machine.Pin(cfg.SPISDOPin),
		SDI:       machine.Pin(cfg.SPISDIPin),
		Mode:      0,
	}); err != nil {
		return nil, nil, errcode.Wrap(errcode.Error, "hal.spi", err)
	}
	cs := machine.Pin(cfg.SPICSPin)
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()
	return spi, func(selected bool) { cs.Set(!selected) }, nil
}

// SerialPort adapts a uartx UART to the link's byte stream.
type SerialPort struct{ u *uartx.UART }

func (p *SerialPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *SerialPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}

// OpenLink configures UART0 on the configured pins.
func OpenLink(cfg config.Link) (*SerialPort, error) {
	hw := uartx.UART0
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: cfg.Baud,
		TX:       machine.Pin(cfg.TxPin),
		RX:       machine.Pin(cfg.RxPin),
	}); err != nil {
		return nil, errcode.Wrap(errcode.Error, "hal.uart", err)
	}
	return &SerialPort{u: hw}, nil
}

// Watchdog arms the hardware watchdog; Feed must be called within timeoutMs.
type Watchdog struct{}

func StartWatchdog(timeoutMs uint32) (Watchdog, error) {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: timeoutMs}); err != nil {
		return Watchdog{}, errcode.Wrap(errcode.Error, "hal.watchdog", err)
	}
	if err := machine.Watchdog.Start(); err != nil {
		return Watchdog{}, errcode.Wrap(errcode.Error, "hal.watchdog", err)
	}
	return Watchdog{}, nil
}

func (Watchdog) Feed() { machine.Watchdog.Update() }
