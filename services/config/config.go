package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bmscode-go/errcode"
)

// MaxSettle bounds the one blocking wait the controller performs.
const MaxSettle = time.Second

// EmbeddedConfigLookup allows overriding how board configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Config is the full controller configuration.
type Config struct {
	Board            string `yaml:"board"`
	TickMS           int    `yaml:"tick_ms"`
	SettleMS         int    `yaml:"settle_ms"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
	WatchdogMS       int    `yaml:"watchdog_ms,omitempty"`
	SelfTransitions  bool   `yaml:"self_transitions"`

	CAN        CAN        `yaml:"can"`
	Contactors Contactors `yaml:"contactors"`
	AFE        AFE        `yaml:"afe"`
	Thresholds Thresholds `yaml:"thresholds"`
	Limits     Limits     `yaml:"limits"`
	SOC        SOC        `yaml:"soc"`
	Thermistor Thermistor `yaml:"thermistor"`
	Link       Link       `yaml:"link"`
}

type CAN struct {
	SOEID     uint32 `yaml:"soe_id"`
	FaultID   uint32 `yaml:"fault_id"`
	StatusID  uint32 `yaml:"status_id"`
	CommandID uint32 `yaml:"command_id"`
}

type Contactors struct {
	NegativePin  int  `yaml:"negative_pin"`
	PositivePin  int  `yaml:"positive_pin"`
	PrechargePin int  `yaml:"precharge_pin"`
	ActiveLow    bool `yaml:"active_low"`
}

type AFE struct {
	ICCount          int    `yaml:"ic_count"`
	CellsPerIC       int    `yaml:"cells_per_ic"`
	ThermistorsPerIC int    `yaml:"thermistors_per_ic"`
	OpenWireEvery    int    `yaml:"open_wire_every"`
	SPISCKPin        int    `yaml:"spi_sck_pin,omitempty"`
	SPISDOPin        int    `yaml:"spi_sdo_pin,omitempty"`
	SPISDIPin        int    `yaml:"spi_sdi_pin,omitempty"`
	SPICSPin         int    `yaml:"spi_cs_pin,omitempty"`
	SPIHz            uint32 `yaml:"spi_hz,omitempty"`
}

// Thresholds are the fault limits handed to the threshold monitor.
type Thresholds struct {
	OvervoltageV    float64 `yaml:"overvoltage_v"`
	UndervoltageV   float64 `yaml:"undervoltage_v"`
	OvertempC       float64 `yaml:"overtemp_c"`
	UndertempC      float64 `yaml:"undertemp_c"`
	OvercurrentA    float64 `yaml:"overcurrent_a"`
	OpenWireCellMV  int     `yaml:"open_wire_cell_mv"`
	OpenWireAuxMV   int     `yaml:"open_wire_aux_mv"`
	OpenWireDeltaMV int     `yaml:"open_wire_delta_mv"`
}

type Limits struct {
	MaxDischargeA float64 `yaml:"max_discharge_a"`
	MaxRegenA     float64 `yaml:"max_regen_a"`
	MaxChargeA    float64 `yaml:"max_charge_a"`
}

type SOC struct {
	EmptyMV uint16 `yaml:"empty_mv"`
	FullMV  uint16 `yaml:"full_mv"`
}

type Thermistor struct {
	Beta      float64 `yaml:"beta"`
	R25Ohm    float64 `yaml:"r25_ohm"`
	PullupOhm float64 `yaml:"pullup_ohm"`
	VrefV     float64 `yaml:"vref_v"`
}

type Link struct {
	Baud  uint32 `yaml:"baud"`
	TxPin int    `yaml:"tx_pin"`
	RxPin int    `yaml:"rx_pin"`
}

// Tick returns the tick period.
func (c Config) Tick() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

// Settle returns the Active-entry settle delay.
func (c Config) Settle() time.Duration { return time.Duration(c.SettleMS) * time.Millisecond }

// Watchdog returns the watchdog timeout. Unset, it is the larger of eight
// ticks and the settle plus two ticks, since Active entry holds one tick open
// for the whole settle.
func (c Config) Watchdog() time.Duration {
	if c.WatchdogMS > 0 {
		return time.Duration(c.WatchdogMS) * time.Millisecond
	}
	return max(8*c.Tick(), c.minWatchdog())
}

// minWatchdog is the longest gap between two feeds: the settle inside one tick
// plus the tick on either side of it.
func (c Config) minWatchdog() time.Duration { return c.Settle() + 2*c.Tick() }

// CommandTimeout returns how long command-frame silence is tolerated.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// Default returns the embedded configuration for board.
func Default(board string) (Config, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return Config{}, errcode.New(errcode.InvalidParams, "config", "no embedded config for board: "+board)
	}
	var c Config
	if err := decode(raw, &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Load returns the embedded config for board with overrides applied on top.
// Fields absent from the overrides keep their embedded values.
func Load(board string, overrides []byte) (Config, error) {
	c, err := Default(board)
	if err != nil {
		return Config{}, err
	}
	if len(bytes.TrimSpace(overrides)) == 0 {
		return c, nil
	}
	if err := decode(overrides, &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// LoadFile is Load with the overrides read from path. An empty path means
// no overrides.
func LoadFile(board, path string) (Config, error) {
	if path == "" {
		return Default(board)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Load(board, raw)
}

func decode(raw []byte, into *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil {
		return errcode.Wrap(errcode.InvalidParams, "config", err)
	}
	return nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks ranges the controller relies on.
func (c Config) Validate() error {
	var errs []error
	if c.TickMS <= 0 {
		errs = append(errs, errors.New("tick_ms must be positive"))
	}
	if c.SettleMS < 0 || c.Settle() > MaxSettle {
		errs = append(errs, fmt.Errorf("settle_ms must be within 0..%d", MaxSettle.Milliseconds()))
	}
	if c.WatchdogMS < 0 {
		errs = append(errs, errors.New("watchdog_ms must not be negative"))
	} else if c.WatchdogMS > 0 && c.Watchdog() < c.minWatchdog() {
		errs = append(errs, fmt.Errorf("watchdog_ms must be at least settle_ms + 2*tick_ms (%d)", c.minWatchdog().Milliseconds()))
	}
	if c.CommandTimeoutMS < 0 {
		errs = append(errs, errors.New("command_timeout_ms must not be negative"))
	}
	ids := map[uint32]string{}
	for name, id := range map[string]uint32{
		"soe_id": c.CAN.SOEID, "fault_id": c.CAN.FaultID,
		"status_id": c.CAN.StatusID, "command_id": c.CAN.CommandID,
	} {
		if id > 0x7FF {
			errs = append(errs, fmt.Errorf("can.%s %#x is not an 11-bit identifier", name, id))
		}
		if other, dup := ids[id]; dup {
			errs = append(errs, fmt.Errorf("can.%s duplicates can.%s", name, other))
		}
		ids[id] = name
	}
	p := c.Contactors
	if p.NegativePin == p.PositivePin || p.NegativePin == p.PrechargePin || p.PositivePin == p.PrechargePin {
		errs = append(errs, errors.New("contactor pins must be distinct"))
	}
	if c.AFE.ICCount <= 0 || c.AFE.CellsPerIC <= 0 || c.AFE.CellsPerIC > 16 {
		errs = append(errs, errors.New("afe: ic_count must be positive and cells_per_ic within 1..16"))
	}
	if c.AFE.ThermistorsPerIC < 0 || c.AFE.ThermistorsPerIC > 10 {
		errs = append(errs, errors.New("afe: thermistors_per_ic must be within 0..10"))
	}
	if c.AFE.OpenWireEvery < 0 {
		errs = append(errs, errors.New("afe: open_wire_every must not be negative"))
	}
	t := c.Thresholds
	if c.AFE.OpenWireEvery > 0 && t.OpenWireDeltaMV <= 0 {
		errs = append(errs, errors.New("thresholds: open_wire_delta_mv must be positive when open-wire checks run"))
	}
	if t.UndervoltageV >= t.OvervoltageV {
		errs = append(errs, errors.New("thresholds: undervoltage_v must be below overvoltage_v"))
	}
	if t.UndertempC >= t.OvertempC {
		errs = append(errs, errors.New("thresholds: undertemp_c must be below overtemp_c"))
	}
	if c.Limits.MaxDischargeA < 0 || c.Limits.MaxRegenA < 0 || c.Limits.MaxChargeA < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.SOC.EmptyMV >= c.SOC.FullMV {
		errs = append(errs, errors.New("soc: empty_mv must be below full_mv"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errcode.Wrap(errcode.InvalidParams, "config", errors.Join(errs...))
}

// Boards lists the embedded board names.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	return out
}
