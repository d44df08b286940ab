package bms

import (
	"bmscode-go/canframe"
	"bmscode-go/services/config"
)

// Message names in the catalog.
const (
	MsgSOE     = "soe"
	MsgFault   = "fault"
	MsgStatus  = "status"
	MsgCommand = "command"
)

// SOESchema: discharge/regen limits, pack voltage, temperature and current.
var SOESchema = canframe.MustSchema(
	canframe.Signal{Name: "max_discharge_a", Start: 0, Length: 12, Scale: 0.1},
	canframe.Signal{Name: "max_regen_a", Start: 12, Length: 12, Scale: 0.1},
	canframe.Signal{Name: "battery_voltage_v", Start: 24, Length: 16, Scale: 0.01},
	canframe.Signal{Name: "battery_temperature_c", Start: 40, Length: 8, Scale: 1, Offset: -40},
	canframe.Signal{Name: "battery_current_a", Start: 48, Length: 16, Scale: 0.01},
)

// FaultSchema: one bit per flag, summary first.
var FaultSchema = canframe.MustSchema(
	flag("summary", 0),
	flag("undervoltage", 1),
	flag("overvoltage", 2),
	flag("undertemperature", 3),
	flag("overtemperature", 4),
	flag("overcurrent", 5),
	flag("external_kill", 6),
	flag("open_wire", 7),
)

// StatusSchema: controller state, IMD state and 8-bit pack extremes.
var StatusSchema = canframe.MustSchema(
	canframe.Signal{Name: "state", Start: 0, Length: 8, Scale: 1},
	canframe.Signal{Name: "imd_state", Start: 8, Length: 8, Scale: 1},
	canframe.Signal{Name: "max_cell_temp_c", Start: 16, Length: 8, Scale: 1, Offset: -40},
	canframe.Signal{Name: "min_cell_temp_c", Start: 24, Length: 8, Scale: 1, Offset: -40},
	canframe.Signal{Name: "max_cell_v", Start: 32, Length: 8, Scale: 0.012, Offset: 2},
	canframe.Signal{Name: "min_cell_v", Start: 40, Length: 8, Scale: 0.012, Offset: 2},
	canframe.Signal{Name: "soc_pct", Start: 48, Length: 8, Scale: 0.5},
)

// CommandSchema is the inbound request frame from the ECU or charger.
var CommandSchema = canframe.MustSchema(
	flag("start_precharge", 0),
	flag("precharge_complete", 1),
	flag("charge_request", 2),
	flag("return_to_idle", 3),
	flag("external_kill", 4),
)

func flag(name string, bit uint8) canframe.Signal {
	return canframe.Signal{Name: name, Start: bit, Length: 1, Scale: 1}
}

// NewCatalog binds the four schemas to the configured identifiers.
func NewCatalog(ids config.CAN) (*canframe.Catalog, error) {
	return canframe.NewCatalog(
		canframe.Message{ID: ids.SOEID, Name: MsgSOE, Schema: SOESchema},
		canframe.Message{ID: ids.FaultID, Name: MsgFault, Schema: FaultSchema},
		canframe.Message{ID: ids.StatusID, Name: MsgStatus, Schema: StatusSchema},
		canframe.Message{ID: ids.CommandID, Name: MsgCommand, Schema: CommandSchema},
	)
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// encoder owns scratch space so a tick encodes without allocating.
type encoder struct {
	soe    [5]int64
	fault  [8]int64
	status [7]int64
	cmd    [5]int64
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func quantize(s *canframe.Schema, dst []int64, physical ...float64) {
	for i, p := range physical {
		dst[i] = s.Signal(i).Quantize(p)
	}
}

func (x *encoder) encodeSOE(c *Context) (canframe.Frame, error) {
	quantize(SOESchema, x.soe[:],
		c.SOE.MaxDischargeA,
		c.SOE.MaxRegenA,
		c.Meas.PackV,
		c.Meas.TempMaxC,
		c.Meas.CurrentA,
	)
	return SOESchema.Encode(x.soe[:])
}

func (x *encoder) encodeFault(f Faults) (canframe.Frame, error) {
	x.fault = [8]int64{
		b2i(f.Any()),
		b2i(f.Undervoltage),
		b2i(f.Overvoltage),
		b2i(f.Undertemp),
		b2i(f.Overtemp),
		b2i(f.Overcurrent),
		b2i(f.ExternalKill),
		b2i(f.OpenWire),
	}
	return FaultSchema.Encode(x.fault[:])
}

func (x *encoder) encodeStatus(state int, m Measurements) (canframe.Frame, error) {
	quantize(StatusSchema, x.status[:],
		float64(state),
		float64(m.IMD),
		m.TempMaxC,
		m.TempMinC,
		m.CellMaxV,
		m.CellMinV,
		m.SOC,
	)
	return StatusSchema.Encode(x.status[:])
}

// decodeCommand unpacks a command frame.
func (x *encoder) decodeCommand(f canframe.Frame) Commands {
	_ = CommandSchema.DecodeInto(x.cmd[:], f)
	return Commands{
		StartPrecharge:    x.cmd[0] != 0,
		PrechargeComplete: x.cmd[1] != 0,
		ChargeRequest:     x.cmd[2] != 0,
		ReturnToIdle:      x.cmd[3] != 0,
		ExternalKill:      x.cmd[4] != 0,
	}
}

// EncodeCommand builds a command frame; used by test benches and the CLI.
func EncodeCommand(c Commands) canframe.Frame {
	f, _ := CommandSchema.Encode([]int64{
		b2i(c.StartPrecharge),
		b2i(c.PrechargeComplete),
		b2i(c.ChargeRequest),
		b2i(c.ReturnToIdle),
		b2i(c.ExternalKill),
	})
	return f
}
