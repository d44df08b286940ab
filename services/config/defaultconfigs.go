package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name. Val: YAML document for that board. Overrides loaded from a
// file are applied on top of the selected document.
// -----------------------------------------------------------------------------

const cfgHost = `
board: host
tick_ms: 10
settle_ms: 100
command_timeout_ms: 500
self_transitions: false

can:
  soe_id: 0x173
  fault_id: 0x174
  status_id: 0x175
  command_id: 0x0C0

contactors:
  negative_pin: 8
  positive_pin: 9
  precharge_pin: 10
  active_low: false

afe:
  ic_count: 1
  cells_per_ic: 16
  thermistors_per_ic: 10
  open_wire_every: 100

thresholds:
  overvoltage_v: 4.2
  undervoltage_v: 3.0
  overtemp_c: 60
  undertemp_c: -20
  overcurrent_a: 250
  open_wire_cell_mv: 2000
  open_wire_aux_mv: 2900
  open_wire_delta_mv: 400

limits:
  max_discharge_a: 200
  max_regen_a: 80
  max_charge_a: 20

soc:
  empty_mv: 3000
  full_mv: 4200

thermistor:
  beta: 3435
  r25_ohm: 10000
  pullup_ohm: 10000
  vref_v: 3.0

link:
  baud: 115200
  tx_pin: 0
  rx_pin: 1
`

const cfgPico = `
board: pico
tick_ms: 10
settle_ms: 100
command_timeout_ms: 500
self_transitions: false

can:
  soe_id: 0x173
  fault_id: 0x174
  status_id: 0x175
  command_id: 0x0C0

contactors:
  negative_pin: 8
  positive_pin: 9
  precharge_pin: 10
  active_low: false

afe:
  ic_count: 1
  cells_per_ic: 16
  thermistors_per_ic: 10
  open_wire_every: 100
  spi_sck_pin: 18
  spi_sdo_pin: 19
  spi_sdi_pin: 16
  spi_cs_pin: 17
  spi_hz: 1000000

thresholds:
  overvoltage_v: 4.2
  undervoltage_v: 3.0
  overtemp_c: 60
  undertemp_c: -20
  overcurrent_a: 250
  open_wire_cell_mv: 2000
  open_wire_aux_mv: 2900
  open_wire_delta_mv: 400

limits:
  max_discharge_a: 200
  max_regen_a: 80
  max_charge_a: 20

soc:
  empty_mv: 3000
  full_mv: 4200

thermistor:
  beta: 3435
  r25_ohm: 10000
  pullup_ohm: 10000
  vref_v: 3.0

link:
  baud: 115200
  tx_pin: 0
  rx_pin: 1
`

var embeddedConfigs = map[string][]byte{
	"host": []byte(cfgHost),
	"pico": []byte(cfgPico),
}
