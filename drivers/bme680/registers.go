// Package bme680 provides register addresses, bit fields and calibration
// locations used in the operation of the Bosch BME680 gas sensor.
package bme680

import "envnode-go/drivers/regmap"

const (
	// 7-bit I2C addresses (SDO low / high).
	AddressLow     = 0x76
	AddressDefault = 0x77

	ChipIDValue = 0x61
	resetCmd    = 0xB6

	// Highest heater profile slot (gas_wait_x / res_heat_x, x = 0..9).
	MaxProfile = 9

	// Data block 0x1F..0x2B: press(3) temp(3) hum(2) reserved(3) gas(2).
	regDataStart = 0x1F
	dataLen      = 13

	// High bytes of 16-bit calibration words, read by raw address.
	regParT1MSB = 0xEA
	regParT2MSB = 0x8B
	regParP1MSB = 0x8F
	regParP2MSB = 0x91
	regParP4MSB = 0x95
	regParP5MSB = 0x97
	regParP8MSB = 0x9D
	regParP9MSB = 0x9F
	regParH1MSB = 0xE3 // H1 = E3<<4 | E2[3:0]
	regParH2LSB = 0xE2 // H2 = E1<<4 | E2[7:4]
	regParG2MSB = 0xEC
)

type Oversampling uint8

const (
	OversampleSkip Oversampling = iota
	Oversample1x
	Oversample2x
	Oversample4x
	Oversample8x
	Oversample16x
)

type Filter uint8

const (
	Filter0 Filter = iota
	Filter1
	Filter3
	Filter7
	Filter15
	Filter31
	Filter63
	Filter127
)

type Mode uint8

const (
	ModeSleep  Mode = 0b00
	ModeForced Mode = 0b01
)

func rw(reg byte, off, width uint8) regmap.Field {
	return regmap.Field{Reg: reg, Offset: off, Width: width, Writable: true}
}

func ro(reg byte, off, width uint8) regmap.Field {
	return regmap.Field{Reg: reg, Offset: off, Width: width}
}

// FieldMap is the BME680 register map (datasheet rev 1.x, section 5.2).
// Whole-register aliases coexist with their sub-fields; Map.Overlapping lists
// them.
var FieldMap = regmap.MustMap(map[string]regmap.Field{
	// Control / status
	"status":        rw(0x73, 0, 8),
	"spi_mem_page":  rw(0x73, 4, 1),
	"reset":         rw(0xE0, 0, 8),
	"chip_id":       ro(0xD0, 0, 8),
	"config":        rw(0x75, 0, 8),
	"filter":        rw(0x75, 2, 3),
	"spi_3w_en":     rw(0x75, 0, 1),
	"ctrl_meas":     rw(0x74, 0, 8),
	"osrs_t":        rw(0x74, 5, 3),
	"osrs_p":        rw(0x74, 2, 3),
	"mode":          rw(0x74, 0, 2),
	"ctrl_hum":      rw(0x72, 0, 8),
	"spi_3w_int_en": rw(0x72, 6, 1),
	"osrs_h":        rw(0x72, 0, 3),
	"ctrl_gas_1":    rw(0x71, 0, 8),
	"run_gas":       rw(0x71, 4, 1),
	"nb_conv":       rw(0x71, 0, 4),
	"ctrl_gas_0":    rw(0x70, 0, 8),
	"heat_off":      rw(0x70, 3, 1),

	// Heater profiles
	"gas_wait_0":  rw(0x64, 0, 8),
	"gas_wait_1":  rw(0x65, 0, 8),
	"gas_wait_2":  rw(0x66, 0, 8),
	"gas_wait_3":  rw(0x67, 0, 8),
	"gas_wait_4":  rw(0x68, 0, 8),
	"gas_wait_5":  rw(0x69, 0, 8),
	"gas_wait_6":  rw(0x6A, 0, 8),
	"gas_wait_7":  rw(0x6B, 0, 8),
	"gas_wait_8":  rw(0x6C, 0, 8),
	"gas_wait_9":  rw(0x6D, 0, 8),
	"res_heat_0":  rw(0x5A, 0, 8),
	"res_heat_1":  rw(0x5B, 0, 8),
	"res_heat_2":  rw(0x5C, 0, 8),
	"res_heat_3":  rw(0x5D, 0, 8),
	"res_heat_4":  rw(0x5E, 0, 8),
	"res_heat_5":  rw(0x5F, 0, 8),
	"res_heat_6":  rw(0x60, 0, 8),
	"res_heat_7":  rw(0x61, 0, 8),
	"res_heat_8":  rw(0x62, 0, 8),
	"res_heat_9":  rw(0x63, 0, 8),
	"idac_heat_0": rw(0x50, 0, 8),
	"idac_heat_1": rw(0x51, 0, 8),
	"idac_heat_2": rw(0x52, 0, 8),
	"idac_heat_3": rw(0x53, 0, 8),
	"idac_heat_4": rw(0x54, 0, 8),
	"idac_heat_5": rw(0x55, 0, 8),
	"idac_heat_6": rw(0x56, 0, 8),
	"idac_heat_7": rw(0x57, 0, 8),
	"idac_heat_8": rw(0x58, 0, 8),
	"idac_heat_9": rw(0x59, 0, 8),

	// Measurement status
	"meas_status_0":    ro(0x1D, 0, 8),
	"new_data_0":       ro(0x1D, 7, 1),
	"gas_measuring":    ro(0x1D, 6, 1),
	"measuring":        ro(0x1D, 5, 1),
	"gas_meas_index_0": ro(0x1D, 0, 4),

	// Data
	"gas_r_lsb":   ro(0x2B, 0, 8),
	"gas_r_low":   ro(0x2B, 6, 2),
	"gas_valid_r": ro(0x2B, 5, 1),
	"heat_stab_r": ro(0x2B, 4, 1),
	"gas_range_r": ro(0x2B, 0, 4),
	"gas_r_msb":   ro(0x2A, 0, 8),
	"hum_lsb":     ro(0x26, 0, 8),
	"hum_msb":     ro(0x25, 0, 8),
	"temp_xlsb":   ro(0x24, 4, 4),
	"temp_lsb":    ro(0x23, 0, 8),
	"temp_msb":    ro(0x22, 0, 8),
	"press_xlsb":  ro(0x21, 4, 4),
	"press_lsb":   ro(0x20, 0, 8),
	"press_msb":   ro(0x1F, 0, 8),

	// Calibration (low bytes; high bytes are read by raw address)
	"par_t1":  ro(0xE9, 0, 8),
	"par_t2":  ro(0x8A, 0, 8),
	"par_t3":  ro(0x8C, 0, 8),
	"par_p1":  ro(0x8E, 0, 8),
	"par_p2":  ro(0x90, 0, 8),
	"par_p3":  ro(0x92, 0, 8),
	"par_p4":  ro(0x94, 0, 8),
	"par_p5":  ro(0x96, 0, 8),
	"par_p6":  ro(0x99, 0, 8),
	"par_p7":  ro(0x98, 0, 8),
	"par_p8":  ro(0x9C, 0, 8),
	"par_p9":  ro(0x9E, 0, 8),
	"par_p10": ro(0xA0, 0, 8),
	"par_h1":  ro(0xE2, 0, 4),
	"par_h2":  ro(0xE1, 0, 8),
	"par_h3":  ro(0xE4, 0, 8),
	"par_h4":  ro(0xE5, 0, 8),
	"par_h5":  ro(0xE6, 0, 8),
	"par_h6":  ro(0xE7, 0, 8),
	"par_h7":  ro(0xE8, 0, 8),
	"par_g1":  ro(0xED, 0, 8),
	"par_g2":  ro(0xEB, 0, 8),
	"par_g3":  ro(0xEE, 0, 8),

	"res_heat_val":   ro(0x00, 0, 8),
	"res_heat_range": ro(0x02, 4, 2),
	"range_sw_err":   ro(0x04, 4, 4),
})
