package bme680

import (
	"context"

	"envnode-go/drivers/regmap"
)

// Calibration holds the factory-programmed compensation coefficients.
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int8

	P1  uint16
	P2  int16
	P3  int8
	P4  int16
	P5  int16
	P6  int8
	P7  int8
	P8  int16
	P9  int16
	P10 uint8

	H1 uint16
	H2 uint16
	H3 int8
	H4 int8
	H5 int8
	H6 uint8
	H7 int8

	G1 int8
	G2 int16
	G3 int8

	ResHeatRange uint8 // 0..3
	ResHeatVal   int8
	RangeSwErr   int8 // -8..7
}

// calReader issues the calibration reads in a fixed order and keeps the first
// error; later calls are no-ops once one has failed.
type calReader struct {
	ctx  context.Context
	chip *regmap.Chip
	err  error
}

func (r *calReader) field(name string) byte {
	if r.err != nil {
		return 0
	}
	v, err := r.chip.ReadField(r.ctx, name)
	r.err = err
	return v
}

func (r *calReader) reg(reg byte) byte {
	if r.err != nil {
		return 0
	}
	v, err := r.chip.ReadReg(r.ctx, reg)
	r.err = err
	return v
}

// word assembles a little-endian 16-bit coefficient from a named low byte and
// a raw high register.
func (r *calReader) word(lo string, hi byte) uint16 {
	l := r.field(lo)
	h := r.reg(hi)
	return uint16(l) | uint16(h)<<8
}

func readCalibration(ctx context.Context, chip *regmap.Chip) (Calibration, error) {
	r := &calReader{ctx: regmap.Quiet(ctx), chip: chip}
	var c Calibration

	// Temperature
	c.T1 = r.word("par_t1", regParT1MSB)
	c.T2 = int16(r.word("par_t2", regParT2MSB))
	c.T3 = int8(r.field("par_t3"))

	// Pressure
	c.P1 = r.word("par_p1", regParP1MSB)
	c.P2 = int16(r.word("par_p2", regParP2MSB))
	c.P3 = int8(r.field("par_p3"))
	c.P4 = int16(r.word("par_p4", regParP4MSB))
	c.P5 = int16(r.word("par_p5", regParP5MSB))
	c.P6 = int8(r.field("par_p6"))
	c.P7 = int8(r.field("par_p7"))
	c.P8 = int16(r.word("par_p8", regParP8MSB))
	c.P9 = int16(r.word("par_p9", regParP9MSB))
	c.P10 = r.field("par_p10")

	// Humidity. H1 and H2 share register 0xE2 (H1 low nibble, H2 high nibble).
	h1lo := r.field("par_h1")
	c.H1 = uint16(h1lo) | uint16(r.reg(regParH1MSB))<<4
	h2hi := r.field("par_h2")
	c.H2 = uint16(h2hi)<<4 | uint16(r.reg(regParH2LSB))>>4
	c.H3 = int8(r.field("par_h3"))
	c.H4 = int8(r.field("par_h4"))
	c.H5 = int8(r.field("par_h5"))
	c.H6 = r.field("par_h6")
	c.H7 = int8(r.field("par_h7"))

	// Gas
	c.G1 = int8(r.field("par_g1"))
	c.G2 = int16(r.word("par_g2", regParG2MSB))
	c.G3 = int8(r.field("par_g3"))

	c.ResHeatRange = r.field("res_heat_range")
	c.ResHeatVal = int8(r.field("res_heat_val"))
	c.RangeSwErr = signExtend4(r.field("range_sw_err"))

	if r.err != nil {
		return Calibration{}, r.err
	}
	return c, nil
}

// signExtend4 interprets the low nibble of v as a two's complement value.
func signExtend4(v byte) int8 {
	return int8(v<<4) >> 4
}
