package bme680

import "envnode-go/x/mathx"

// Integer compensation, following the Bosch BME68x reference code. Shift
// widths, operand order and truncating divisions are kept as published; the
// results must match the vendor implementation to the last digit.

// CompensateTemperature converts a 20-bit temperature ADC value. It returns
// the temperature in 0.01 °C and the fine temperature consumed by the other
// formulas. Intermediates are 64-bit: the squared term overflows 32 bits.
func (c *Calibration) CompensateTemperature(adc uint32) (centiC int32, tFine int32) {
	var1 := int64(int32(adc)>>3) - int64(c.T1)<<1
	var2 := (var1 * int64(c.T2)) >> 11
	var3 := ((((var1 >> 1) * (var1 >> 1)) >> 12) * (int64(c.T3) << 4)) >> 14
	tFine = int32(var2 + var3)
	centiC = (tFine*5 + 128) >> 8
	return centiC, tFine
}

// CompensatePressure converts a 20-bit pressure ADC value to Pa.
func (c *Calibration) CompensatePressure(adc uint32, tFine int32) uint32 {
	var1 := (tFine >> 1) - 64000
	var2 := ((((var1 >> 2) * (var1 >> 2)) >> 11) * int32(c.P6)) >> 2
	var2 = var2 + ((var1 * int32(c.P5)) << 1)
	var2 = (var2 >> 2) + (int32(c.P4) << 16)
	var1 = (((((var1 >> 2) * (var1 >> 2)) >> 13) * (int32(c.P3) << 5)) >> 3) +
		((int32(c.P2) * var1) >> 1)
	var1 = var1 >> 18
	var1 = ((32768 + var1) * int32(c.P1)) >> 15
	if var1 == 0 {
		// Blank calibration; the reference code would divide by zero.
		return 0
	}

	p := int32(1048576) - int32(adc)
	p = int32(uint32(p-(var2>>12)) * 3125)
	if p >= 1<<30 {
		p = (p / var1) << 1
	} else {
		p = (p << 1) / var1
	}
	var1 = (int32(c.P9) * (((p >> 3) * (p >> 3)) >> 13)) >> 12
	var2 = ((p >> 2) * int32(c.P8)) >> 13
	var3 := ((p >> 8) * (p >> 8) * (p >> 8) * int32(c.P10)) >> 17
	p = p + ((var1 + var2 + var3 + (int32(c.P7) << 7)) >> 4)
	return uint32(p)
}

// CompensateHumidity converts a 16-bit humidity ADC value to milli-%RH,
// clamped to 0..100000.
func (c *Calibration) CompensateHumidity(adc uint16, tFine int32) uint32 {
	tempScaled := ((tFine * 5) + 128) >> 8
	var1 := int32(adc) - int32(c.H1)*16 -
		(((tempScaled * int32(c.H3)) / 100) >> 1)
	var2 := (int32(c.H2) * (((tempScaled * int32(c.H4)) / 100) +
		(((tempScaled * ((tempScaled * int32(c.H5)) / 100)) >> 6) / 100) +
		(1 << 14))) >> 10
	var3 := var1 * var2
	var4 := ((int32(c.H6) << 7) + ((tempScaled * int32(c.H7)) / 100)) >> 4
	var5 := ((var3 >> 14) * (var3 >> 14)) >> 10
	var6 := (var4 * var5) >> 1
	h := (((var3 + var6) >> 10) * 1000) >> 12
	return uint32(mathx.Clamp(h, 0, 100000))
}

var gasRangeK1 = [16]uint32{
	2147483647, 2147483647, 2147483647, 2147483647,
	2147483647, 2126008810, 2147483647, 2130303777,
	2147483647, 2147483647, 2143188679, 2136746228,
	2147483647, 2126008810, 2147483647, 2147483647,
}

var gasRangeK2 = [16]uint32{
	4096000000, 2048000000, 1024000000, 512000000,
	255744255, 127110228, 64000000, 32258064,
	16016016, 8000000, 4000000, 2000000,
	1000000, 500000, 250000, 125000,
}

// GasResistance converts a 10-bit gas ADC value and its 4-bit range to Ω.
func (c *Calibration) GasResistance(adc uint16, gasRange uint8) uint32 {
	gasRange &= 0x0F
	var1 := ((1340 + 5*int64(c.RangeSwErr)) * int64(gasRangeK1[gasRange])) >> 16
	var2 := (int64(adc)<<15 - 16777216) + var1
	if var2 == 0 {
		return 0
	}
	var3 := (int64(gasRangeK2[gasRange]) * var1) >> 9
	return uint32((var3 + (var2 >> 1)) / var2)
}

// HeaterResistance returns the res_heat_x code that drives the hot plate to
// targetC (°C, capped at 400) at the given ambient temperature (°C).
func (c *Calibration) HeaterResistance(ambientC int32, targetC uint16) byte {
	if targetC > 400 {
		targetC = 400
	}
	var1 := ((ambientC * int32(c.G3)) / 1000) * 256
	var2 := (int32(c.G1) + 784) *
		(((((int32(c.G2) + 154009) * int32(targetC) * 5) / 100) + 3276800) / 10)
	var3 := var1 + (var2 / 2)
	var4 := var3 / (int32(c.ResHeatRange) + 4)
	var5 := (131 * int32(c.ResHeatVal)) + 65536
	resHeatX100 := ((var4 / var5) - 250) * 34
	return byte((resHeatX100 + 50) / 100)
}
