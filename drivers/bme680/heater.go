package bme680

import (
	"context"
	"strconv"
	"time"

	"envnode-go/drivers/regmap"

	"go.uber.org/zap"
)

func gasWaitName(profile uint8) string { return "gas_wait_" + strconv.Itoa(int(profile)) }
func resHeatName(profile uint8) string { return "res_heat_" + strconv.Itoa(int(profile)) }

// GasWaitCode encodes a heater-on duration as a gas_wait_x byte: a 6-bit
// millisecond count and a 2-bit multiplier of 1, 4, 16 or 64. Durations that
// do not fit saturate to 0xFF (about 4 s).
func GasWaitCode(d time.Duration) byte {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms >= 0xFC0 {
		return 0xFF
	}
	var factor int64
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms + factor*64)
}

// GasWaitDuration decodes a gas_wait_x byte.
func GasWaitDuration(code byte) time.Duration {
	mult := []int64{1, 4, 16, 64}[code>>6]
	return time.Duration(int64(code&0x3F)*mult) * time.Millisecond
}

// SetGasWait writes the raw wait code for a heater profile.
func (d *Device) SetGasWait(ctx context.Context, code byte, profile uint8) error {
	if err := d.chip.WriteField(ctx, gasWaitName(profile), code); err != nil {
		return err
	}
	d.log.Debug("gas wait set",
		zap.Uint8("profile", profile),
		zap.Duration("wait", GasWaitDuration(code)))
	return nil
}

// SetHeaterTemp programs res_heat_<profile> for a hot-plate target in °C.
// The conversion depends on ambient temperature; if none has been measured
// yet a temperature reading is taken first.
func (d *Device) SetHeaterTemp(ctx context.Context, targetC uint16, profile uint8) error {
	name := resHeatName(profile)
	if _, err := d.chip.Lookup(name); err != nil {
		return err
	}
	if !d.haveFine {
		if _, err := d.readTemperature(regmap.Quiet(ctx)); err != nil {
			return err
		}
	}
	code := d.cal.HeaterResistance(d.tempComp/100, targetC)
	if err := d.chip.WriteField(ctx, name, code); err != nil {
		return err
	}
	d.log.Debug("heater set",
		zap.Uint8("profile", profile),
		zap.Uint16("target_c", targetC),
		zap.Uint8("res_heat", code))
	return nil
}
