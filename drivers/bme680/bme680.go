package bme680

import (
	"context"
	"errors"
	"fmt"
	"time"

	"envnode-go/drivers/regmap"
	"envnode-go/errcode"
	"envnode-go/x/mathx"
	"envnode-go/x/timex"

	"go.uber.org/zap"
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x77 if zero.
	Address uint16
	// PollInterval is the delay between new_data_0 polls. Default 5 ms.
	PollInterval time.Duration
	// MeasureTimeout bounds the wait for a forced conversion. Default 1 s,
	// which covers 16x oversampling plus a long heater phase.
	MeasureTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Address == 0 {
		c.Address = AddressDefault
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.MeasureTimeout <= 0 {
		c.MeasureTimeout = time.Second
	}
}

type Option func(*Device)

// WithLogger sets the driver logger. Register traffic goes to a "regs" child
// at Debug level.
func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// Settings is one full measurement configuration.
type Settings struct {
	Profile uint8 // heater profile slot, 0..MaxProfile
	OsrsT   Oversampling
	OsrsP   Oversampling
	OsrsH   Oversampling
	Filter  Filter
	RunGas  bool
	GasWait byte   // gas_wait_x code, see GasWaitCode
	HeaterC uint16 // hot-plate target, °C
}

// DefaultSettings returns 16x oversampling on all channels, IIR filter
// coefficient 3 and a 30 ms, 300 °C heater step in the given profile.
func DefaultSettings(profile uint8) Settings {
	return Settings{
		Profile: profile,
		OsrsT:   Oversample16x,
		OsrsP:   Oversample16x,
		OsrsH:   Oversample16x,
		Filter:  Filter3,
		RunGas:  true,
		GasWait: 0x1E,
		HeaterC: 300,
	}
}

// Device drives one BME680. It is not safe for concurrent use; give each
// device a single owning goroutine.
type Device struct {
	chip *regmap.Chip
	log  *zap.Logger
	cfg  Config
	cal  Calibration

	// Fine temperature of the last conversion, consumed by the pressure,
	// humidity and heater calculations.
	tFine    int32
	tempComp int32
	haveFine bool

	ready bool
}

// New builds the accessor over t and reads the calibration coefficients.
// On any bus failure it returns the error and no device.
func New(ctx context.Context, t regmap.Transport, cfg Config, opts ...Option) (*Device, error) {
	cfg.defaults()
	d := &Device{cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With(zap.String("addr", fmt.Sprintf("0x%02x", cfg.Address)))
	d.chip = regmap.New(t, cfg.Address, FieldMap, regmap.WithLogger(d.log.Named("regs")))

	if err := d.Recalibrate(ctx); err != nil {
		return nil, err
	}
	d.ready = true
	return d, nil
}

// Chip exposes the underlying register accessor.
func (d *Device) Chip() *regmap.Chip { return d.chip }

// Calibration returns a copy of the coefficients in use.
func (d *Device) Calibration() Calibration { return d.cal }

// Ready reports whether the device may be read: set by New and by a successful
// Configure, cleared by a failed Configure or SoftReset.
func (d *Device) Ready() bool { return d.ready }

// Recalibrate re-reads the factory coefficients. The cached coefficients are
// only replaced when every read succeeds.
func (d *Device) Recalibrate(ctx context.Context) error {
	cal, err := readCalibration(ctx, d.chip)
	if err != nil {
		return err
	}
	d.cal = cal
	d.log.Debug("calibration loaded",
		zap.Uint16("t1", cal.T1), zap.Int16("t2", cal.T2), zap.Int8("t3", cal.T3),
		zap.Int8("range_sw_err", cal.RangeSwErr))
	return nil
}

// ChipID reads the chip identification register (0x61 on a BME680).
func (d *Device) ChipID(ctx context.Context) (byte, error) {
	return d.chip.ReadField(ctx, "chip_id")
}

// SoftReset issues the reset command. The device needs about 10 ms before it
// accepts further commands. Control registers return to their power-on
// values, so reads report NotReady until the next successful Configure.
func (d *Device) SoftReset(ctx context.Context) error {
	if err := d.chip.WriteRegNamed(ctx, "reset", resetCmd); err != nil {
		return err
	}
	d.haveFine = false
	d.ready = false
	return nil
}

// Configure applies DefaultSettings(profile).
func (d *Device) Configure(ctx context.Context, profile uint8) error {
	return d.ConfigureWith(ctx, DefaultSettings(profile))
}

// ConfigureWith writes s to the device in order, stopping at the first
// failure. A failed configuration leaves the device not-ready until a later
// call succeeds. The measurement mode is left untouched.
func (d *Device) ConfigureWith(ctx context.Context, s Settings) error {
	d.ready = false

	// An out-of-range profile must not reach nb_conv, which would truncate it.
	for _, name := range []string{gasWaitName(s.Profile), resHeatName(s.Profile)} {
		if _, err := d.chip.Lookup(name); err != nil {
			d.log.Warn("configure failed", zap.Uint8("profile", s.Profile), zap.Error(err))
			return err
		}
	}

	runGas := byte(0)
	if s.RunGas {
		runGas = 1
	}
	steps := []struct {
		name string
		v    byte
	}{
		{"osrs_h", byte(s.OsrsH)},
		{"osrs_t", byte(s.OsrsT)},
		{"osrs_p", byte(s.OsrsP)},
		{"filter", byte(s.Filter)},
		{"run_gas", runGas},
		{"nb_conv", s.Profile},
	}
	for _, st := range steps {
		if err := d.chip.WriteField(ctx, st.name, st.v); err != nil {
			d.log.Warn("configure failed", zap.String("field", st.name), zap.Error(err))
			return err
		}
	}
	if err := d.SetGasWait(ctx, s.GasWait, s.Profile); err != nil {
		d.log.Warn("configure failed", zap.String("field", gasWaitName(s.Profile)), zap.Error(err))
		return err
	}
	if err := d.SetHeaterTemp(ctx, s.HeaterC, s.Profile); err != nil {
		d.log.Warn("configure failed", zap.String("field", resHeatName(s.Profile)), zap.Error(err))
		return err
	}

	d.ready = true
	d.log.Info("configured",
		zap.Uint8("profile", s.Profile),
		zap.Uint16("heater_c", s.HeaterC),
		zap.Duration("gas_wait", GasWaitDuration(s.GasWait)))
	return nil
}

func (d *Device) notReady(op string) error {
	return errcode.Wrap(errcode.NotReady, op, "configure has not succeeded", nil)
}

// measure starts a forced conversion and waits for new_data_0.
func (d *Device) measure(ctx context.Context) error {
	if err := d.chip.WriteField(ctx, "mode", byte(ModeForced)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.MeasureTimeout)
	defer cancel()

	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	for {
		v, err := d.chip.ReadField(ctx, "new_data_0")
		if errors.Is(err, context.DeadlineExceeded) {
			return errcode.Wrap(errcode.Timeout, "measure", "new_data_0", err)
		}
		if err != nil {
			return err
		}
		if v == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errcode.Wrap(errcode.Timeout, "measure", "new_data_0", ctx.Err())
		case <-t.C:
			timex.ResetTimer(t, d.cfg.PollInterval)
		}
	}
}

// ReadTemperature runs a forced conversion and returns the temperature in
// 0.01 °C. The conversion's fine temperature is cached for the other reads.
func (d *Device) ReadTemperature(ctx context.Context) (int32, error) {
	if !d.ready {
		return 0, d.notReady("read_temperature")
	}
	t, err := d.readTemperature(regmap.Quiet(ctx))
	if err != nil {
		return 0, err
	}
	d.log.Info("temperature", zap.String("celsius", centi(t)))
	return t, nil
}

func (d *Device) readTemperature(ctx context.Context) (int32, error) {
	if err := d.measure(ctx); err != nil {
		return 0, err
	}
	var b [3]byte
	if err := d.chip.ReadRegsNamed(ctx, "temp_msb", b[:]); err != nil {
		return 0, err
	}
	d.tempComp, d.tFine = d.cal.CompensateTemperature(adc20(b[0], b[1], b[2]))
	d.haveFine = true
	return d.tempComp, nil
}

// ensureFine takes a temperature reading when no conversion has been
// compensated yet.
func (d *Device) ensureFine(ctx context.Context) error {
	if d.haveFine {
		return nil
	}
	_, err := d.readTemperature(ctx)
	return err
}

// ReadPressure returns the pressure in Pa from the most recent conversion,
// compensated with its fine temperature. A temperature reading is taken first
// if there is none.
func (d *Device) ReadPressure(ctx context.Context) (uint32, error) {
	if !d.ready {
		return 0, d.notReady("read_pressure")
	}
	qctx := regmap.Quiet(ctx)
	if err := d.ensureFine(qctx); err != nil {
		return 0, err
	}
	var b [3]byte
	if err := d.chip.ReadRegsNamed(qctx, "press_msb", b[:]); err != nil {
		return 0, err
	}
	p := d.cal.CompensatePressure(adc20(b[0], b[1], b[2]), d.tFine)
	d.log.Info("pressure", zap.Uint32("pa", p))
	return p, nil
}

// ReadHumidity returns relative humidity in milli-%RH (0..100000) from the
// most recent conversion.
func (d *Device) ReadHumidity(ctx context.Context) (uint32, error) {
	if !d.ready {
		return 0, d.notReady("read_humidity")
	}
	qctx := regmap.Quiet(ctx)
	if err := d.ensureFine(qctx); err != nil {
		return 0, err
	}
	var b [2]byte
	if err := d.chip.ReadRegsNamed(qctx, "hum_msb", b[:]); err != nil {
		return 0, err
	}
	h := d.cal.CompensateHumidity(uint16(b[0])<<8|uint16(b[1]), d.tFine)
	d.log.Info("humidity", zap.String("percent", milli(h)))
	return h, nil
}

// GasReading is one compensated gas-sensor result.
type GasReading struct {
	Ohms       uint32
	Valid      bool // gas_valid_r: a gas conversion took place
	HeatStable bool // heat_stab_r: the plate reached its target
}

// ReadGasResistance returns the gas resistance of the most recent conversion.
func (d *Device) ReadGasResistance(ctx context.Context) (GasReading, error) {
	if !d.ready {
		return GasReading{}, d.notReady("read_gas")
	}
	var b [2]byte
	if err := d.chip.ReadRegsNamed(regmap.Quiet(ctx), "gas_r_msb", b[:]); err != nil {
		return GasReading{}, err
	}
	g := d.gas(b[0], b[1])
	d.log.Info("gas resistance",
		zap.Uint32("ohms", g.Ohms),
		zap.Bool("valid", g.Valid),
		zap.Bool("heat_stable", g.HeatStable))
	return g, nil
}

func (d *Device) gas(msb, lsb byte) GasReading {
	adc := uint16(msb)<<2 | uint16(lsb)>>6
	return GasReading{
		Ohms:       d.cal.GasResistance(adc, lsb&0x0F),
		Valid:      lsb&0x20 != 0,
		HeatStable: lsb&0x10 != 0,
	}
}

// Sense runs one forced conversion and compensates every channel from a
// single burst read of the data block.
func (d *Device) Sense(ctx context.Context) (Sample, error) {
	if !d.ready {
		return Sample{}, d.notReady("sense")
	}
	qctx := regmap.Quiet(ctx)
	if err := d.measure(qctx); err != nil {
		return Sample{}, err
	}
	var b [dataLen]byte
	if err := d.chip.ReadRegs(qctx, regDataStart, b[:]); err != nil {
		return Sample{}, err
	}

	var s Sample
	s.Time = time.Now()
	d.tempComp, d.tFine = d.cal.CompensateTemperature(adc20(b[3], b[4], b[5]))
	d.haveFine = true
	s.CentiC = d.tempComp
	s.Pa = d.cal.CompensatePressure(adc20(b[0], b[1], b[2]), d.tFine)
	s.MilliRH = d.cal.CompensateHumidity(uint16(b[6])<<8|uint16(b[7]), d.tFine)
	s.Gas = d.gas(b[11], b[12])

	d.log.Info("sample",
		zap.String("celsius", centi(s.CentiC)),
		zap.Uint32("pa", s.Pa),
		zap.String("rh", milli(s.MilliRH)),
		zap.Uint32("gas_ohms", s.Gas.Ohms))
	return s, nil
}

// adc20 assembles a 20-bit reading from msb, lsb and the xlsb high nibble.
func adc20(msb, lsb, xlsb byte) uint32 {
	return uint32(msb)<<12 | uint32(lsb)<<4 | uint32(xlsb)>>4
}

// centi formats a hundredths value as "whole.frac".
func centi(v int32) string {
	sign := ""
	if v < 0 {
		sign = "-"
	}
	a := mathx.Abs(v)
	return fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
}

func milli(v uint32) string {
	return fmt.Sprintf("%d.%03d", v/1000, v%1000)
}
