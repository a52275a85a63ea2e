package bme680

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"envnode-go/drivers/regmap/regmaptest"
	"envnode-go/errcode"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

const addr = AddressDefault

var refCal = Calibration{
	T1: 26041, T2: 26372, T3: 3,
	P1: 36203, P2: -10452, P3: 88, P4: 6734, P5: -124, P6: 30, P7: 47, P8: -3193, P9: -2563, P10: 30,
	H1: 796, H2: 1020, H3: 0, H4: 45, H5: 20, H6: 120, H7: -100,
	G1: -30, G2: -12000, G3: 18,
	ResHeatRange: 1, ResHeatVal: -5, RangeSwErr: -3,
}

func le(v int) (byte, byte) { return byte(v), byte(v >> 8) }

// loadCal writes c into the calibration area of bus as the device stores it.
func loadCal(bus *regmaptest.Bus, c Calibration) {
	word := func(lo, hi byte, v int) {
		l, h := le(v)
		bus.Set(addr, lo, l)
		bus.Set(addr, hi, h)
	}
	word(0xE9, 0xEA, int(c.T1))
	word(0x8A, 0x8B, int(c.T2))
	bus.Set(addr, 0x8C, byte(c.T3))
	word(0x8E, 0x8F, int(c.P1))
	word(0x90, 0x91, int(c.P2))
	bus.Set(addr, 0x92, byte(c.P3))
	word(0x94, 0x95, int(c.P4))
	word(0x96, 0x97, int(c.P5))
	bus.Set(addr, 0x98, byte(c.P7), byte(c.P6))
	word(0x9C, 0x9D, int(c.P8))
	word(0x9E, 0x9F, int(c.P9))
	bus.Set(addr, 0xA0, c.P10)

	bus.Set(addr, 0xE1, byte(c.H2>>4), byte(c.H2&0x0F)<<4|byte(c.H1&0x0F), byte(c.H1>>4))
	bus.Set(addr, 0xE4, byte(c.H3), byte(c.H4), byte(c.H5), c.H6, byte(c.H7))

	bus.Set(addr, 0xED, byte(c.G1))
	word(0xEB, 0xEC, int(c.G2))
	bus.Set(addr, 0xEE, byte(c.G3))

	// Neighbouring bits set to check masking.
	bus.Set(addr, 0x02, c.ResHeatRange<<4|0x0A)
	bus.Set(addr, 0x00, byte(c.ResHeatVal))
	bus.Set(addr, 0x04, byte(c.RangeSwErr)<<4|0x03)
}

// completeForced models a conversion that finishes as soon as forced mode is
// requested.
func completeForced(r *[256]byte, reg, val byte) {
	if reg == 0x74 && Mode(val&0x03) == ModeForced {
		r[0x74] &^= 0x03
		r[0x1D] |= 0x80
	}
}

// setData loads the data block with press=0x5A3F7, temp=0x7C3A5, hum=0x6A2C
// and gas adc 0x2A5 in range 4, valid and heat-stable. xlsb noise bits are set.
func setData(bus *regmaptest.Bus) {
	bus.Set(addr, 0x1F,
		0x5A, 0x3F, 0x75, // press
		0x7C, 0x3A, 0x5F, // temp
		0x6A, 0x2C, // hum
		0, 0, 0,
		0xA9, 0x74, // gas
	)
}

func newTestDevice(t *testing.T) (*Device, *regmaptest.Bus) {
	t.Helper()
	bus := regmaptest.New()
	loadCal(bus, refCal)
	setData(bus)
	bus.OnWrite = completeForced
	d, err := New(context.Background(), bus, Config{PollInterval: time.Millisecond, MeasureTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, bus
}

func TestNewReadsCalibration(t *testing.T) {
	d, _ := newTestDevice(t)
	if got := d.Calibration(); got != refCal {
		t.Fatalf("calibration mismatch\n got %+v\nwant %+v", got, refCal)
	}
	if !d.Ready() {
		t.Fatal("new device must be ready")
	}
}

func TestNewFailsOnBusError(t *testing.T) {
	bus := regmaptest.New()
	bus.FailAt(1)
	d, err := New(context.Background(), bus, Config{})
	if d != nil {
		t.Fatal("device returned on failure")
	}
	if !errors.Is(err, errcode.BusTransfer) || !errors.Is(err, regmaptest.ErrInjected) {
		t.Fatalf("err = %v", err)
	}

	// A failure late in the sequence is reported the same way.
	bus = regmaptest.New()
	bus.FailReg(0x04)
	if d, err := New(context.Background(), bus, Config{}); d != nil || errcode.Of(err) != errcode.BusTransfer {
		t.Fatalf("New = %v, %v", d, err)
	}
}

// Expected compensation values below come from the integer paths of Bosch's
// BME68x_SensorAPI (bme68x.c calc_temperature, calc_pressure, calc_humidity,
// calc_gas_resistance_low, calc_res_heat) evaluated with refCal.

func TestCompensateTemperature(t *testing.T) {
	cases := []struct {
		adc   uint32
		want  int32
		tFine int32
	}{
		{0x7C3A5, 2898, 148391},
		{500000, 2621, 134171},
		{400000, -524, -26810},
	}
	for _, c := range cases {
		got, tf := refCal.CompensateTemperature(c.adc)
		if got != c.want || tf != c.tFine {
			t.Fatalf("adc %d: got %d (t_fine %d), want %d (%d)", c.adc, got, tf, c.want, c.tFine)
		}
	}
	if centi(-524) != "-5.24" || centi(2898) != "28.98" || centi(5) != "0.05" {
		t.Fatalf("centi formatting: %s %s %s", centi(-524), centi(2898), centi(5))
	}
}

func TestCompensatePressureHumidityGas(t *testing.T) {
	if got := refCal.CompensatePressure(0x5A3F7, 148391); got != 99113 {
		t.Fatalf("pressure = %d, want 99113", got)
	}
	if got := refCal.CompensateHumidity(0x6A2C, 148391); got != 84068 {
		t.Fatalf("humidity = %d, want 84068", got)
	}
	if got := refCal.CompensateHumidity(0xFFFF, 148391); got != 100000 {
		t.Fatalf("humidity not clamped: %d", got)
	}
	if got := refCal.CompensateHumidity(0, 148391); got != 0 {
		t.Fatalf("humidity not clamped at 0: %d", got)
	}

	gas := []struct {
		adc  uint16
		rng  uint8
		want uint32
	}{
		{0x2A5, 4, 444187},
		{0x155, 7, 72427},
		{512, 0, 8000000},
	}
	for _, g := range gas {
		if got := refCal.GasResistance(g.adc, g.rng); got != g.want {
			t.Fatalf("gas(%#x, %d) = %d, want %d", g.adc, g.rng, got, g.want)
		}
	}

	var blank Calibration
	if got := blank.CompensatePressure(0x5A3F7, 148391); got != 0 {
		t.Fatalf("blank calibration pressure = %d", got)
	}
}

func TestHeaterResistance(t *testing.T) {
	cases := []struct {
		amb    int32
		target uint16
		want   byte
	}{
		{28, 300, 129},
		{25, 300, 129},
		{28, 320, 134},
		{20, 200, 100},
		{25, 400, 156},
		{25, 500, 156}, // capped at 400 °C
	}
	for _, c := range cases {
		if got := refCal.HeaterResistance(c.amb, c.target); got != c.want {
			t.Fatalf("HeaterResistance(%d, %d) = %d, want %d", c.amb, c.target, got, c.want)
		}
		if again := refCal.HeaterResistance(c.amb, c.target); again != c.want {
			t.Fatal("not deterministic")
		}
	}
}

func TestGasWaitCode(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want byte
	}{
		{0, 0x00},
		{30 * time.Millisecond, 0x1E},
		{63 * time.Millisecond, 0x3F},
		{100 * time.Millisecond, 0x59},
		{4000 * time.Millisecond, 0xFE},
		{0xFC0 * time.Millisecond, 0xFF},
		{time.Minute, 0xFF},
	}
	for _, c := range cases {
		if got := GasWaitCode(c.d); got != c.want {
			t.Fatalf("GasWaitCode(%v) = %#02x, want %#02x", c.d, got, c.want)
		}
	}
	if got := GasWaitDuration(0x59); got != 100*time.Millisecond {
		t.Fatalf("GasWaitDuration(0x59) = %v", got)
	}
}

func TestConfigureWritesProfile(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)
	bus.Set(addr, 0x2B, 0x74) // gas_range_r bits must survive

	if err := d.Configure(ctx, 3); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	want := map[byte]byte{
		0x72: 0x05,         // osrs_h 16x
		0x74: 0b101_101_00, // osrs_t, osrs_p 16x, mode back to sleep
		0x75: 0x02 << 2,    // filter 3
		0x71: 1<<4 | 3,     // run_gas, nb_conv
		0x67: 0x1E,         // gas_wait_3
		0x5D: 129,          // res_heat_3 at 28 °C ambient
		0x2B: 0x74,
	}
	for reg, v := range want {
		if got := bus.Get(addr, reg); got != v {
			t.Fatalf("reg %#02x = %#02x, want %#02x", reg, got, v)
		}
	}
	for _, w := range bus.Writes() {
		if w.Reg == 0x2B {
			t.Fatal("read-only gas_range_r was written")
		}
	}
	if !d.Ready() {
		t.Fatal("device not ready after Configure")
	}
}

func TestConfigureInvalidProfile(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)
	before := len(bus.Writes())

	err := d.Configure(ctx, MaxProfile+1)
	if !errors.Is(err, errcode.FieldNotFound) {
		t.Fatalf("err = %v, want FieldNotFound", err)
	}
	if n := len(bus.Writes()); n != before {
		t.Fatalf("%d writes issued for an invalid profile", n-before)
	}
	if d.Ready() {
		t.Fatal("device ready after failed Configure")
	}
	if _, err := d.ReadTemperature(ctx); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("ReadTemperature err = %v, want NotReady", err)
	}
	if _, err := d.Sense(ctx); !errors.Is(err, errcode.NotReady) {
		t.Fatalf("Sense err = %v, want NotReady", err)
	}

	// A later successful configuration recovers.
	if err := d.Configure(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadTemperature(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestConfigureBusFailureAborts(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)
	bus.FailReg(0x75) // filter

	err := d.Configure(ctx, 0)
	if !errors.Is(err, errcode.BusTransfer) {
		t.Fatalf("err = %v", err)
	}
	for _, w := range bus.Writes() {
		if w.Reg == 0x71 || w.Reg == 0x64 || w.Reg == 0x5A {
			t.Fatalf("write to %#02x after the failing step", w.Reg)
		}
	}
	if _, err := d.ReadHumidity(ctx); errcode.Of(err) != errcode.NotReady {
		t.Fatalf("ReadHumidity err = %v", err)
	}
}

func TestReadChannels(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDevice(t)

	// Pressure before any temperature reading triggers one.
	p, err := d.ReadPressure(ctx)
	if err != nil || p != 99113 {
		t.Fatalf("ReadPressure = %d, %v", p, err)
	}
	temp, err := d.ReadTemperature(ctx)
	if err != nil || temp != 2898 {
		t.Fatalf("ReadTemperature = %d, %v", temp, err)
	}
	h, err := d.ReadHumidity(ctx)
	if err != nil || h != 84068 {
		t.Fatalf("ReadHumidity = %d, %v", h, err)
	}
	g, err := d.ReadGasResistance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if g != (GasReading{Ohms: 444187, Valid: true, HeatStable: true}) {
		t.Fatalf("ReadGasResistance = %+v", g)
	}
}

func TestSense(t *testing.T) {
	d, _ := newTestDevice(t)
	s, err := d.Sense(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.CentiC != 2898 || s.Pa != 99113 || s.MilliRH != 84068 || s.Gas.Ohms != 444187 {
		t.Fatalf("sample = %+v", s)
	}
	if s.Time.IsZero() {
		t.Fatal("sample time not set")
	}

	env := s.Env()
	if want := 2898*10*physic.MilliCelsius + physic.ZeroCelsius; env.Temperature != want {
		t.Fatalf("Env temperature = %v, want %v", env.Temperature, want)
	}
	if env.Pressure != 99113*physic.Pascal {
		t.Fatalf("Env pressure = %v", env.Pressure)
	}
	if env.Humidity != 84068*physic.MilliRH {
		t.Fatalf("Env humidity = %v", env.Humidity)
	}
}

func TestMeasureTimeout(t *testing.T) {
	d, bus := newTestDevice(t)
	bus.OnWrite = nil // conversion never completes

	_, err := d.ReadTemperature(context.Background())
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestSetHeaterTempReadsAmbientFirst(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)

	if err := d.SetHeaterTemp(ctx, 320, 9); err != nil {
		t.Fatal(err)
	}
	if got := bus.Get(addr, 0x63); got != 134 {
		t.Fatalf("res_heat_9 = %d, want 134", got)
	}
	if err := d.SetHeaterTemp(ctx, 300, 10); errcode.Of(err) != errcode.FieldNotFound {
		t.Fatalf("profile 10 err = %v", err)
	}
	if err := d.SetGasWait(ctx, 0x59, 9); err != nil || bus.Get(addr, 0x6D) != 0x59 {
		t.Fatalf("SetGasWait: %v", err)
	}
}

func TestChipIDAndReset(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)
	bus.Set(addr, 0xD0, ChipIDValue)

	if id, err := d.ChipID(ctx); err != nil || id != ChipIDValue {
		t.Fatalf("ChipID = %#02x, %v", id, err)
	}
	if err := d.SoftReset(ctx); err != nil {
		t.Fatal(err)
	}
	ws := bus.Writes()
	if last := ws[len(ws)-1]; last.Reg != 0xE0 || last.Val != 0xB6 {
		t.Fatalf("last write = %+v", last)
	}
}

func TestSoftResetRequiresConfigure(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)
	if err := d.Configure(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.SoftReset(ctx); err != nil {
		t.Fatal(err)
	}
	// The chip is back at power-on control values.
	for _, reg := range []byte{0x71, 0x72, 0x74, 0x75} {
		bus.Set(addr, reg, 0)
	}

	if d.Ready() {
		t.Fatal("device ready after SoftReset")
	}
	if _, err := d.Sense(ctx); errcode.Of(err) != errcode.NotReady {
		t.Fatalf("Sense err = %v, want NotReady", err)
	}
	if _, err := d.ReadTemperature(ctx); errcode.Of(err) != errcode.NotReady {
		t.Fatalf("ReadTemperature err = %v, want NotReady", err)
	}

	if err := d.Configure(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if s, err := d.Sense(ctx); err != nil || s.CentiC != 2898 {
		t.Fatalf("Sense after Configure = %+v, %v", s, err)
	}
}

func TestRecalibrate(t *testing.T) {
	ctx := context.Background()
	d, bus := newTestDevice(t)

	updated := refCal
	updated.T3 = -7
	updated.G3 = 21
	loadCal(bus, updated)
	if err := d.Recalibrate(ctx); err != nil {
		t.Fatal(err)
	}
	if got := d.Calibration(); got != updated {
		t.Fatalf("calibration after Recalibrate\n got %+v\nwant %+v", got, updated)
	}

	// A failed pass leaves the previous coefficients in place.
	loadCal(bus, refCal)
	bus.FailReg(0x04)
	err := d.Recalibrate(ctx)
	if errcode.Of(err) != errcode.BusTransfer {
		t.Fatalf("err = %v, want BusTransfer", err)
	}
	if got := d.Calibration(); got != updated {
		t.Fatalf("calibration replaced by a failed read: %+v", got)
	}
}

func TestSignExtend4(t *testing.T) {
	for in, want := range map[byte]int8{0x0: 0, 0x7: 7, 0x8: -8, 0xD: -3, 0xF: -1} {
		if got := signExtend4(in); got != want {
			t.Fatalf("signExtend4(%#x) = %d, want %d", in, got, want)
		}
	}
}

// The field map is checked against a transcription of the datasheet memory map.
func TestFieldMapMatchesDatasheet(t *testing.T) {
	raw, err := os.ReadFile("testdata/fieldmap.yaml")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string][]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc) != FieldMap.Len() {
		t.Fatalf("fixture has %d fields, map has %d", len(doc), FieldMap.Len())
	}
	for name, e := range doc {
		if len(e) != 4 {
			t.Fatalf("%s: malformed entry %v", name, e)
		}
		f, ok := FieldMap.Lookup(name)
		if !ok {
			t.Fatalf("%s missing from FieldMap", name)
		}
		reg, _ := e[0].(int)
		off, _ := e[1].(int)
		width, _ := e[2].(int)
		wr, _ := e[3].(bool)
		if int(f.Reg) != reg || int(f.Offset) != off || int(f.Width) != width || f.Writable != wr {
			t.Fatalf("%s = %+v, datasheet [%#02x %d %d %v]", name, f, reg, off, width, wr)
		}
	}
}
