// Package regmap provides name-addressable register and bit-field access to a
// device behind a shared, serialised byte transport.
//
// A Chip pairs a Transport, a 7-bit bus address and a Directory of named
// fields:
//
//	c := regmap.New(bus, 0x77, bme680.FieldMap)
//	v, err := c.ReadField(ctx, "osrs_t")
//	err = c.WriteField(ctx, "mode", 0b01)
//
// Field writes are read-modify-write sequences of two transport calls. The
// transport serialises individual transfers, but nothing locks the register
// between the read and the write: one goroutine must own each physical
// device. Unrelated devices on the same bus may be driven concurrently.
package regmap

import (
	"context"
	"fmt"

	"envnode-go/errcode"

	"go.uber.org/zap"
)

// Transport is the bus capability a Chip consumes. Implementations must
// serialise calls from all goroutines against the same physical bus.
type Transport interface {
	// WriteRead writes reg and then reads len(buf) bytes without releasing the bus.
	WriteRead(ctx context.Context, addr uint16, reg byte, buf []byte) error
	// Write writes val to reg.
	Write(ctx context.Context, addr uint16, reg byte, val byte) error
}

// Chip is the accessor for one device. It borrows the transport; closing the
// transport is the caller's business.
type Chip struct {
	t    Transport
	addr uint16
	dir  Directory
	log  *zap.Logger
}

type Option func(*Chip)

// WithLogger sets the logger used for register traffic (Debug level).
func WithLogger(l *zap.Logger) Option {
	return func(c *Chip) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Chip. dir may be nil for raw register access only; every named
// operation then reports FieldNotFound.
func New(t Transport, addr uint16, dir Directory, opts ...Option) *Chip {
	c := &Chip{t: t, addr: addr, dir: dir, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(zap.String("addr", fmt.Sprintf("0x%02x", addr)))
	return c
}

func (c *Chip) Addr() uint16         { return c.addr }
func (c *Chip) Directory() Directory { return c.dir }

// Lookup resolves name in the chip's directory.
func (c *Chip) Lookup(name string) (Field, error) {
	if c.dir == nil {
		return Field{}, errcode.Wrap(errcode.FieldNotFound, "lookup", name, nil)
	}
	f, ok := c.dir.Lookup(name)
	if !ok {
		return Field{}, errcode.Wrap(errcode.FieldNotFound, "lookup", name, nil)
	}
	return f, nil
}

// ---------------- Raw registers ----------------

func (c *Chip) readRegs(ctx context.Context, op string, reg byte, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := c.t.WriteRead(ctx, c.addr, reg, buf); err != nil {
		return errcode.Wrap(errcode.BusTransfer, op, fmt.Sprintf("reg 0x%02x", reg), err)
	}
	return nil
}

func (c *Chip) writeReg(ctx context.Context, op string, reg, v byte) error {
	if err := c.t.Write(ctx, c.addr, reg, v); err != nil {
		return errcode.Wrap(errcode.BusTransfer, op, fmt.Sprintf("reg 0x%02x", reg), err)
	}
	return nil
}

// ReadRegs reads len(buf) consecutive registers starting at reg.
func (c *Chip) ReadRegs(ctx context.Context, reg byte, buf []byte) error {
	if err := c.readRegs(ctx, "read_regs", reg, buf); err != nil {
		return err
	}
	if c.verbose(ctx) {
		for i, v := range buf {
			c.logReg("read register", reg+byte(i), v)
		}
	}
	return nil
}

// WriteReg writes one register.
func (c *Chip) WriteReg(ctx context.Context, reg, v byte) error {
	if err := c.writeReg(ctx, "write_reg", reg, v); err != nil {
		return err
	}
	if c.verbose(ctx) {
		c.logReg("write register", reg, v)
	}
	return nil
}

// ReadReg reads a single register.
func (c *Chip) ReadReg(ctx context.Context, reg byte) (byte, error) {
	var b [1]byte
	if err := c.readRegs(ctx, "read_reg", reg, b[:]); err != nil {
		return 0, err
	}
	if c.verbose(ctx) {
		c.logReg("read register", reg, b[0])
	}
	return b[0], nil
}

// ---------------- Registers addressed by field name ----------------

// ReadRegsNamed reads len(buf) registers starting at the register holding name.
func (c *Chip) ReadRegsNamed(ctx context.Context, name string, buf []byte) error {
	f, err := c.Lookup(name)
	if err != nil {
		return err
	}
	if err := c.readRegs(ctx, "read_regs", f.Reg, buf); err != nil {
		return err
	}
	if c.verbose(ctx) {
		c.log.Debug("read registers", zap.String("name", name), zap.Binary("data", buf))
	}
	return nil
}

// ReadRegNamed reads the whole register holding name, ignoring the field's
// offset and width.
func (c *Chip) ReadRegNamed(ctx context.Context, name string) (byte, error) {
	f, err := c.Lookup(name)
	if err != nil {
		return 0, err
	}
	var b [1]byte
	if err := c.readRegs(ctx, "read_reg", f.Reg, b[:]); err != nil {
		return 0, err
	}
	if c.verbose(ctx) {
		c.logNamed("read register", name, b[0])
	}
	return b[0], nil
}

// WriteRegNamed overwrites the whole register holding name. The field must be
// writable.
func (c *Chip) WriteRegNamed(ctx context.Context, name string, v byte) error {
	f, err := c.writable("write_reg", name)
	if err != nil {
		return err
	}
	if err := c.writeReg(ctx, "write_reg", f.Reg, v); err != nil {
		return err
	}
	if c.verbose(ctx) {
		c.logNamed("write register", name, v)
	}
	return nil
}

// ---------------- Fields ----------------

// ReadField returns the value of a named field, right-aligned.
func (c *Chip) ReadField(ctx context.Context, name string) (byte, error) {
	f, err := c.Lookup(name)
	if err != nil {
		return 0, err
	}
	var b [1]byte
	if err := c.readRegs(ctx, "read_field", f.Reg, b[:]); err != nil {
		return 0, err
	}
	v := f.Extract(b[0])
	if c.verbose(ctx) {
		c.logNamed("read field", name, v)
	}
	return v, nil
}

// WriteField replaces the bits of a named field and leaves the rest of the
// register as read. Bits of v above the field width are dropped.
func (c *Chip) WriteField(ctx context.Context, name string, v byte) error {
	f, err := c.writable("write_field", name)
	if err != nil {
		return err
	}
	var b [1]byte
	if err := c.readRegs(ctx, "write_field", f.Reg, b[:]); err != nil {
		return err
	}
	nv := f.Insert(b[0], v)
	if err := c.writeReg(ctx, "write_field", f.Reg, nv); err != nil {
		return err
	}
	if c.verbose(ctx) {
		c.logNamed("write field", name, nv)
	}
	return nil
}

func (c *Chip) writable(op, name string) (Field, error) {
	f, err := c.Lookup(name)
	if err != nil {
		return Field{}, err
	}
	if !f.Writable {
		return Field{}, errcode.Wrap(errcode.ReadOnly, op, name, nil)
	}
	return f, nil
}

// ---------------- Logging ----------------

func (c *Chip) verbose(ctx context.Context) bool {
	return !IsQuiet(ctx) && c.log.Core().Enabled(zap.DebugLevel)
}

func (c *Chip) logReg(msg string, reg, v byte) {
	c.log.Debug(msg,
		zap.String("reg", fmt.Sprintf("0x%02x", reg)),
		zap.String("bin", fmt.Sprintf("%08b", v)),
		zap.Uint8("val", v))
}

func (c *Chip) logNamed(msg, name string, v byte) {
	c.log.Debug(msg,
		zap.String("name", name),
		zap.String("bin", fmt.Sprintf("%08b", v)),
		zap.Uint8("val", v))
}
