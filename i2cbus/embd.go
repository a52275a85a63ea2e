package i2cbus

import (
	"github.com/kidoman/embd"
	"tinygo.org/x/drivers"
)

// Embd adapts a Linux embd.I2CBus to drivers.I2C.
type Embd struct {
	bus embd.I2CBus
}

var _ drivers.I2C = (*Embd)(nil)

func NewEmbd(bus embd.I2CBus) *Embd { return &Embd{bus: bus} }

// OpenEmbd opens bus n through the embd host driver (/dev/i2c-<n> on the
// generic Linux driver). A host driver must be registered, e.g. by importing
// github.com/kidoman/embd/host/all.
func OpenEmbd(n byte) (*Embd, error) {
	if err := embd.InitI2C(); err != nil {
		return nil, err
	}
	return &Embd{bus: embd.NewI2CBus(n)}, nil
}

// Tx maps the write/read shape onto embd calls. A one-byte write followed by
// a read is a register read with repeated start; other combinations are
// issued as separate transactions.
func (e *Embd) Tx(addr uint16, w, r []byte) error {
	a := byte(addr)
	switch {
	case len(w) == 1 && len(r) > 0:
		return e.bus.ReadFromReg(a, w[0], r)
	case len(w) == 2 && len(r) == 0:
		return e.bus.WriteByteToReg(a, w[0], w[1])
	}
	if len(w) > 0 {
		if err := e.bus.WriteBytes(a, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		b, err := e.bus.ReadBytes(a, len(r))
		if err != nil {
			return err
		}
		copy(r, b)
	}
	return nil
}

func (e *Embd) Close() error { return e.bus.Close() }
