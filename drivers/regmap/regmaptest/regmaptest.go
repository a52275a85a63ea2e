// Package regmaptest provides an in-memory register file that satisfies
// regmap.Transport, for driver tests.
package regmaptest

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by transfers selected for failure.
var ErrInjected = errors.New("regmaptest: injected bus failure")

// Write records one register write.
type Write struct {
	Addr uint16
	Reg  byte
	Val  byte
}

// Bus is a fake bus holding one 256-byte register file per device address.
// Reads of an address that was never populated still succeed (all zero)
// unless the address is marked absent.
type Bus struct {
	mu     sync.Mutex
	regs   map[uint16]*[256]byte
	absent map[uint16]bool

	failAfter int // >0: fail the transfer with this 1-based index
	failReg   map[byte]bool
	calls     int

	writes []Write

	// OnWrite, when set, runs after a write is applied (under the bus lock).
	// Tests use it to model self-clearing bits.
	OnWrite func(regs *[256]byte, reg, val byte)
}

func New() *Bus {
	return &Bus{
		regs:    map[uint16]*[256]byte{},
		absent:  map[uint16]bool{},
		failReg: map[byte]bool{},
	}
}

func (b *Bus) file(addr uint16) *[256]byte {
	r, ok := b.regs[addr]
	if !ok {
		r = new([256]byte)
		b.regs[addr] = r
	}
	return r
}

// Set preloads registers of addr starting at reg.
func (b *Bus) Set(addr uint16, reg byte, vals ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.file(addr)
	for i, v := range vals {
		r[reg+byte(i)] = v
	}
}

// Get returns the current value of one register.
func (b *Bus) Get(addr uint16, reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file(addr)[reg]
}

// Absent makes every transfer to addr fail as a NACK would.
func (b *Bus) Absent(addr uint16) {
	b.mu.Lock()
	b.absent[addr] = true
	b.mu.Unlock()
}

// FailAt makes the n-th transfer from now (1-based) fail. 0 disables.
func (b *Bus) FailAt(n int) {
	b.mu.Lock()
	b.calls = 0
	b.failAfter = n
	b.mu.Unlock()
}

// FailReg makes every transfer that starts at reg fail.
func (b *Bus) FailReg(reg byte) {
	b.mu.Lock()
	b.failReg[reg] = true
	b.mu.Unlock()
}

// Writes returns a copy of the write log.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// Calls returns the number of transfers since the last FailAt.
func (b *Bus) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Bus) fail(addr uint16, reg byte) bool {
	b.calls++
	if b.absent[addr] || b.failReg[reg] {
		return true
	}
	return b.failAfter > 0 && b.calls == b.failAfter
}

func (b *Bus) WriteRead(ctx context.Context, addr uint16, reg byte, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail(addr, reg) {
		return ErrInjected
	}
	r := b.file(addr)
	for i := range buf {
		buf[i] = r[reg+byte(i)]
	}
	return nil
}

func (b *Bus) Write(ctx context.Context, addr uint16, reg byte, val byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail(addr, reg) {
		return ErrInjected
	}
	r := b.file(addr)
	r[reg] = val
	b.writes = append(b.writes, Write{Addr: addr, Reg: reg, Val: val})
	if b.OnWrite != nil {
		b.OnWrite(r, reg, val)
	}
	return nil
}
