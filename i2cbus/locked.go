package i2cbus

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Locked serialises a bus with a mutex held for the duration of each
// transfer. It suits callers that do not want a worker goroutine.
type Locked struct {
	mu      sync.Mutex
	bus     drivers.I2C
	metrics *Metrics
}

func NewLocked(bus drivers.I2C, m *Metrics) *Locked {
	return &Locked{bus: bus, metrics: m}
}

var _ drivers.I2C = (*Locked)(nil)

func (l *Locked) Tx(addr uint16, w, r []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := time.Now()
	err := l.bus.Tx(addr, w, r)
	l.metrics.observe(addr, err, time.Since(start))
	return err
}

// WriteRead checks ctx before taking the lock; a transfer in progress is not
// interrupted.
func (l *Locked) WriteRead(ctx context.Context, addr uint16, reg byte, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Tx(addr, []byte{reg}, buf)
}

func (l *Locked) Write(ctx context.Context, addr uint16, reg, val byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Tx(addr, []byte{reg, val}, nil)
}
