// Package i2cbus serialises access to one physical I2C bus.
//
// Every backend is a tinygo.org/x/drivers.I2C. Owner runs a single worker
// goroutine per bus and queues transfers to it; Locked takes a mutex around
// each transfer instead. Both implement regmap.Transport.
package i2cbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"envnode-go/errcode"

	"go.uber.org/zap"
	"tinygo.org/x/drivers"
)

type request struct {
	ctx  context.Context
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// Owner hosts the worker goroutine for one bus.
type Owner struct {
	bus     drivers.I2C
	reqs    chan request
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	timeout time.Duration // per call, 0 => caller's context only
	metrics *Metrics
	log     *zap.Logger
}

type Option func(*Owner)

// WithTimeout bounds queueing plus transfer time of every call.
func WithTimeout(d time.Duration) Option { return func(o *Owner) { o.timeout = d } }

// WithQueue sets the request queue depth. Default 16.
func WithQueue(n int) Option {
	return func(o *Owner) {
		if n > 0 {
			o.reqs = make(chan request, n)
		}
	}
}

func WithMetrics(m *Metrics) Option { return func(o *Owner) { o.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(o *Owner) {
		if l != nil {
			o.log = l
		}
	}
}

// NewOwner starts the worker. The bus must already be configured; Close stops
// the worker but leaves the bus open.
func NewOwner(bus drivers.I2C, opts ...Option) *Owner {
	o := &Owner{
		bus:     bus,
		reqs:    make(chan request, 16),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		timeout: 250 * time.Millisecond,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.loop()
	return o
}

func (o *Owner) loop() {
	defer close(o.stopped)
	for {
		select {
		case req := <-o.reqs:
			o.metrics.queued(len(o.reqs))
			if req.ctx.Err() != nil {
				// Caller already gave up; skip the transfer.
				o.metrics.abandoned(req.addr)
				continue
			}
			start := time.Now()
			err := o.bus.Tx(req.addr, req.w, req.r)
			o.metrics.observe(req.addr, err, time.Since(start))
			if err != nil {
				o.log.Debug("i2c transfer failed", zap.String("addr", hexAddr(req.addr)), zap.Error(err))
			}
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

// Close stops the worker and waits for it to exit. Calls made afterwards
// return errcode.Closed.
func (o *Owner) Close() error {
	o.once.Do(func() { close(o.quit) })
	<-o.stopped
	return nil
}

// Tx satisfies drivers.I2C with the owner's default timeout.
func (o *Owner) Tx(addr uint16, w, r []byte) error {
	return o.tx(context.Background(), addr, w, r)
}

// WriteRead writes reg then reads len(buf) bytes as one transfer.
func (o *Owner) WriteRead(ctx context.Context, addr uint16, reg byte, buf []byte) error {
	return o.tx(ctx, addr, []byte{reg}, buf)
}

// Write writes a single register.
func (o *Owner) Write(ctx context.Context, addr uint16, reg, val byte) error {
	return o.tx(ctx, addr, []byte{reg, val}, nil)
}

func (o *Owner) tx(ctx context.Context, addr uint16, w, r []byte) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	// The worker fills its own buffer; a caller that times out must not see
	// its slice written behind its back.
	req := request{ctx: ctx, addr: addr, w: append([]byte(nil), w...), done: make(chan error, 1)}
	if len(r) > 0 {
		req.r = make([]byte, len(r))
	}

	select {
	case <-o.quit:
		return errcode.Closed
	default:
	}

	// Bounded enqueue
	select {
	case o.reqs <- req:
		o.metrics.queued(len(o.reqs))
	case <-ctx.Done():
		return errcode.Wrap(errcode.Busy, "i2c", hexAddr(addr), ctx.Err())
	case <-o.quit:
		return errcode.Closed
	}

	// Completion
	select {
	case err := <-req.done:
		if err == nil {
			copy(r, req.r)
		}
		return err
	case <-ctx.Done():
		return errcode.Wrap(errcode.Timeout, "i2c", hexAddr(addr), ctx.Err())
	case <-o.quit:
		return errcode.Closed
	}
}

func hexAddr(a uint16) string { return fmt.Sprintf("0x%02x", a) }
