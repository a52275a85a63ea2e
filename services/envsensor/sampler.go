// Package envsensor runs periodic BME680 sampling. One Sampler goroutine owns
// one device; results fan in to a sink channel owned by the caller.
package envsensor

import (
	"context"
	"time"

	"envnode-go/drivers/bme680"
	"envnode-go/errcode"
	"envnode-go/x/timex"

	"go.uber.org/zap"
)

// Sensor is the part of *bme680.Device a Sampler drives.
type Sensor interface {
	ConfigureWith(ctx context.Context, s bme680.Settings) error
	Sense(ctx context.Context) (bme680.Sample, error)
}

var _ Sensor = (*bme680.Device)(nil)

// Result is one sampling outcome. Exactly one of Sample and Err is meaningful.
type Result struct {
	ID     string
	Sample bme680.Sample
	Err    error
}

type Config struct {
	ID       string
	Settings bme680.Settings
	// Period between samples. Default 10 s.
	Period time.Duration
	// SenseTimeout bounds one configure or sense call. Default 2 s.
	SenseTimeout time.Duration
}

type Sampler struct {
	cfg    Config
	dev    Sensor
	sink   chan<- Result
	log    *zap.Logger
	gauges *Gauges

	kick       chan struct{}
	configured bool
	timer      *time.Timer
}

type Option func(*Sampler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithGauges(g *Gauges) Option { return func(s *Sampler) { s.gauges = g } }

func New(cfg Config, dev Sensor, sink chan<- Result, opts ...Option) *Sampler {
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Second
	}
	if cfg.SenseTimeout <= 0 {
		cfg.SenseTimeout = 2 * time.Second
	}
	s := &Sampler{
		cfg:   cfg,
		dev:   dev,
		sink:  sink,
		log:   zap.NewNop(),
		kick:  make(chan struct{}, 1),
		timer: time.NewTimer(time.Hour),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("sensor", cfg.ID))
	return s
}

// Trigger asks for a sample now. It never blocks; repeated triggers before
// the loop wakes collapse into one.
func (s *Sampler) Trigger() bool {
	select {
	case s.kick <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run samples once immediately and then every Period until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.log.Info("sampler started", zap.Duration("period", s.cfg.Period))
	defer s.log.Info("sampler stopped")
	defer s.timer.Stop()

	timex.ResetTimer(s.timer, 0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
			s.step(ctx)
			timex.ResetTimer(s.timer, s.cfg.Period)
		case <-s.timer.C:
			s.step(ctx)
			timex.ResetTimer(s.timer, s.cfg.Period)
		}
	}
}

// step configures the device if needed and takes one sample. Retry of a
// failed configuration happens on the following step.
func (s *Sampler) step(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.SenseTimeout)
	defer cancel()

	if !s.configured {
		if err := s.dev.ConfigureWith(cctx, s.cfg.Settings); err != nil {
			s.log.Warn("configure failed", zap.Error(err))
			s.gauges.failed(s.cfg.ID, "configure")
			s.emit(Result{ID: s.cfg.ID, Err: err})
			return
		}
		s.configured = true
	}

	smp, err := s.dev.Sense(cctx)
	if err != nil {
		if errcode.Of(err) == errcode.NotReady {
			s.configured = false
		}
		s.log.Warn("sense failed", zap.Error(err))
		s.gauges.failed(s.cfg.ID, "sense")
		s.emit(Result{ID: s.cfg.ID, Err: err})
		return
	}
	s.gauges.record(s.cfg.ID, smp)
	s.emit(Result{ID: s.cfg.ID, Sample: smp})
}

func (s *Sampler) emit(r Result) {
	select {
	case s.sink <- r:
	default:
		s.log.Debug("sink full, result dropped")
	}
}
