// cmd/envnode samples the configured BME680 sensors on one Linux I2C bus and
// exports the readings on /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"envnode-go/drivers/bme680"
	"envnode-go/i2cbus"
	"envnode-go/services/config"
	"envnode-go/services/envsensor"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("envnode", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "YAML configuration file")
	device := fs.String("device", "rpi", "embedded configuration used when --config is not given")
	fs.Int("bus", 1, "I2C bus number")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("metrics-addr", ":9108", "listen address for /metrics")
	fs.Duration("sample-period", 10*time.Second, "time between samples")
	_ = fs.Parse(os.Args[1:])

	var (
		cfg *config.Config
		err error
	)
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath, fs)
	} else {
		cfg, err = config.LoadDevice(*device, fs)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("envnode failed", zap.Error(err))
	}
	logger.Info("envnode stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()

	backend, err := i2cbus.OpenEmbd(byte(cfg.Bus))
	if err != nil {
		return fmt.Errorf("failed to open i2c-%d: %w", cfg.Bus, err)
	}
	defer embd.CloseI2C()
	defer backend.Close()

	owner := i2cbus.NewOwner(backend,
		i2cbus.WithTimeout(cfg.TransferTimeout),
		i2cbus.WithQueue(cfg.QueueSize),
		i2cbus.WithMetrics(i2cbus.NewMetrics(reg, fmt.Sprintf("i2c-%d", cfg.Bus))),
		i2cbus.WithLogger(logger.Named("i2c")))
	defer owner.Close()

	gauges := envsensor.NewGauges(reg)
	results := make(chan envsensor.Result, 4*len(cfg.Sensors))

	// Probe every device before any sampler starts.
	samplers := make([]*envsensor.Sampler, 0, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		dev, err := bme680.New(ctx, owner, bme680.Config{Address: sc.Address},
			bme680.WithLogger(logger.Named(sc.ID)))
		if err != nil {
			return fmt.Errorf("sensor %s at 0x%02x: %w", sc.ID, sc.Address, err)
		}
		id, err := dev.ChipID(ctx)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", sc.ID, err)
		}
		if id != bme680.ChipIDValue {
			logger.Warn("unexpected chip id", zap.String("sensor", sc.ID), zap.Uint8("chip_id", id))
		}
		samplers = append(samplers, envsensor.New(envsensor.Config{
			ID:       sc.ID,
			Settings: sc.Settings(),
			Period:   cfg.SamplePeriod,
		}, dev, results, envsensor.WithLogger(logger), envsensor.WithGauges(gauges)))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range samplers {
		g.Go(func() error { return s.Run(gctx) })
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case r := <-results:
				if r.Err != nil {
					continue // already logged by the sampler
				}
				env := r.Sample.Env()
				logger.Info("reading",
					zap.String("sensor", r.ID),
					zap.Stringer("temperature", env.Temperature),
					zap.Stringer("pressure", env.Pressure),
					zap.Stringer("humidity", env.Humidity),
					zap.Uint32("gas_ohms", r.Sample.Gas.Ohms))
			}
		}
	})

	logger.Info("envnode started", zap.Int("sensors", len(cfg.Sensors)), zap.Int("bus", cfg.Bus))
	return g.Wait()
}
