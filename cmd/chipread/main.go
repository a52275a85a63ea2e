// cmd/chipread prints named BME680 fields and registers, and optionally a
// full compensated reading.
//
//	chipread --bus 1 --addr 0x77 chip_id osrs_t mode
//	chipread --all
//	chipread --sense --profile 0
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"envnode-go/drivers/bme680"
	"envnode-go/drivers/regmap"
	"envnode-go/i2cbus"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("chipread", pflag.ExitOnError)
	busNum := fs.Int("bus", 1, "I2C bus number")
	addrStr := fs.String("addr", "0x77", "7-bit device address")
	all := fs.Bool("all", false, "print every field of the register map")
	sense := fs.Bool("sense", false, "configure the sensor and take one reading")
	profile := fs.Uint8("profile", 0, "heater profile used with --sense")
	verbose := fs.BoolP("verbose", "v", false, "log register traffic")
	_ = fs.Parse(os.Args[1:])

	if err := run(*busNum, *addrStr, *all, *sense, *profile, *verbose, fs.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "chipread:", err)
		os.Exit(1)
	}
}

func run(busNum int, addrStr string, all, sense bool, profile uint8, verbose bool, names []string) error {
	addr, err := strconv.ParseUint(addrStr, 0, 7)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", addrStr, err)
	}
	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer logger.Sync()
	}

	backend, err := i2cbus.OpenEmbd(byte(busNum))
	if err != nil {
		return err
	}
	defer embd.CloseI2C()
	defer backend.Close()
	bus := i2cbus.NewLocked(backend, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chip := regmap.New(bus, uint16(addr), bme680.FieldMap, regmap.WithLogger(logger))
	if all {
		names = bme680.FieldMap.Names()
	}
	if err := printFields(ctx, os.Stdout, chip, names); err != nil {
		return err
	}

	if sense {
		dev, err := bme680.New(ctx, bus, bme680.Config{Address: uint16(addr)}, bme680.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := dev.Configure(ctx, profile); err != nil {
			return err
		}
		s, err := dev.Sense(ctx)
		if err != nil {
			return err
		}
		env := s.Env()
		fmt.Printf("temperature  %s\npressure     %s\nhumidity     %s\ngas          %d Ω (valid=%v stable=%v)\n",
			env.Temperature, env.Pressure, env.Humidity, s.Gas.Ohms, s.Gas.Valid, s.Gas.HeatStable)
	}
	return nil
}
