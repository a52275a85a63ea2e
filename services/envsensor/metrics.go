package envsensor

import (
	"envnode-go/drivers/bme680"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauges exports the last reading of every sensor. A nil *Gauges records
// nothing.
type Gauges struct {
	temperature *prometheus.GaugeVec
	pressure    *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	gas         *prometheus.GaugeVec
	failures    *prometheus.CounterVec
}

func NewGauges(reg prometheus.Registerer) *Gauges {
	gv := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, []string{"sensor"})
	}
	g := &Gauges{
		temperature: gv("envnode_temperature_celsius", "Last compensated temperature."),
		pressure:    gv("envnode_pressure_pascals", "Last compensated pressure."),
		humidity:    gv("envnode_humidity_percent", "Last compensated relative humidity."),
		gas:         gv("envnode_gas_resistance_ohms", "Last gas resistance with a valid, heat-stable reading."),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envnode_sensor_failures_total",
			Help: "Failed configure or sense steps.",
		}, []string{"sensor", "stage"}),
	}
	if reg != nil {
		reg.MustRegister(g.temperature, g.pressure, g.humidity, g.gas, g.failures)
	}
	return g
}

func (g *Gauges) record(id string, s bme680.Sample) {
	if g == nil {
		return
	}
	g.temperature.WithLabelValues(id).Set(float64(s.CentiC) / 100)
	g.pressure.WithLabelValues(id).Set(float64(s.Pa))
	g.humidity.WithLabelValues(id).Set(float64(s.MilliRH) / 1000)
	if s.Gas.Valid && s.Gas.HeatStable {
		g.gas.WithLabelValues(id).Set(float64(s.Gas.Ohms))
	}
}

func (g *Gauges) failed(id, stage string) {
	if g == nil {
		return
	}
	g.failures.WithLabelValues(id, stage).Inc()
}
