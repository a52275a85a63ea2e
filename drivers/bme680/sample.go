package bme680

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Sample is one compensated TPHG reading in fixed-point units.
type Sample struct {
	Time    time.Time
	CentiC  int32  // temperature, 0.01 °C
	Pa      uint32 // pressure, Pa
	MilliRH uint32 // relative humidity, 0.001 %RH
	Gas     GasReading
}

// Env converts the sample to physical units.
func (s Sample) Env() physic.Env {
	return physic.Env{
		Temperature: physic.Temperature(s.CentiC)*10*physic.MilliCelsius + physic.ZeroCelsius,
		Pressure:    physic.Pressure(s.Pa) * physic.Pascal,
		Humidity:    physic.RelativeHumidity(s.MilliRH) * physic.MilliRH,
	}
}
