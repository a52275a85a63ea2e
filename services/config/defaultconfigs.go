package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device type passed to LoadDevice
// Val: raw YAML for that device
// -----------------------------------------------------------------------------

const cfgRPi = `
bus: 1
sample_period: 10s
sensors:
  - id: env
    address: 0x77
    profile: 0
    heater_c: 300
    gas_wait_ms: 30
`

const cfgRPiDual = `
bus: 1
sample_period: 10s
sensors:
  - id: env-low
    address: 0x76
  - id: env-high
    address: 0x77
    profile: 1
    heater_c: 320
    gas_wait_ms: 100
`

var embeddedConfigs = map[string][]byte{
	"rpi":      []byte(cfgRPi),
	"rpi-dual": []byte(cfgRPiDual),
}

// EmbeddedConfigLookup allows overriding how embedded configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}
