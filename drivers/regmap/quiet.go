package regmap

import "context"

type quietKey struct{}

// Quiet marks ctx so that Chip operations run under it skip their per-register
// debug lines. Drivers wrap compound operations (calibration reads, a full
// measurement) in it and log one summary line instead.
func Quiet(ctx context.Context) context.Context {
	if IsQuiet(ctx) {
		return ctx
	}
	return context.WithValue(ctx, quietKey{}, true)
}

// IsQuiet reports whether ctx was produced by Quiet.
func IsQuiet(ctx context.Context) bool {
	v, _ := ctx.Value(quietKey{}).(bool)
	return v
}
