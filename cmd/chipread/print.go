package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"envnode-go/drivers/regmap"
)

// printFields reads each named field and prints name, location and value.
// The first failing read stops the listing.
func printFields(ctx context.Context, w io.Writer, chip *regmap.Chip, names []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		f, err := chip.Lookup(name)
		if err != nil {
			return err
		}
		v, err := chip.ReadField(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t0x%02x[%d:%d]\t0x%02x\t%0*b\n",
			name, f.Reg, f.Offset+f.Width-1, f.Offset, v, int(f.Width), v)
	}
	return tw.Flush()
}
