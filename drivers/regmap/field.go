package regmap

import (
	"fmt"
	"sort"
)

// Field is a named bit slice of one 8-bit register. Fields never span two
// registers.
type Field struct {
	Reg      byte
	Offset   uint8
	Width    uint8
	Writable bool
}

// Mask returns the in-register mask covering the field's bits.
func (f Field) Mask() byte {
	return byte(((uint16(1) << f.Width) - 1) << f.Offset)
}

// Extract pulls the field value out of a full register value.
func (f Field) Extract(reg byte) byte {
	return (reg & f.Mask()) >> f.Offset
}

// Insert returns reg with the field's bits replaced by v. Bits of v above the
// field width are dropped.
func (f Field) Insert(reg, v byte) byte {
	m := f.Mask()
	return (reg &^ m) | ((v << f.Offset) & m)
}

// Validate checks the geometry invariants: 1 <= Width <= 8 and
// Offset+Width <= 8.
func Validate(f Field) error {
	if f.Width < 1 || f.Width > 8 {
		return fmt.Errorf("regmap: width %d out of range 1..8", f.Width)
	}
	if int(f.Offset)+int(f.Width) > 8 {
		return fmt.Errorf("regmap: offset %d + width %d spans past bit 7", f.Offset, f.Width)
	}
	return nil
}

// Directory resolves field names. Lookups are exact and case-sensitive; an
// unknown name reports false and never a default.
type Directory interface {
	Lookup(name string) (Field, bool)
}

// Map is an immutable Directory built once, normally at package init.
type Map struct {
	fields map[string]Field
	names  []string
}

// NewMap copies and validates fields.
func NewMap(fields map[string]Field) (*Map, error) {
	m := &Map{
		fields: make(map[string]Field, len(fields)),
		names:  make([]string, 0, len(fields)),
	}
	for name, f := range fields {
		if name == "" {
			return nil, fmt.Errorf("regmap: empty field name")
		}
		if err := Validate(f); err != nil {
			return nil, fmt.Errorf("%w (field %q)", err, name)
		}
		m.fields[name] = f
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

// MustMap is NewMap for static tables; it panics on an invalid entry.
func MustMap(fields map[string]Field) *Map {
	m, err := NewMap(fields)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Map) Lookup(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

func (m *Map) Len() int { return len(m.fields) }

// Names returns all field names in sorted order.
func (m *Map) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Overlapping lists the other entries that claim at least one bit of the
// same register as name. Whole-register aliases and their sub-fields show up
// here, so a caller can see every name that touches the bits it writes.
func (m *Map) Overlapping(name string) []string {
	f, ok := m.fields[name]
	if !ok {
		return nil
	}
	var out []string
	for _, other := range m.names {
		if other == name {
			continue
		}
		g := m.fields[other]
		if g.Reg == f.Reg && g.Mask()&f.Mask() != 0 {
			out = append(out, other)
		}
	}
	return out
}
