package params

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params is a validated, immutable set of stage options. Two Params are
// equal when they were validated for the same stage and schema version and
// hold the same values; Key gives that identity as a string so Params can
// be used to memoise work across cells.
type Params struct {
	stage   string
	version int
	values  map[string]any
	key     string
}

func newParams(stage string, version int, values map[string]any) Params {
	p := Params{stage: stage, version: version, values: values}
	p.key = p.canonical()
	return p
}

// Stage returns the name of the stage the params were validated for.
func (p Params) Stage() string {
	return p.stage
}

// Version returns the schema version the params were validated against.
func (p Params) Version() int {
	return p.version
}

// IsZero reports whether p was never validated.
func (p Params) IsZero() bool {
	return p.values == nil
}

// Names returns the option names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the raw value of an option.
func (p Params) Value(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Int returns an Int option. It panics when the option is not an Int
// option of the schema, which is a programming error.
func (p Params) Int(name string) int {
	return int(p.mustGet(name).(int64))
}

// Float returns a Float option.
func (p Params) Float(name string) float64 {
	return p.mustGet(name).(float64)
}

// Bool returns a Bool option.
func (p Params) Bool(name string) bool {
	return p.mustGet(name).(bool)
}

// String returns a String or Enum option.
func (p Params) String(name string) string {
	return p.mustGet(name).(string)
}

func (p Params) mustGet(name string) any {
	v, ok := p.values[name]
	if !ok {
		panic(fmt.Sprintf("params: stage %s has no option %q", p.stage, name))
	}
	return v
}

// Map returns a copy of the values, suitable for re-validation or
// serialisation.
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// With returns new Params with overrides applied, validated against schema.
func (p Params) With(schema Schema, overrides map[string]any) (Params, error) {
	merged := p.Map()
	for k, v := range overrides {
		merged[k] = v
	}
	return schema.New(merged)
}

// Key returns the canonical structural identity of p.
func (p Params) Key() string {
	return p.key
}

// Fingerprint returns a SHA-256 hex digest of Key.
func (p Params) Fingerprint() string {
	sum := sha256.Sum256([]byte(p.key))
	return hex.EncodeToString(sum[:])
}

// Equal reports structural equality.
func (p Params) Equal(other Params) bool {
	return p.key == other.key
}

func (p Params) canonical() string {
	var b strings.Builder
	b.WriteString(p.stage)
	b.WriteString("@v")
	b.WriteString(strconv.Itoa(p.version))
	b.WriteByte('{')
	for i, name := range p.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		switch v := p.values[name].(type) {
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		case string:
			b.WriteString(strconv.Quote(v))
		default:
			fmt.Fprint(&b, v)
		}
	}
	b.WriteByte('}')
	return b.String()
}
