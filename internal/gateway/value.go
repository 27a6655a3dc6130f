package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Value is a sealed interface over the canonical column-value types.
// Only the types in this file implement it; engine-specific row types never
// escape the gateway, they are normalized into Values at the scan boundary.
type Value interface {
	dbValue() // sealed
	fmt.Stringer
}

// Int is any integer column, widened to 64 bits.
type Int int64

// Float is any floating-point column, widened to 64 bits.
type Float float64

// Bool is a boolean column.
type Bool bool

// String is any character column.
type String string

// Bytes is a binary column.
type Bytes []byte

// Decimal is an arbitrary-precision numeric column.
type Decimal struct{ decimal.Decimal }

// UUID is a UUID column.
type UUID uuid.UUID

// JSON is a JSON/JSONB column, held as its compact textual form.
type JSON string

// Date is a calendar date without a time component.
type Date time.Time

// DateTime is a wall-clock timestamp without a zone.
type DateTime time.Time

// Timestamp is a zone-aware timestamp, normalized to UTC.
type Timestamp time.Time

// Null is a genuine SQL NULL.
type Null struct{}

// Unsupported marks a column whose reported type has no decoder, or whose
// raw value did not match its decoder's expectations. Kept distinct from
// Null so "wrong type" and "is NULL" stay distinguishable in assertions.
type Unsupported struct{}

func (Int) dbValue()         {}
func (Float) dbValue()       {}
func (Bool) dbValue()        {}
func (String) dbValue()      {}
func (Bytes) dbValue()       {}
func (Decimal) dbValue()     {}
func (UUID) dbValue()        {}
func (JSON) dbValue()        {}
func (Date) dbValue()        {}
func (DateTime) dbValue()    {}
func (Timestamp) dbValue()   {}
func (Null) dbValue()        {}
func (Unsupported) dbValue() {}

func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v String) String() string { return string(v) }
func (v Bytes) String() string  { return fmt.Sprintf("%v", []byte(v)) }
func (v UUID) String() string   { return uuid.UUID(v).String() }
func (v JSON) String() string   { return string(v) }

func (v Date) String() string     { return time.Time(v).Format("2006-01-02") }
func (v DateTime) String() string { return time.Time(v).Format("2006-01-02 15:04:05") }
func (v Timestamp) String() string {
	return time.Time(v).UTC().Format("2006-01-02 15:04:05.999999999 -0700 MST")
}

func (Null) String() string        { return "null" }
func (Unsupported) String() string { return "<unsupported>" }

// Row is one result row: an ordered sequence of Values, one per selected
// column, column order preserved.
type Row []Value

// CSV renders the row as a comma-joined line, mainly for diagnostics.
func (r Row) CSV() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// First returns the stringified first column, or "" for an empty row.
// SQL assertions compare against the first selected column only.
func (r Row) First() string {
	if len(r) == 0 {
		return ""
	}
	return r[0].String()
}
