package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInt(t *testing.T) {
	assert.Equal(t, Int(42), decodeInt(int64(42)))
	assert.Equal(t, Int(42), decodeInt([]byte("42")))
	assert.Equal(t, Int(-7), decodeInt("-7"))
	assert.Equal(t, Unsupported{}, decodeInt("not a number"))
	assert.Equal(t, Unsupported{}, decodeInt(3.14))
}

func TestDecodeFloat(t *testing.T) {
	assert.Equal(t, Float(3.5), decodeFloat(3.5))
	assert.Equal(t, Float(3.5), decodeFloat(float32(3.5)))
	assert.Equal(t, Float(2), decodeFloat(int64(2)))
	assert.Equal(t, Float(1.25), decodeFloat([]byte("1.25")))
	assert.Equal(t, Unsupported{}, decodeFloat([]byte("abc")))
}

func TestDecodeBool(t *testing.T) {
	assert.Equal(t, Bool(true), decodeBool(true))
	assert.Equal(t, Bool(false), decodeBool(int64(0)))
	assert.Equal(t, Bool(true), decodeBool(int64(1)))
	// MySQL BIT(1) arrives as a raw byte.
	assert.Equal(t, Bool(true), decodeBool([]byte{1}))
	assert.Equal(t, Bool(false), decodeBool([]byte{0}))
	assert.Equal(t, Bool(true), decodeBool([]byte("1")))
	assert.Equal(t, Bool(true), decodeBool("true"))
	assert.Equal(t, Unsupported{}, decodeBool("maybe"))
}

func TestDecodeDecimal(t *testing.T) {
	v := decodeDecimal("12.340")
	d, ok := v.(Decimal)
	require.True(t, ok)
	assert.Equal(t, "12.340", d.String(), "scale is preserved")

	assert.Equal(t, "99", decodeDecimal(int64(99)).String())
	assert.Equal(t, Unsupported{}, decodeDecimal("not decimal"))
}

func TestDecodeUUID(t *testing.T) {
	const text = "0195a2b4-1111-7222-8333-444455556666"

	v := decodeUUID(text)
	require.IsType(t, UUID{}, v)
	assert.Equal(t, text, v.String())

	// Textual bytes and raw 16-byte forms both decode.
	assert.Equal(t, text, decodeUUID([]byte(text)).String())
	raw := make([]byte, 16)
	copy(raw, []byte{0x01, 0x95, 0xa2, 0xb4, 0x11, 0x11, 0x72, 0x22, 0x83, 0x33, 0x44, 0x44, 0x55, 0x55, 0x66, 0x66})
	assert.Equal(t, text, decodeUUID(raw).String())

	assert.Equal(t, Unsupported{}, decodeUUID("not-a-uuid"))
}

func TestDecodeJSONCompacts(t *testing.T) {
	v := decodeJSON(`{ "a": 1,  "b": [2, 3] }`)
	assert.Equal(t, JSON(`{"a":1,"b":[2,3]}`), v)

	assert.Equal(t, JSON(`[1,2]`), decodeJSON([]byte("[1, 2]")))
	assert.Equal(t, Unsupported{}, decodeJSON("{broken"))
	assert.Equal(t, Unsupported{}, decodeJSON(int64(1)))
}

func TestDecodeTemporal(t *testing.T) {
	native := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-15", decodeDate(native).String())
	assert.Equal(t, "2024-03-15 10:30:00", decodeDateTime(native).String())
	assert.Equal(t, "2024-03-15 10:30:00 +0000 UTC", decodeTimestamp(native).String())

	// Textual forms the mysql driver produces without parseTime.
	assert.Equal(t, "2024-03-15", decodeDate("2024-03-15").String())
	assert.Equal(t, "2024-03-15 10:30:00", decodeDateTime([]byte("2024-03-15 10:30:00")).String())
	assert.Equal(t, "2024-03-15 09:30:00 +0000 UTC",
		decodeTimestamp("2024-03-15T10:30:00+01:00").String())

	assert.Equal(t, Unsupported{}, decodeDate("yesterday"))
	assert.Equal(t, Unsupported{}, decodeTimestamp(int64(5)))
}

func TestDecodeDynamic(t *testing.T) {
	assert.Equal(t, Int(3), decodeDynamic(int64(3)))
	assert.Equal(t, Float(1.5), decodeDynamic(1.5))
	assert.Equal(t, Bool(true), decodeDynamic(true))
	assert.Equal(t, String("x"), decodeDynamic("x"))
	assert.Equal(t, String("y"), decodeDynamic([]byte("y")))
	assert.Equal(t, Unsupported{}, decodeDynamic(struct{}{}))
}

func TestDecodeTablesCoverCommonTypes(t *testing.T) {
	// A representative column type per class must be present in each
	// engine's table; a missing entry silently degrades to Unsupported.
	for _, name := range []string{"INT8", "FLOAT8", "BOOL", "TEXT", "UUID", "NUMERIC", "JSONB", "BYTEA", "DATE", "TIMESTAMPTZ"} {
		assert.Contains(t, postgresDecode, name, "postgres")
	}
	for _, name := range []string{"BIGINT", "DOUBLE", "BOOLEAN", "VARCHAR", "DECIMAL", "JSON", "BLOB", "DATETIME", "UNSIGNED INT"} {
		assert.Contains(t, mysqlDecode, name, "mysql")
	}
	for _, name := range []string{"INTEGER", "REAL", "BOOLEAN", "TEXT", "NUMERIC", "BLOB", "DATETIME"} {
		assert.Contains(t, sqliteDecode, name, "sqlite")
	}
}

func TestBoolRoundTripPerEngine(t *testing.T) {
	// The same logical true must normalize identically regardless of the
	// engine's wire representation.
	cases := []struct {
		name  string
		table map[string]decodeFunc
		typ   string
		raw   any
	}{
		{"postgres native bool", postgresDecode, "BOOL", true},
		{"mysql boolean as int", mysqlDecode, "BOOLEAN", int64(1)},
		{"mysql bit as byte", mysqlDecode, "BIT", []byte{1}},
		{"sqlite boolean as int", sqliteDecode, "BOOLEAN", int64(1)},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := tt.table[tt.typ]
			require.True(t, ok)
			assert.Equal(t, Bool(true), fn(tt.raw))
			assert.Equal(t, "true", fn(tt.raw).String())
		})
	}
}
