package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// decodeFunc converts one raw driver value into a canonical Value.
// Raw values are whatever database/sql hands back for the column: drivers
// disagree (the mysql driver favors []byte, pgx favors typed Go values), so
// every decoder accepts the plausible raw shapes for its column class and
// returns Unsupported when the value matches none of them.
//
// Decoders never see nil: the caller maps SQL NULL to Null before dispatch.
type decodeFunc func(raw any) Value

// Decode tables, one per engine, keyed by the engine's reported column-type
// name (ColumnType.DatabaseTypeName, upper case). Exhaustive-with-fallback:
// a type name missing from the table normalizes to Unsupported rather than
// failing the query.

var postgresDecode = map[string]decodeFunc{
	"INT2":        decodeInt,
	"INT4":        decodeInt,
	"INT8":        decodeInt,
	"FLOAT4":      decodeFloat,
	"FLOAT8":      decodeFloat,
	"BOOL":        decodeBool,
	"TEXT":        decodeString,
	"VARCHAR":     decodeString,
	"BPCHAR":      decodeString,
	"CHAR":        decodeString,
	"NAME":        decodeString,
	"UUID":        decodeUUID,
	"NUMERIC":     decodeDecimal,
	"JSON":        decodeJSON,
	"JSONB":       decodeJSON,
	"BYTEA":       decodeBytes,
	"DATE":        decodeDate,
	"TIMESTAMP":   decodeDateTime,
	"TIMESTAMPTZ": decodeTimestamp,
}

var mysqlDecode = map[string]decodeFunc{
	"TINYINT":   decodeInt,
	"SMALLINT":  decodeInt,
	"MEDIUMINT": decodeInt,
	"INT":       decodeInt,
	"BIGINT":    decodeInt,

	"UNSIGNED TINYINT":   decodeInt,
	"UNSIGNED SMALLINT":  decodeInt,
	"UNSIGNED MEDIUMINT": decodeInt,
	"UNSIGNED INT":       decodeInt,
	"UNSIGNED BIGINT":    decodeInt,

	"FLOAT":  decodeFloat,
	"DOUBLE": decodeFloat,

	"DECIMAL": decodeDecimal,

	"BOOLEAN": decodeBool,
	"BIT":     decodeBool,

	"CHAR":       decodeString,
	"VARCHAR":    decodeString,
	"TEXT":       decodeString,
	"TINYTEXT":   decodeString,
	"MEDIUMTEXT": decodeString,
	"LONGTEXT":   decodeString,

	"BLOB":       decodeBytes,
	"TINYBLOB":   decodeBytes,
	"MEDIUMBLOB": decodeBytes,
	"LONGBLOB":   decodeBytes,
	"BINARY":     decodeBytes,
	"VARBINARY":  decodeBytes,

	"DATE":      decodeDate,
	"DATETIME":  decodeDateTime,
	"TIMESTAMP": decodeTimestamp,

	"JSON": decodeJSON,
}

// SQLite reports the declared column type, which is free-form; this table
// covers the storage classes plus the declared types the harness meets in
// practice. Expression columns report no type at all and fall back to the
// dynamic decoder below.
var sqliteDecode = map[string]decodeFunc{
	"INTEGER":  decodeInt,
	"INT":      decodeInt,
	"BIGINT":   decodeInt,
	"SMALLINT": decodeInt,
	"TINYINT":  decodeInt,

	"REAL":   decodeFloat,
	"FLOAT":  decodeFloat,
	"DOUBLE": decodeFloat,

	"NUMERIC": decodeDecimal,
	"DECIMAL": decodeDecimal,

	"BOOLEAN": decodeBool,
	"BOOL":    decodeBool,

	"TEXT":    decodeString,
	"CHAR":    decodeString,
	"VARCHAR": decodeString,
	"CLOB":    decodeString,

	"BLOB": decodeBytes,

	"DATE":      decodeDate,
	"DATETIME":  decodeDateTime,
	"TIMESTAMP": decodeTimestamp,

	"JSON": decodeJSON,
	"UUID": decodeUUID,
}

func decodeInt(raw any) Value {
	switch v := raw.(type) {
	case int64:
		return Int(v)
	case []byte:
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return Int(n)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Int(n)
		}
	}
	return Unsupported{}
}

func decodeFloat(raw any) Value {
	switch v := raw.(type) {
	case float64:
		return Float(v)
	case float32:
		return Float(v)
	case int64:
		return Float(v)
	case []byte:
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return Float(f)
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Float(f)
		}
	}
	return Unsupported{}
}

func decodeBool(raw any) Value {
	switch v := raw.(type) {
	case bool:
		return Bool(v)
	case int64:
		return Bool(v != 0)
	case []byte:
		// MySQL BIT(1) arrives as a single byte; textual protocols as "0"/"1".
		if len(v) == 1 && (v[0] == 0 || v[0] == 1) {
			return Bool(v[0] == 1)
		}
		if b, err := strconv.ParseBool(string(v)); err == nil {
			return Bool(b)
		}
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return Bool(b)
		}
	}
	return Unsupported{}
}

func decodeString(raw any) Value {
	switch v := raw.(type) {
	case string:
		return String(v)
	case []byte:
		return String(v)
	}
	return Unsupported{}
}

func decodeBytes(raw any) Value {
	switch v := raw.(type) {
	case []byte:
		// Copy: drivers may reuse the scan buffer between rows.
		return Bytes(bytes.Clone(v))
	case string:
		return Bytes([]byte(v))
	}
	return Unsupported{}
}

func decodeDecimal(raw any) Value {
	switch v := raw.(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return Decimal{d}
		}
	case []byte:
		if d, err := decimal.NewFromString(string(v)); err == nil {
			return Decimal{d}
		}
	case int64:
		return Decimal{decimal.NewFromInt(v)}
	case float64:
		return Decimal{decimal.NewFromFloat(v)}
	}
	return Unsupported{}
}

func decodeUUID(raw any) Value {
	switch v := raw.(type) {
	case string:
		if u, err := uuid.Parse(v); err == nil {
			return UUID(u)
		}
	case []byte:
		if len(v) == 16 {
			if u, err := uuid.FromBytes(v); err == nil {
				return UUID(u)
			}
		}
		if u, err := uuid.ParseBytes(v); err == nil {
			return UUID(u)
		}
	}
	return Unsupported{}
}

func decodeJSON(raw any) Value {
	var text []byte
	switch v := raw.(type) {
	case string:
		text = []byte(v)
	case []byte:
		text = v
	default:
		return Unsupported{}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, text); err != nil {
		return Unsupported{}
	}
	return JSON(buf.String())
}

// Layouts tried, in order, when a temporal column arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		return parseTimeText(v)
	case []byte:
		return parseTimeText(string(v))
	}
	return time.Time{}, false
}

func parseTimeText(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeDate(raw any) Value {
	if t, ok := parseTime(raw); ok {
		return Date(t)
	}
	return Unsupported{}
}

func decodeDateTime(raw any) Value {
	if t, ok := parseTime(raw); ok {
		return DateTime(t)
	}
	return Unsupported{}
}

func decodeTimestamp(raw any) Value {
	if t, ok := parseTime(raw); ok {
		return Timestamp(t)
	}
	return Unsupported{}
}

// decodeDynamic handles columns with no reported type name (SQLite
// expression results such as COUNT(*)). The raw driver value alone decides.
func decodeDynamic(raw any) Value {
	switch v := raw.(type) {
	case int64:
		return Int(v)
	case float64:
		return Float(v)
	case bool:
		return Bool(v)
	case string:
		return String(v)
	case []byte:
		return String(bytes.Clone(v))
	case time.Time:
		return DateTime(v)
	}
	return Unsupported{}
}
