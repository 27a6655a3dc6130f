package gateway

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValueString(t *testing.T) {
	id := uuid.MustParse("0195a2b4-1111-7222-8333-444455556666")
	dec := decimal.RequireFromString("12.340")
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	dt := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	ts := time.Date(2024, 3, 15, 10, 30, 0, 123000000, time.UTC)

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"int", Int(42), "42"},
		{"negative int", Int(-7), "-7"},
		{"float", Float(3.14), "3.14"},
		{"float integral", Float(2), "2"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"string", String("hello"), "hello"},
		{"empty string", String(""), ""},
		{"decimal keeps scale", Decimal{dec}, "12.340"},
		{"uuid", UUID(id), "0195a2b4-1111-7222-8333-444455556666"},
		{"json", JSON(`{"a":1}`), `{"a":1}`},
		{"date", Date(date), "2024-03-15"},
		{"datetime", DateTime(dt), "2024-03-15 10:30:00"},
		{"timestamp", Timestamp(ts), "2024-03-15 10:30:00.123 +0000 UTC"},
		{"null", Null{}, "null"},
		{"unsupported", Unsupported{}, "<unsupported>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.String())
		})
	}
}

func TestTimestampRendersInUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	ts := Timestamp(time.Date(2024, 3, 15, 11, 30, 0, 0, zone))
	assert.Equal(t, "2024-03-15 10:30:00 +0000 UTC", ts.String())
}

func TestRowFirst(t *testing.T) {
	assert.Equal(t, "42", Row{Int(42), String("x")}.First())
	assert.Equal(t, "", Row{}.First())
	assert.Equal(t, "null", Row{Null{}}.First())
}

func TestRowCSV(t *testing.T) {
	r := Row{Int(1), String("a"), Bool(true)}
	assert.Equal(t, "1,a,true", r.CSV())
}
