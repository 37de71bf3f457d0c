package database

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gopkg.in/inf.v0"
)

func TestToCQLDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9.99", "9.99"},
		{"29.97", "29.97"},
		{"0", "0"},
		{"1200", "1200"},
		{"0.000001", "0.000001"},
		{"123456789012345678901234567890.123", "123456789012345678901234567890.123"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := decimal.RequireFromString(tt.in)
			got := ToCQLDecimal(d)
			assert.Equal(t, tt.want, got.String())

			back := FromCQLDecimal(got)
			assert.True(t, back.Equal(d), "round trip %s -> %s", d, back)
		})
	}
}

func TestFromCQLDecimalNil(t *testing.T) {
	assert.True(t, FromCQLDecimal(nil).IsZero())
}

func TestFromCQLDecimalScale(t *testing.T) {
	// 2997 * 10^-2
	d := inf.NewDec(2997, 2)
	assert.Equal(t, "29.97", FromCQLDecimal(d).String())
}

func TestToCQLDecimalDoesNotAlias(t *testing.T) {
	d := decimal.RequireFromString("9.99")
	c := ToCQLDecimal(d)
	c.SetUnscaled(1)
	assert.Equal(t, "9.99", d.String())
}
