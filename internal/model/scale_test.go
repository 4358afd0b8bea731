package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFitsScale(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"12", true},
		{"0.0001", true},
		{"2.50000", true},
		{"-3.1234", true},
		{"0.00005", false},
		{"0.00004", false},
		{"49.142857", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FitsScale(decimal.RequireFromString(tt.in), QuantityScale))
		})
	}
}
