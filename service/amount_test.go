package service

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	cases := map[string]string{
		"1":                    "1000000000000000000",
		"0.01":                 "10000000000000000",
		"0.0025":               "2500000000000000",
		"0.000000000000000001": "1",
		"12.5":                 "12500000000000000000",
	}
	for in, want := range cases {
		amount, err := ParseAmount(in)
		require.NoError(t, err, in)
		wei, err := ToWei(amount)
		require.NoError(t, err, in)
		assert.Equal(t, want, wei.String(), in)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "0", "0.0", "-0.5", "1e", "abc"} {
		_, err := ParseAmount(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, "%q", in)
	}
}

func TestFromWei(t *testing.T) {
	wei, _ := new(big.Int).SetString("2500000000000000", 10)
	assert.Equal(t, "0.0025", FromWei(wei).String())
}
